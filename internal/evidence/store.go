// Package evidence implements the content-addressed, immutable .eml
// archive the migration pipeline writes as it downloads messages. Once
// written, a file is never modified: a later write for the same
// (folder, uid, uidvalidity) either matches the existing bytes (success,
// no-op) or is treated as a fatal mismatch for that message.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mailkeep/imap2gmail/internal/fileutil"
	"github.com/mailkeep/imap2gmail/internal/mailheader"
)

// MismatchError is returned when a file already exists at the expected
// evidence path but its contents do not match the bytes being written.
// This is fatal for the message in question (not for the run): the
// orchestrator must not overwrite pre-existing evidence silently.
type MismatchError struct {
	Path         string
	ExistingHash string
	NewHash      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("evidence mismatch at %s: existing sha256 %s != new sha256 %s",
		e.Path, e.ExistingHash, e.NewHash)
}

// WriteResult describes the outcome of a successful Write.
type WriteResult struct {
	Path      string
	Sha256Hex string
	Size      int64
	// AlreadyPresent is true when the file already existed on disk with
	// matching content (the write was a verified no-op).
	AlreadyPresent bool
}

// Store writes and verifies immutable .eml evidence files under a root
// directory, one subdirectory per (sanitized) source folder name.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is not created until
// the first write to it (Write creates parents as needed).
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the root directory this store writes under.
func (s *Store) Root() string { return s.root }

// unsafeNameChars matches anything that is not a path-safe character for
// a folder component: letters, digits, dot, underscore, hyphen.
var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeFolderName sanitizes an IMAP mailbox name into a filesystem-safe
// directory component: path separators become underscores, any
// remaining characters outside [A-Za-z0-9._-] are collapsed to a single
// underscore, and an empty result falls back to "_".
func safeFolderName(folder string) string {
	name := strings.ReplaceAll(folder, "/", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "_"
	}
	return name
}

// Path returns the evidence file path for a given folder/uidvalidity/uid,
// without creating anything on disk. uidvalidity of 0 means "unknown".
func (s *Store) Path(folder string, uidvalidity, uid uint32) string {
	dir := filepath.Join(s.root, safeFolderName(folder))
	file := fmt.Sprintf("%d-%d.eml", uidvalidity, uid)
	return filepath.Join(dir, file)
}

// Write persists raw as the immutable evidence file for (folder,
// uidvalidity, uid).
//
// Protocol:
//   - if a file already exists at the target path, it is re-hashed; a
//     matching hash returns WriteResult{AlreadyPresent: true} (the write
//     is idempotent), a mismatch returns *MismatchError.
//   - otherwise, raw is written to a temp file in the same directory,
//     flushed and fsynced, atomically renamed into place, the containing
//     directory is fsynced, and the final file is chmod'd to 0o444
//     (read-only). The temp file is best-effort removed on any error
//     path before the rename succeeds.
func (s *Store) Write(folder string, uidvalidity, uid uint32, raw []byte) (WriteResult, error) {
	path := s.Path(folder, uidvalidity, uid)
	dir := filepath.Dir(path)

	newHash := mailheader.Sha256Hex(raw)

	if existing, err := os.ReadFile(path); err == nil {
		existingHash := mailheader.Sha256Hex(existing)
		if existingHash == newHash {
			return WriteResult{Path: path, Sha256Hex: newHash, Size: int64(len(raw)), AlreadyPresent: true}, nil
		}
		return WriteResult{}, &MismatchError{Path: path, ExistingHash: existingHash, NewHash: newHash}
	} else if !errors.Is(err, os.ErrNotExist) {
		return WriteResult{}, fmt.Errorf("evidence: stat existing file: %w", err)
	}

	if err := fileutil.SecureMkdirAll(dir, 0o700); err != nil {
		return WriteResult{}, fmt.Errorf("evidence: create folder dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".evidence-*.tmp")
	if err != nil {
		return WriteResult{}, fmt.Errorf("evidence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return WriteResult{}, fmt.Errorf("evidence: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return WriteResult{}, fmt.Errorf("evidence: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return WriteResult{}, fmt.Errorf("evidence: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return WriteResult{}, fmt.Errorf("evidence: rename into place: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}

	if err := fileutil.SecureChmod(path, 0o444); err != nil {
		return WriteResult{}, fmt.Errorf("evidence: chmod read-only: %w", err)
	}

	return WriteResult{Path: path, Sha256Hex: newHash, Size: int64(len(raw))}, nil
}

// VerifyFile re-hashes the file at path and reports whether it matches
// wantSha256Hex. A missing file is reported as a mismatch, not an error,
// so callers (verify/report commands) can tally it alongside hash
// mismatches.
func VerifyFile(path, wantSha256Hex string) (matches bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("evidence: read file for verification: %w", err)
	}
	return mailheader.Sha256Hex(data) == wantSha256Hex, nil
}
