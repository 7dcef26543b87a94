// Package ledger is the durable, restartable state store for the
// migration pipeline: one row per (folder, uid, uidvalidity) tracking
// how far that message has progressed, plus one row per folder tracking
// the UID checkpoint to resume from.
//
// It is backed by SQLite in WAL mode with synchronous=NORMAL, the same
// durability/performance tradeoff the teacher archive tool uses for its
// own message store.
package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

const schemaVersion = 1

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"

// Ledger provides durable state operations for the migration pipeline.
type Ledger struct {
	db   *sql.DB
	path string
}

// isSQLiteError reports whether err is a sqlite3.Error (by value or
// pointer) whose message contains substr.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the ledger database at path, creating parent
// directories as needed.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; SQLite serializes writes anyway

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping database: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error { return l.db.Close() }

// Path returns the on-disk path of the ledger database.
func (l *Ledger) Path() string { return l.path }

// InitSchema creates the folders/messages tables and indexes if absent,
// and records the schema version via PRAGMA user_version.
func (l *Ledger) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("ledger: read embedded schema: %w", err)
	}
	if _, err := l.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}

	var version int
	if err := l.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("ledger: read user_version: %w", err)
	}
	if version == 0 {
		if _, err := l.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
			return fmt.Errorf("ledger: set user_version: %w", err)
		}
	} else if version > schemaVersion {
		return fmt.Errorf("ledger: database schema version %d is newer than this binary supports (%d)", version, schemaVersion)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Folder is a row of the folders table: per-mailbox checkpoint state.
type Folder struct {
	Name        string
	UIDValidity *uint32
	LastUIDSeen *uint32
	CreatedAt   string
	UpdatedAt   string
}

// UpsertFolder creates a folder row if absent, or updates its
// uidvalidity if it changed (a changed UIDVALIDITY invalidates any
// previous last_uid_seen checkpoint, per IMAP semantics).
func (l *Ledger) UpsertFolder(name string, uidvalidity uint32) error {
	now := nowUTC()
	_, err := l.db.Exec(`
		INSERT INTO folders (name, uidvalidity, last_uid_seen, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			uidvalidity = excluded.uidvalidity,
			last_uid_seen = CASE WHEN folders.uidvalidity IS NOT excluded.uidvalidity THEN NULL ELSE folders.last_uid_seen END,
			updated_at = excluded.updated_at
	`, name, uidvalidity, now, now)
	if err != nil {
		return fmt.Errorf("ledger: upsert folder %q: %w", name, err)
	}
	return nil
}

// GetFolder returns the folder row for name, or nil if it does not
// exist yet.
func (l *Ledger) GetFolder(name string) (*Folder, error) {
	var f Folder
	var uidvalidity, lastUID sql.NullInt64
	err := l.db.QueryRow(`
		SELECT name, uidvalidity, last_uid_seen, created_at, updated_at
		FROM folders WHERE name = ?
	`, name).Scan(&f.Name, &uidvalidity, &lastUID, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get folder %q: %w", name, err)
	}
	if uidvalidity.Valid {
		v := uint32(uidvalidity.Int64)
		f.UIDValidity = &v
	}
	if lastUID.Valid {
		v := uint32(lastUID.Int64)
		f.LastUIDSeen = &v
	}
	return &f, nil
}

// UpdateFolderCheckpoint advances last_uid_seen for a folder. Callers
// must only call this with the maximum UID of a fully-processed batch,
// never a partially-processed one.
func (l *Ledger) UpdateFolderCheckpoint(name string, lastUIDSeen uint32) error {
	res, err := l.db.Exec(`
		UPDATE folders SET last_uid_seen = ?, updated_at = ? WHERE name = ?
	`, lastUIDSeen, nowUTC(), name)
	if err != nil {
		return fmt.Errorf("ledger: update checkpoint for %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: update checkpoint: folder %q not found", name)
	}
	return nil
}
