package evidence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteThenVerify(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	res, err := s.Write("INBOX", 1001, 42, []byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.AlreadyPresent {
		t.Fatal("expected fresh write, not AlreadyPresent")
	}

	info, err := os.Stat(res.Path)
	if err != nil {
		t.Fatalf("stat written file: %v", err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Fatalf("expected mode 0444, got %v", info.Mode().Perm())
	}

	ok, err := VerifyFile(res.Path, res.Sha256Hex)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if !ok {
		t.Fatal("expected verification to succeed")
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	raw := []byte("same content")
	first, err := s.Write("Sent Messages", 0, 7, raw)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}

	second, err := s.Write("Sent Messages", 0, 7, raw)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if !second.AlreadyPresent {
		t.Fatal("expected second identical write to report AlreadyPresent")
	}
	if second.Sha256Hex != first.Sha256Hex {
		t.Fatal("hash should be stable across idempotent writes")
	}
}

func TestWriteDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if _, err := s.Write("INBOX", 1, 1, []byte("version one")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	_, err := s.Write("INBOX", 1, 1, []byte("version two, different bytes"))
	if err == nil {
		t.Fatal("expected MismatchError")
	}
	var mm *MismatchError
	if !errorsAs(err, &mm) {
		t.Fatalf("expected *MismatchError, got %T: %v", err, err)
	}
}

func errorsAs(err error, target **MismatchError) bool {
	if mm, ok := err.(*MismatchError); ok {
		*target = mm
		return true
	}
	return false
}

func TestSafeFolderNameSanitizes(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := s.Path("INBOX/Sub Folder!@#", 5, 9)
	if filepath.Dir(path) == dir {
		t.Fatalf("expected a sanitized subdirectory, got path directly under root: %s", path)
	}
	if filepath.Base(path) != "5-9.eml" {
		t.Fatalf("expected file name 5-9.eml, got %s", filepath.Base(path))
	}
}

func TestPathUnknownUidvalidity(t *testing.T) {
	s := New(t.TempDir())
	path := s.Path("INBOX", 0, 3)
	if filepath.Base(path) != "0-3.eml" {
		t.Fatalf("expected 0-3.eml for unknown uidvalidity, got %s", filepath.Base(path))
	}
}
