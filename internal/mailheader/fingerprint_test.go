package mailheader

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	raw := []byte("Date: Mon, 1 Jan 2024 10:00:00 +0000\r\nFrom: a@b.com\r\nTo: c@d.com\r\nSubject: hi\r\n\r\nbody text here")

	f1 := Fingerprint(raw, 32)
	f2 := Fingerprint(append([]byte(nil), raw...), 32)
	if f1 != f2 {
		t.Fatalf("fingerprint not deterministic: %s != %s", f1, f2)
	}
	if len(f1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(f1))
	}
}

func TestFingerprintDiffersOnBodyChange(t *testing.T) {
	base := "Date: Mon, 1 Jan 2024 10:00:00 +0000\r\nFrom: a@b.com\r\nTo: c@d.com\r\nSubject: hi\r\n\r\n"
	f1 := Fingerprint([]byte(base+"body one"), 32)
	f2 := Fingerprint([]byte(base+"body two"), 32)
	if f1 == f2 {
		t.Fatal("expected different fingerprints for different bodies")
	}
}

func TestFingerprintSameAcrossFolders(t *testing.T) {
	// Same message content fetched from two different mailboxes (so UID/
	// UIDVALIDITY would differ) must fingerprint identically.
	raw := []byte("Date: Tue, 2 Jan 2024 08:00:00 -0500\r\nFrom: x@y.com\r\nTo: z@y.com\r\nSubject: dup\r\n\r\nidentical body")
	if Fingerprint(raw, 16) != Fingerprint(raw, 16) {
		t.Fatal("fingerprint should be independent of folder/UID context")
	}
}
