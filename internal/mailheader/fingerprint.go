package mailheader

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint computes a stable content fingerprint for a raw message.
// It is the SHA-256 hex digest of a canonical header summary followed by
// a newline and the first bodyPrefixBytes bytes of the message body.
//
// The canonical header summary joins, with "\n":
//   - the Date header, normalized to UTC RFC3339 if it parsed, else raw
//   - From
//   - To
//   - Subject
//   - the decimal length of the raw message
//
// This mirrors the original tool's fingerprint so two fetches of the
// same message (even across folders, where UID/UIDVALIDITY differ)
// produce the same fingerprint.
func Fingerprint(raw []byte, bodyPrefixBytes int) string {
	h := Parse(raw)

	parts := []string{
		h.normalizedDate(),
		h.From,
		h.To,
		h.Subject,
		strconv.Itoa(len(raw)),
	}
	joined := strings.Join(parts, "\n")

	sum := sha256.New()
	sum.Write([]byte(joined))
	sum.Write([]byte("\n"))
	sum.Write(BodyPrefix(raw, bodyPrefixBytes))
	return hex.EncodeToString(sum.Sum(nil))
}

// Sha256Hex returns the SHA-256 hex digest of data. Used for evidence
// file integrity checks, where the hash covers the exact bytes on disk.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
