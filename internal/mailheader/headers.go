// Package mailheader parses the minimal set of message headers the
// migration pipeline needs for identity and filtering decisions, and
// fingerprints a message for cross-mailbox duplicate detection.
//
// Header decoding (RFC 2047 encoded-words) is delegated to
// github.com/emersion/go-message, which is already part of this module's
// ecosystem stack; address-list extraction and Message-ID normalization
// are hand-rolled to match this tool's exact grammar rather than a
// library's own normalization choices.
package mailheader

import (
	"bytes"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/emersion/go-message"
)

// Headers holds the subset of an email message's header fields the
// pipeline needs. Values are RFC 2047 decoded on a best-effort basis:
// if decoding fails, the raw header value is kept unchanged.
type Headers struct {
	DateRaw     string
	Date        time.Time
	DateValid   bool
	From        string
	To          string
	Cc          string
	Bcc         string
	DeliveredTo string
	XOriginalTo string
	EnvelopeTo  string
	Subject     string
	MessageID   string
}

// headerFields lists the headers Parse extracts, in the order they are
// looked up. Unknown/absent headers are left as the zero value.
var headerFields = []string{
	"Date", "From", "To", "Cc", "Bcc",
	"Delivered-To", "X-Original-To", "Envelope-To",
	"Subject", "Message-Id",
}

// Parse extracts minimal headers from a raw RFC 5322 message. It never
// fails on malformed input; parsing errors downgrade to best-effort zero
// values for the affected fields so callers can still fingerprint and
// filter messages that have slightly broken headers.
func Parse(raw []byte) Headers {
	var h Headers

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil || entity == nil {
		return h
	}
	hdr := entity.Header

	get := func(key string) string {
		if v, err := hdr.Text(key); err == nil {
			return v
		}
		return hdr.Get(key)
	}

	h.DateRaw = strings.TrimSpace(hdr.Get("Date"))
	if t, err := hdr.Date(); err == nil {
		h.Date = t
		h.DateValid = true
	}
	h.From = get("From")
	h.To = get("To")
	h.Cc = get("Cc")
	h.Bcc = get("Bcc")
	h.DeliveredTo = get("Delivered-To")
	h.XOriginalTo = get("X-Original-To")
	h.EnvelopeTo = get("Envelope-To")
	h.Subject = get("Subject")
	h.MessageID = strings.TrimSpace(hdr.Get("Message-Id"))

	return h
}

// normalizedDate returns the value used for fingerprinting's date
// component: the parsed date in UTC RFC3339 form when the Date header
// parsed cleanly, or the raw header text otherwise.
func (h Headers) normalizedDate() string {
	if h.DateValid {
		return h.Date.UTC().Format(time.RFC3339)
	}
	return h.DateRaw
}

// addrListRe extracts angle-bracketed addr-specs or bare, unbracketed
// addr-specs from a comma-separated address header value. It mirrors
// Python's email.utils.getaddresses closely enough for this tool's
// purposes: recover the addr-spec, ignore display names.
var addrListRe = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>|([^\s,<>]+@[^\s,<>]+)`)

// ExtractAddresses returns the lowercased addr-specs found in a
// (possibly multi-value, comma-joined) address header value. Display
// names and other decoration are discarded.
func ExtractAddresses(headerValue string) []string {
	if strings.TrimSpace(headerValue) == "" {
		return nil
	}
	matches := addrListRe.FindAllStringSubmatch(headerValue, -1)
	addrs := make([]string, 0, len(matches))
	for _, m := range matches {
		addr := m[1]
		if addr == "" {
			addr = m[2]
		}
		addr = strings.Trim(addr, ".,;:")
		if addr == "" {
			continue
		}
		addrs = append(addrs, strings.ToLower(addr))
	}
	return addrs
}

// NormalizeMessageID canonicalizes a Message-ID header value: truncate at
// the first whitespace run (guards against header-folding artifacts and
// trailing garbage), strip one pair of surrounding angle brackets,
// lowercase, and rewrap in angle brackets. An empty input normalizes to
// an empty string.
func NormalizeMessageID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexFunc(raw, unicode.IsSpace); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")
	raw = strings.ToLower(raw)
	if raw == "" {
		return ""
	}
	return "<" + raw + ">"
}

// blankLineRe matches the first header/body separator, tolerating both
// bare LF and CRLF line endings (messages fetched from different IMAP
// servers are not consistent about this).
var blankLineRe = regexp.MustCompile(`\r?\n\r?\n`)

// BodyPrefix returns the first n bytes of the message body (the content
// following the first blank line that separates headers from body). If
// no blank line is found, the whole message is treated as body. If the
// body is shorter than n bytes, the whole body is returned.
func BodyPrefix(raw []byte, n int) []byte {
	loc := blankLineRe.FindIndex(raw)
	body := raw
	if loc != nil {
		body = raw[loc[1]:]
	}
	if n < 0 {
		n = 0
	}
	if len(body) > n {
		return body[:n]
	}
	return body
}

// AddressFilter restricts which messages are migrated based on whether
// any of a configured set of target addresses appears in the message's
// sender and/or recipient headers.
type AddressFilter struct {
	Targets           map[string]struct{}
	IncludeSender     bool
	IncludeRecipients bool
}

// NewAddressFilter builds an AddressFilter from a list of target
// addresses (lowercased and deduplicated internally).
func NewAddressFilter(targets []string, includeSender, includeRecipients bool) AddressFilter {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return AddressFilter{Targets: set, IncludeSender: includeSender, IncludeRecipients: includeRecipients}
}

// Matches reports whether h should be included under this filter. An
// empty target set matches everything (the filter is a no-op).
func (f AddressFilter) Matches(h Headers) bool {
	if len(f.Targets) == 0 {
		return true
	}

	var addrs []string
	if f.IncludeSender {
		addrs = append(addrs, ExtractAddresses(h.From)...)
	}
	if f.IncludeRecipients {
		for _, v := range []string{h.To, h.Cc, h.Bcc, h.DeliveredTo, h.XOriginalTo, h.EnvelopeTo} {
			addrs = append(addrs, ExtractAddresses(v)...)
		}
	}

	for _, a := range addrs {
		if _, ok := f.Targets[a]; ok {
			return true
		}
	}
	return false
}
