package imapclient

import (
	"strconv"
	"strings"
	"time"

	imap "github.com/emersion/go-imap/v2"
)

// imapDateLayout is the date format IMAP SEARCH keys such as SINCE and
// BEFORE use (RFC 3501 date, e.g. "02-Jan-2006").
const imapDateLayout = "02-Jan-2006"

// ParseSearchQuery turns a user-supplied search query string into a
// structured UID SEARCH criteria. The grammar is a small, shell-quoted
// subset of RFC 3501 SEARCH keys: ALL, SINCE/BEFORE/SENTSINCE/SENTBEFORE
// <date>, FROM/TO/CC/BCC/SUBJECT <value>, BODY/TEXT <value>,
// LARGER/SMALLER <n>, and the bare flag keys SEEN/UNSEEN/ANSWERED/
// UNANSWERED/FLAGGED/UNFLAGGED/DELETED/UNDELETED/DRAFT/UNDRAFT. Keys
// combine with implicit AND, matching IMAP SEARCH semantics. An empty,
// ALL-only, or unparseable query returns an empty criteria, which
// go-imap's UIDSearch treats as "match every message in the mailbox".
func ParseSearchQuery(query string) *imap.SearchCriteria {
	tokens, ok := shellSplit(strings.TrimSpace(query))
	if !ok {
		return &imap.SearchCriteria{}
	}

	var criteria imap.SearchCriteria
	for i := 0; i < len(tokens); i++ {
		key := strings.ToUpper(tokens[i])
		switch key {
		case "", "ALL":
			continue
		case "SEEN":
			criteria.Flag = append(criteria.Flag, imap.FlagSeen)
		case "UNSEEN":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
		case "ANSWERED":
			criteria.Flag = append(criteria.Flag, imap.FlagAnswered)
		case "UNANSWERED":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagAnswered)
		case "FLAGGED":
			criteria.Flag = append(criteria.Flag, imap.FlagFlagged)
		case "UNFLAGGED":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagFlagged)
		case "DELETED":
			criteria.Flag = append(criteria.Flag, imap.FlagDeleted)
		case "UNDELETED":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagDeleted)
		case "DRAFT":
			criteria.Flag = append(criteria.Flag, imap.FlagDraft)
		case "UNDRAFT":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagDraft)
		case "SINCE", "BEFORE", "SENTSINCE", "SENTBEFORE":
			if i+1 >= len(tokens) {
				return &imap.SearchCriteria{}
			}
			t, err := time.Parse(imapDateLayout, tokens[i+1])
			if err != nil {
				return &imap.SearchCriteria{}
			}
			i++
			switch key {
			case "SINCE":
				criteria.Since = t
			case "BEFORE":
				criteria.Before = t
			case "SENTSINCE":
				criteria.SentSince = t
			case "SENTBEFORE":
				criteria.SentBefore = t
			}
		case "FROM", "TO", "CC", "BCC", "SUBJECT":
			if i+1 >= len(tokens) {
				return &imap.SearchCriteria{}
			}
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: key, Value: tokens[i+1]})
			i++
		case "BODY":
			if i+1 >= len(tokens) {
				return &imap.SearchCriteria{}
			}
			criteria.Body = append(criteria.Body, tokens[i+1])
			i++
		case "TEXT":
			if i+1 >= len(tokens) {
				return &imap.SearchCriteria{}
			}
			criteria.Text = append(criteria.Text, tokens[i+1])
			i++
		case "LARGER", "SMALLER":
			if i+1 >= len(tokens) {
				return &imap.SearchCriteria{}
			}
			n, err := strconv.ParseInt(tokens[i+1], 10, 64)
			if err != nil {
				return &imap.SearchCriteria{}
			}
			i++
			if key == "LARGER" {
				criteria.Larger = n
			} else {
				criteria.Smaller = n
			}
		default:
			// Unrecognized key: fall back to matching everything rather
			// than silently dropping part of the configured query.
			return &imap.SearchCriteria{}
		}
	}
	return &criteria
}

// shellSplit performs a minimal, shlex-like split: whitespace separates
// tokens except inside single or double quotes, and a backslash escapes
// the next character outside single quotes. ok is false for unbalanced
// quoting.
func shellSplit(s string) (tokens []string, ok bool) {
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			if quote == '"' && r == '\\' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, false
	}
	flush()
	return tokens, true
}
