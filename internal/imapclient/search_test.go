package imapclient

import (
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
)

func isAllCriteria(c *imap.SearchCriteria) bool {
	return c.Since.IsZero() && c.SentSince.IsZero() && c.Before.IsZero() && c.SentBefore.IsZero() &&
		len(c.Header) == 0 && len(c.Body) == 0 && len(c.Text) == 0 &&
		len(c.Flag) == 0 && len(c.NotFlag) == 0 &&
		c.Larger == 0 && c.Smaller == 0 &&
		len(c.Or) == 0 && len(c.Not) == 0
}

func TestParseSearchQueryAll(t *testing.T) {
	for _, q := range []string{"", "ALL", "all"} {
		got := ParseSearchQuery(q)
		if !isAllCriteria(got) {
			t.Fatalf("ParseSearchQuery(%q) = %+v, want empty criteria", q, got)
		}
	}
}

func TestParseSearchQueryDateKeys(t *testing.T) {
	want := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)

	got := ParseSearchQuery("SINCE 15-Jan-2026")
	if !got.Since.Equal(want) {
		t.Fatalf("Since = %v, want %v", got.Since, want)
	}

	got = ParseSearchQuery("BEFORE 15-Jan-2026")
	if !got.Before.Equal(want) {
		t.Fatalf("Before = %v, want %v", got.Before, want)
	}

	got = ParseSearchQuery("SENTSINCE 15-Jan-2026")
	if !got.SentSince.Equal(want) {
		t.Fatalf("SentSince = %v, want %v", got.SentSince, want)
	}

	got = ParseSearchQuery("SENTBEFORE 15-Jan-2026")
	if !got.SentBefore.Equal(want) {
		t.Fatalf("SentBefore = %v, want %v", got.SentBefore, want)
	}
}

func TestParseSearchQueryInvalidDateFallsBackToAll(t *testing.T) {
	got := ParseSearchQuery("SINCE not-a-date")
	if !isAllCriteria(got) {
		t.Fatalf("expected fallback to empty criteria, got %+v", got)
	}
}

func TestParseSearchQueryMissingDateArgFallsBackToAll(t *testing.T) {
	got := ParseSearchQuery("SINCE")
	if !isAllCriteria(got) {
		t.Fatalf("expected fallback to empty criteria, got %+v", got)
	}
}

func TestParseSearchQueryHeaderFields(t *testing.T) {
	got := ParseSearchQuery(`FROM alice@example.com SUBJECT "invoice 2026"`)
	want := []imap.SearchCriteriaHeaderField{
		{Key: "FROM", Value: "alice@example.com"},
		{Key: "SUBJECT", Value: "invoice 2026"},
	}
	if len(got.Header) != len(want) {
		t.Fatalf("Header = %+v, want %+v", got.Header, want)
	}
	for i := range want {
		if got.Header[i] != want[i] {
			t.Fatalf("Header[%d] = %+v, want %+v", i, got.Header[i], want[i])
		}
	}
}

func TestParseSearchQueryToCCBCC(t *testing.T) {
	got := ParseSearchQuery("TO bob@example.com CC carol@example.com BCC dave@example.com")
	want := []imap.SearchCriteriaHeaderField{
		{Key: "TO", Value: "bob@example.com"},
		{Key: "CC", Value: "carol@example.com"},
		{Key: "BCC", Value: "dave@example.com"},
	}
	if len(got.Header) != len(want) {
		t.Fatalf("Header = %+v, want %+v", got.Header, want)
	}
	for i := range want {
		if got.Header[i] != want[i] {
			t.Fatalf("Header[%d] = %+v, want %+v", i, got.Header[i], want[i])
		}
	}
}

func TestParseSearchQueryBodyAndText(t *testing.T) {
	got := ParseSearchQuery(`BODY invoice TEXT "quarterly report"`)
	if len(got.Body) != 1 || got.Body[0] != "invoice" {
		t.Fatalf("Body = %+v", got.Body)
	}
	if len(got.Text) != 1 || got.Text[0] != "quarterly report" {
		t.Fatalf("Text = %+v", got.Text)
	}
}

func TestParseSearchQueryLargerSmaller(t *testing.T) {
	got := ParseSearchQuery("LARGER 1000 SMALLER 5000")
	if got.Larger != 1000 {
		t.Fatalf("Larger = %d, want 1000", got.Larger)
	}
	if got.Smaller != 5000 {
		t.Fatalf("Smaller = %d, want 5000", got.Smaller)
	}
}

func TestParseSearchQueryLargerInvalidFallsBackToAll(t *testing.T) {
	got := ParseSearchQuery("LARGER notanumber")
	if !isAllCriteria(got) {
		t.Fatalf("expected fallback to empty criteria, got %+v", got)
	}
}

func TestParseSearchQueryFlagKeywords(t *testing.T) {
	got := ParseSearchQuery("SEEN FLAGGED")
	if len(got.Flag) != 2 || got.Flag[0] != imap.FlagSeen || got.Flag[1] != imap.FlagFlagged {
		t.Fatalf("Flag = %+v", got.Flag)
	}

	got = ParseSearchQuery("UNSEEN UNANSWERED UNFLAGGED UNDELETED UNDRAFT")
	want := []imap.Flag{imap.FlagSeen, imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagDraft}
	if len(got.NotFlag) != len(want) {
		t.Fatalf("NotFlag = %+v, want %+v", got.NotFlag, want)
	}
	for i := range want {
		if got.NotFlag[i] != want[i] {
			t.Fatalf("NotFlag[%d] = %v, want %v", i, got.NotFlag[i], want[i])
		}
	}

	got = ParseSearchQuery("ANSWERED DRAFT DELETED")
	want = []imap.Flag{imap.FlagAnswered, imap.FlagDraft, imap.FlagDeleted}
	if len(got.Flag) != len(want) {
		t.Fatalf("Flag = %+v, want %+v", got.Flag, want)
	}
	for i := range want {
		if got.Flag[i] != want[i] {
			t.Fatalf("Flag[%d] = %v, want %v", i, got.Flag[i], want[i])
		}
	}
}

func TestParseSearchQueryUnrecognizedKeyFallsBackToAll(t *testing.T) {
	got := ParseSearchQuery("BOGUSKEY value")
	if !isAllCriteria(got) {
		t.Fatalf("expected fallback to empty criteria, got %+v", got)
	}
}

func TestParseSearchQueryUnbalancedQuotesFallsBackToAll(t *testing.T) {
	got := ParseSearchQuery(`SUBJECT "unterminated`)
	if !isAllCriteria(got) {
		t.Fatalf("expected fallback to empty criteria, got %+v", got)
	}
}

func TestShellSplit(t *testing.T) {
	tokens, ok := shellSplit(`FROM alice@example.com SUBJECT "invoice 2026"`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := []string{"FROM", "alice@example.com", "SUBJECT", "invoice 2026"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %+v, want %+v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}

	if _, ok := shellSplit(`SUBJECT "unterminated`); ok {
		t.Fatal("expected not ok for unbalanced quote")
	}
}
