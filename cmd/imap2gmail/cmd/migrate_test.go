package cmd

import (
	"testing"

	"github.com/mailkeep/imap2gmail/internal/sink"
)

func TestSinkModeDefaultsToImport(t *testing.T) {
	if got := sinkMode(""); got != sink.ModeImport {
		t.Fatalf("sinkMode(\"\") = %v, want %v", got, sink.ModeImport)
	}
	if got := sinkMode("insert"); got != sink.ModeInsert {
		t.Fatalf("sinkMode(\"insert\") = %v, want %v", got, sink.ModeInsert)
	}
}

func TestInternalDateSourceDefaultsToDateHeader(t *testing.T) {
	if got := internalDateSource(""); got != sink.InternalDateSourceDateHeader {
		t.Fatalf("internalDateSource(\"\") = %v, want %v", got, sink.InternalDateSourceDateHeader)
	}
	if got := internalDateSource("receivedTime"); got != sink.InternalDateSourceReceivedTime {
		t.Fatalf("internalDateSource(\"receivedTime\") = %v, want %v", got, sink.InternalDateSourceReceivedTime)
	}
}
