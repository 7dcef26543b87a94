// Package sink defines the adapter surface between the migration
// pipeline and whatever mailbox it ingests messages into. The pipeline
// never couples to a vendor SDK directly: it holds a SinkClient and a
// CredentialProvider, both interfaces, so tests can substitute an
// in-memory double. The concrete Gmail implementation lives in this
// package too (client.go), built the same way the teacher's Gmail API
// client is: raw net/http with a bearer token from the CredentialProvider, with its own
// retry/backoff and token-bucket rate limiting.
package sink

import (
	"context"
	"fmt"
)

// Mode selects which Gmail endpoint an ingest call uses.
type Mode string

const (
	ModeImport Mode = "import"
	ModeInsert Mode = "insert"
)

// InternalDateSource selects how the sink picks the message's internal
// (received) date.
type InternalDateSource string

const (
	InternalDateSourceDateHeader InternalDateSource = "dateHeader"
	InternalDateSourceReceivedTime InternalDateSource = "receivedTime"
)

// IngestResult is returned by a successful SinkClient.Import call.
type IngestResult struct {
	MessageID     string
	ThreadID      string
	AppliedLabels []string
}

// IngestError indicates the sink rejected a message or returned a
// response this tool cannot interpret. After retries are exhausted, the
// orchestrator marks the ledger row failed with this error's text.
type IngestError struct {
	Endpoint string
	Detail   string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("sink ingest via %s failed: %s", e.Endpoint, e.Detail)
}

// CredentialProvider returns an authenticated session for the sink.
// OAuth acquisition details live behind this interface; sinkauth
// provides the concrete Gmail desktop-app implementation.
type CredentialProvider interface {
	// Token returns a valid access token, refreshing if necessary.
	Token(ctx context.Context) (string, error)
	// Identity returns the authenticated account's email address, used
	// by the sink-auth command to confirm the right account was chosen.
	Identity(ctx context.Context) (string, error)
}

// SinkClient is the narrow interface the orchestrator drives. A
// message is always uploaded from the evidence store path already
// written to disk — the sink never sees in-memory bytes, so retries
// re-read the same immutable file.
type SinkClient interface {
	// Import uploads the .eml at emlPath, applying labelIDs (may be
	// empty), via the endpoint selected by mode and the internal-date
	// source configured on the client.
	Import(ctx context.Context, emlPath string, labelIDs []string, mode Mode) (IngestResult, error)

	// EnsureLabel returns the id for name, creating the label at the
	// sink if it does not already exist.
	EnsureLabel(ctx context.Context, name string) (string, error)

	// Identity returns the authenticated account's email address.
	Identity(ctx context.Context) (string, error)

	// Close releases any resources the client holds.
	Close() error
}
