// Package progress displays live migration progress: an overall bar
// and one bar per mailbox currently being scanned, the Go analogue of
// the original tool's rich.Progress display. On a non-interactive
// output (piped to a file, running under CI) it falls back to
// periodic structured log lines instead of drawing bars.
package progress

import "log/slog"

// Reporter tracks overall and per-mailbox migration progress. All
// methods must be safe for concurrent use: mailbox workers and sink
// workers call into it from separate goroutines.
type Reporter interface {
	// SetOverallTotal sets (or replaces) the denominator for the
	// overall progress bar, known only after the pre-scan completes.
	SetOverallTotal(total int)

	// AdvanceOverall increments the overall counter by delta.
	AdvanceOverall(delta int)

	// StartMailbox registers a per-mailbox task with its own bar,
	// pre-seeded with completed (messages already accounted for from a
	// prior run) out of total.
	StartMailbox(name string, total, completed int) MailboxTask

	// Status announces a one-line lifecycle event (connecting,
	// resetting rows, etc.) outside the progress bars.
	Status(msg string)

	// Finish renders the final per-status count histogram and stops
	// accepting further updates.
	Finish(counts map[string]int)

	// Stop tears down the reporter (e.g. the bubbletea program) without
	// printing a final summary; used on error paths.
	Stop()
}

// MailboxTask is a single mailbox's progress bar.
type MailboxTask interface {
	// Advance increments this mailbox's counter by delta.
	Advance(delta int)
	// Remove takes the bar out of the display once the mailbox is done.
	Remove()
}

// NewReporter returns a bubbletea-based live reporter when stdout is a
// terminal, or a slog-based periodic reporter otherwise.
func NewReporter(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if isInteractive() {
		return newTeaReporter(logger)
	}
	return newLogReporter(logger)
}
