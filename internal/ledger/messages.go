package ledger

import (
	"database/sql"
	"errors"
	"fmt"
)

// Status is a message's position in the per-message state machine.
type Status string

const (
	StatusDiscovered      Status = "discovered"
	StatusDownloaded      Status = "downloaded"
	StatusImported        Status = "imported"
	StatusSkippedDupe     Status = "skipped_duplicate"
	StatusSkippedFiltered Status = "skipped_filtered"
	StatusFailed          Status = "failed"
)

// Message is a row of the messages table.
type Message struct {
	Folder        string
	UID           uint32
	UIDValidity   uint32
	Status        Status
	MessageIDNorm string
	Fingerprint   string
	EmlPath       string
	EmlSha256     string
	SizeBytes     int64
	SinkMessageID string
	SinkThreadID  string
	AppliedLabels string // comma-joined, sorted
	Attempts      int
	LastError     string
	LastErrorAt   string
	CreatedAt     string
	UpdatedAt     string
}

func scanMessage(scan func(dest ...any) error) (Message, error) {
	var m Message
	var messageIDNorm, fingerprint, emlPath, emlSha256, sinkMessageID, sinkThreadID, appliedLabels, lastError, lastErrorAt sql.NullString
	var sizeBytes sql.NullInt64
	err := scan(
		&m.Folder, &m.UID, &m.UIDValidity, &m.Status,
		&messageIDNorm, &fingerprint, &emlPath, &emlSha256, &sizeBytes,
		&sinkMessageID, &sinkThreadID, &appliedLabels,
		&m.Attempts, &lastError, &lastErrorAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	m.MessageIDNorm = messageIDNorm.String
	m.Fingerprint = fingerprint.String
	m.EmlPath = emlPath.String
	m.EmlSha256 = emlSha256.String
	m.SizeBytes = sizeBytes.Int64
	m.SinkMessageID = sinkMessageID.String
	m.SinkThreadID = sinkThreadID.String
	m.AppliedLabels = appliedLabels.String
	m.LastError = lastError.String
	m.LastErrorAt = lastErrorAt.String
	return m, nil
}

const messageColumns = `folder, uid, uidvalidity, status, message_id_norm, fingerprint,
	eml_path, eml_sha256, size_bytes, sink_message_id, sink_thread_id, applied_labels,
	attempts, last_error, last_error_at, created_at, updated_at`

// UpsertMessageDiscovered records that a message was seen at
// (folder, uid, uidvalidity), with its normalized Message-ID,
// fingerprint, and raw size in bytes. If the row already exists, only
// its identity fields are refreshed and, if its status is
// skipped_filtered or failed, the status is reset to discovered so a
// later, less restrictive run (e.g. after widening an address filter,
// or --reset) picks it back up. Any other existing status (downloaded,
// imported, skipped_duplicate) is left untouched: discovery never
// regresses real progress.
func (l *Ledger) UpsertMessageDiscovered(folder string, uid, uidvalidity uint32, messageIDNorm, fingerprint string, sizeBytes int64) error {
	now := nowUTC()
	_, err := l.db.Exec(`
		INSERT INTO messages (folder, uid, uidvalidity, status, message_id_norm, fingerprint, size_bytes, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'discovered', ?, ?, ?, 0, ?, ?)
		ON CONFLICT(folder, uid, uidvalidity) DO UPDATE SET
			message_id_norm = excluded.message_id_norm,
			fingerprint = excluded.fingerprint,
			size_bytes = excluded.size_bytes,
			status = CASE WHEN messages.status IN ('skipped_filtered', 'failed') THEN 'discovered' ELSE messages.status END,
			updated_at = excluded.updated_at
	`, folder, uid, uidvalidity, messageIDNorm, fingerprint, sizeBytes, now, now)
	if err != nil {
		return fmt.Errorf("ledger: upsert discovered message %s/%d: %w", folder, uid, err)
	}
	return nil
}

// GetMessage returns the row for (folder, uid, uidvalidity), or nil if
// it has not been discovered.
func (l *Ledger) GetMessage(folder string, uid, uidvalidity uint32) (*Message, error) {
	row := l.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE folder = ? AND uid = ? AND uidvalidity = ?`, folder, uid, uidvalidity)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get message %s/%d: %w", folder, uid, err)
	}
	return &m, nil
}

// MarkDownloaded records that evidence was written for a message.
func (l *Ledger) MarkDownloaded(folder string, uid, uidvalidity uint32, emlPath, emlSha256 string, sizeBytes int64) error {
	_, err := l.db.Exec(`
		UPDATE messages SET status = 'downloaded', eml_path = ?, eml_sha256 = ?, size_bytes = ?, updated_at = ?
		WHERE folder = ? AND uid = ? AND uidvalidity = ?
	`, emlPath, emlSha256, sizeBytes, nowUTC(), folder, uid, uidvalidity)
	if err != nil {
		return fmt.Errorf("ledger: mark downloaded %s/%d: %w", folder, uid, err)
	}
	return nil
}

// MarkImported records a successful sink ingest.
func (l *Ledger) MarkImported(folder string, uid, uidvalidity uint32, sinkMessageID, sinkThreadID, appliedLabels string) error {
	_, err := l.db.Exec(`
		UPDATE messages SET status = 'imported', sink_message_id = ?, sink_thread_id = ?, applied_labels = ?, updated_at = ?
		WHERE folder = ? AND uid = ? AND uidvalidity = ?
	`, sinkMessageID, sinkThreadID, appliedLabels, nowUTC(), folder, uid, uidvalidity)
	if err != nil {
		return fmt.Errorf("ledger: mark imported %s/%d: %w", folder, uid, err)
	}
	return nil
}

// MarkFailed records a terminal failure (retries exhausted) and
// increments the attempt counter.
func (l *Ledger) MarkFailed(folder string, uid, uidvalidity uint32, lastError string) error {
	now := nowUTC()
	_, err := l.db.Exec(`
		UPDATE messages SET status = 'failed', attempts = attempts + 1, last_error = ?, last_error_at = ?, updated_at = ?
		WHERE folder = ? AND uid = ? AND uidvalidity = ?
	`, lastError, now, now, folder, uid, uidvalidity)
	if err != nil {
		return fmt.Errorf("ledger: mark failed %s/%d: %w", folder, uid, err)
	}
	return nil
}

// MarkSkippedDuplicate records that a message was recognized as already
// imported elsewhere (by Message-ID or fingerprint) and was not
// re-ingested.
func (l *Ledger) MarkSkippedDuplicate(folder string, uid, uidvalidity uint32) error {
	_, err := l.db.Exec(`
		UPDATE messages SET status = 'skipped_duplicate', updated_at = ? WHERE folder = ? AND uid = ? AND uidvalidity = ?
	`, nowUTC(), folder, uid, uidvalidity)
	if err != nil {
		return fmt.Errorf("ledger: mark skipped_duplicate %s/%d: %w", folder, uid, err)
	}
	return nil
}

// MarkSkippedFiltered records that a message was excluded by the
// address filter.
func (l *Ledger) MarkSkippedFiltered(folder string, uid, uidvalidity uint32) error {
	_, err := l.db.Exec(`
		UPDATE messages SET status = 'skipped_filtered', updated_at = ? WHERE folder = ? AND uid = ? AND uidvalidity = ?
	`, nowUTC(), folder, uid, uidvalidity)
	if err != nil {
		return fmt.Errorf("ledger: mark skipped_filtered %s/%d: %w", folder, uid, err)
	}
	return nil
}

// FindExistingImported looks for a previously imported message sharing
// identity with the given message: it tries message_id_norm first (a
// stronger signal, assuming Message-IDs are globally unique), then
// falls back to fingerprint. Returns nil if neither matches an imported
// row.
func (l *Ledger) FindExistingImported(messageIDNorm, fingerprint string) (*Message, error) {
	if messageIDNorm != "" {
		m, err := l.queryFirstImported(`message_id_norm = ?`, messageIDNorm)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}
	if fingerprint != "" {
		m, err := l.queryFirstImported(`fingerprint = ?`, fingerprint)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}
	return nil, nil
}

func (l *Ledger) queryFirstImported(whereClause string, arg string) (*Message, error) {
	row := l.db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE status = 'imported' AND `+whereClause+`
		ORDER BY updated_at ASC LIMIT 1
	`, arg)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: find existing imported: %w", err)
	}
	return &m, nil
}

// CountFolderMessages returns the number of imported rows for folder.
func (l *Ledger) CountFolderMessages(folder string) (int, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE folder = ? AND status = 'imported'`, folder).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count folder messages %q: %w", folder, err)
	}
	return n, nil
}

// CountsByStatus returns the number of rows for each status value
// present in the table.
func (l *Ledger) CountsByStatus() (map[Status]int, error) {
	rows, err := l.db.Query(`SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger: counts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ledger: scan counts by status: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// ResetSkippedAndFailed resets all skipped_filtered, failed, and
// skipped_duplicate messages back to discovered, and clears every
// folder's last_uid_seen checkpoint so the next run re-walks each
// mailbox from UID 1. This backs the CLI --reset flag. It returns the
// number of message rows transitioned, which the caller announces.
func (l *Ledger) ResetSkippedAndFailed() (int64, error) {
	now := nowUTC()
	result, err := l.db.Exec(`
		UPDATE messages SET status = 'discovered', updated_at = ? WHERE status IN ('skipped_filtered', 'failed', 'skipped_duplicate')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("ledger: reset skipped/failed messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: reset skipped/failed messages: rows affected: %w", err)
	}
	if _, err := l.db.Exec(`UPDATE folders SET last_uid_seen = NULL, updated_at = ?`, now); err != nil {
		return 0, fmt.Errorf("ledger: reset folder checkpoints: %w", err)
	}
	return n, nil
}

// Cursor iterates message rows without loading them all into memory.
type Cursor struct {
	rows *sql.Rows
	cur  Message
	err  error
}

// IterMessages returns a Cursor over all messages with the given
// status. Callers must call Close when done (or exhaust Next).
func (l *Ledger) IterMessages(status Status) (*Cursor, error) {
	rows, err := l.db.Query(`SELECT `+messageColumns+` FROM messages WHERE status = ? ORDER BY folder, uidvalidity, uid`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ledger: iter messages status=%s: %w", status, err)
	}
	return &Cursor{rows: rows}, nil
}

// IterMessagesAtOrAfter returns a Cursor over messages whose status is
// downloaded or imported (used by verify/report, which only need to
// re-hash evidence that was actually written to disk).
func (l *Ledger) IterMessagesAtOrAfter() (*Cursor, error) {
	rows, err := l.db.Query(`
		SELECT ` + messageColumns + ` FROM messages
		WHERE status IN ('downloaded', 'imported')
		ORDER BY folder, uidvalidity, uid
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: iter downloaded+ messages: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Next advances the cursor. It returns false at end of results or on
// error; check Err after Next returns false.
func (c *Cursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	m, err := scanMessage(c.rows.Scan)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = m
	return true
}

// Message returns the row most recently loaded by Next.
func (c *Cursor) Message() Message { return c.cur }

// Err returns the first error encountered during iteration, if any.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the underlying query resources.
func (c *Cursor) Close() error { return c.rows.Close() }
