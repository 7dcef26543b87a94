package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mailkeep/imap2gmail/internal/evidence"
	"github.com/mailkeep/imap2gmail/internal/ledger"
	"github.com/mailkeep/imap2gmail/internal/mailheader"
	"github.com/mailkeep/imap2gmail/internal/progress"
	"github.com/mailkeep/imap2gmail/internal/retry"
	"github.com/mailkeep/imap2gmail/internal/sink"
)

// sinkJob is one accepted message waiting for a sink worker to ingest
// it, carrying only what a worker needs: the on-disk evidence path
// (never in-memory bytes, so a retry re-reads the same immutable file)
// and the label set already resolved against the sink's label cache.
type sinkJob struct {
	folder      string
	uid         uint32
	uidvalidity uint32
	emlPath     string
	labelIDs    []string
}

// runMailboxWorker scans one mailbox to completion: resume from its
// Ledger checkpoint, walk UIDs in batches, fan out per-UID work under a
// mailbox-scoped semaphore, and advance the checkpoint only once an
// entire batch has finished and every UID in it (and in every earlier
// batch) has a Ledger row. A single pool session is held for the
// mailbox's whole lifetime — this mirrors the original tool's
// async with pool.acquire(): one connection per mailbox task, not one
// per UID fetch.
func (o *Orchestrator) runMailboxWorker(ctx context.Context, mailbox string, total int, queue chan<- sinkJob) error {
	sess, err := o.sessions.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: acquire session for mailbox %s: %w", mailbox, err)
	}
	defer o.sessions.Release(sess)

	doneInDB, err := o.ledger.CountFolderMessages(mailbox)
	if err != nil {
		return fmt.Errorf("orchestrator: count existing rows for %s: %w", mailbox, err)
	}
	mbTask := o.reporter.StartMailbox(mailbox, total, doneInDB)
	defer mbTask.Remove()
	o.reporter.AdvanceOverall(doneInDB)

	info, err := sess.Select(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("orchestrator: select %s: %w", mailbox, err)
	}

	// Persist the freshly observed UIDVALIDITY before computing a resume
	// point: if it changed since the last run, UpsertFolder resets the
	// stored checkpoint, so reading the folder row only after this call
	// (rather than before, as the original tool does) is what makes
	// start_uid reflect a UIDVALIDITY rollover correctly.
	if err := o.ledger.UpsertFolder(mailbox, info.UIDValidity); err != nil {
		return fmt.Errorf("orchestrator: persist folder checkpoint for %s: %w", mailbox, err)
	}

	folderRow, err := o.ledger.GetFolder(mailbox)
	if err != nil {
		return fmt.Errorf("orchestrator: read folder checkpoint for %s: %w", mailbox, err)
	}
	startUID := uint32(1)
	if folderRow != nil && folderRow.LastUIDSeen != nil {
		startUID = *folderRow.LastUIDSeen + 1
	}

	uids, err := sess.UIDSearch(ctx, o.params.SearchQuery, startUID)
	if err != nil {
		return fmt.Errorf("orchestrator: uid search %s: %w", mailbox, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	stalled := false
	for _, batch := range chunkUIDs(uids, o.params.BatchSize) {
		if err := o.runBatch(ctx, sess, mbTask, mailbox, info.UIDValidity, batch, queue); err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		for _, uid := range batch {
			if stalled {
				break
			}
			if row, err := o.ledger.GetMessage(mailbox, uid, info.UIDValidity); err != nil || row == nil {
				stalled = true
			}
		}
		if stalled {
			continue
		}
		if err := o.ledger.UpdateFolderCheckpoint(mailbox, batch[len(batch)-1]); err != nil {
			return fmt.Errorf("orchestrator: advance checkpoint for %s: %w", mailbox, err)
		}
	}
	return nil
}

// runBatch fans the batch's UIDs out under a semaphore sized to
// imap_fetch_concurrency and waits for all of them to finish. UIDs
// within a batch may complete out of order; the checkpoint only
// advances once every UID in the batch has returned.
func (o *Orchestrator) runBatch(ctx context.Context, sess imapSession, mbTask progress.MailboxTask, mailbox string, uidvalidity uint32, batch []uint32, queue chan<- sinkJob) error {
	sem := make(chan struct{}, o.params.ImapFetchConcurrency)
	var wg sync.WaitGroup

	for _, uid := range batch {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(uid uint32) {
			defer wg.Done()
			defer func() { <-sem }()
			o.processUID(ctx, sess, mbTask, mailbox, uid, uidvalidity, queue)
		}(uid)
	}
	wg.Wait()
	return nil
}

// processUID runs the full per-message decision tree: fetch, fingerprint,
// discover, then skip/dedupe/filter/write/enqueue. Every exit path
// advances the overall progress counter exactly once, either here
// directly or (once a job is handed to a sink worker) from
// runSinkWorker.
func (o *Orchestrator) processUID(ctx context.Context, sess imapSession, mbTask progress.MailboxTask, mailbox string, uid, uidvalidity uint32, queue chan<- sinkJob) {
	raw, err := o.fetchWithRetry(ctx, sess, uid)
	if err != nil {
		o.logger.Error("uid fetch exhausted retries", "mailbox", mailbox, "uid", uid, "error", err)
		mbTask.Advance(1)
		o.reporter.AdvanceOverall(1)
		return
	}
	mbTask.Advance(1)

	headers := mailheader.Parse(raw)
	messageIDNorm := mailheader.NormalizeMessageID(headers.MessageID)
	fingerprint := mailheader.Fingerprint(raw, o.params.FingerprintBodyBytes)

	if err := o.ledger.UpsertMessageDiscovered(mailbox, uid, uidvalidity, messageIDNorm, fingerprint, int64(len(raw))); err != nil {
		o.logger.Error("upsert discovered message failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.reporter.AdvanceOverall(1)
		return
	}
	msgRow, err := o.ledger.GetMessage(mailbox, uid, uidvalidity)
	if err != nil || msgRow == nil {
		o.logger.Error("reload discovered message failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.reporter.AdvanceOverall(1)
		return
	}

	if msgRow.Status == ledger.StatusImported {
		o.reporter.AdvanceOverall(1)
		return
	}

	if !o.params.AddressFilter.Matches(headers) {
		if err := o.ledger.MarkSkippedFiltered(mailbox, uid, uidvalidity); err != nil {
			o.logger.Error("mark skipped_filtered failed", "mailbox", mailbox, "uid", uid, "error", err)
		}
		o.reporter.AdvanceOverall(1)
		return
	}

	existing, err := o.ledger.FindExistingImported(messageIDNorm, fingerprint)
	if err != nil {
		o.logger.Error("find existing imported failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.reporter.AdvanceOverall(1)
		return
	}
	if existing != nil && !sameRow(*existing, mailbox, uid, uidvalidity) {
		if err := o.ledger.MarkSkippedDuplicate(mailbox, uid, uidvalidity); err != nil {
			o.logger.Error("mark skipped_duplicate failed", "mailbox", mailbox, "uid", uid, "error", err)
		}
		o.reporter.AdvanceOverall(1)
		return
	}

	written, err := o.evidence.Write(mailbox, uidvalidity, uid, raw)
	if err != nil {
		var mismatch *evidence.MismatchError
		if isMismatch(err, &mismatch) {
			o.logger.Error("evidence mismatch", "mailbox", mailbox, "uid", uid, "path", mismatch.Path)
		} else {
			o.logger.Error("evidence write failed", "mailbox", mailbox, "uid", uid, "error", err)
		}
		o.reporter.AdvanceOverall(1)
		return
	}
	if err := o.ledger.MarkDownloaded(mailbox, uid, uidvalidity, written.Path, written.Sha256Hex, written.Size); err != nil {
		o.logger.Error("mark downloaded failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.reporter.AdvanceOverall(1)
		return
	}

	if o.params.DryRun {
		o.reporter.AdvanceOverall(1)
		return
	}

	labelIDs, err := o.composeLabelIDs(ctx, mailbox)
	if err != nil {
		o.logger.Error("compose label ids failed", "mailbox", mailbox, "uid", uid, "error", err)
		if markErr := o.ledger.MarkFailed(mailbox, uid, uidvalidity, err.Error()); markErr != nil {
			o.logger.Error("mark failed failed", "mailbox", mailbox, "uid", uid, "error", markErr)
		}
		o.reporter.AdvanceOverall(1)
		return
	}

	job := sinkJob{folder: mailbox, uid: uid, uidvalidity: uidvalidity, emlPath: written.Path, labelIDs: labelIDs}
	select {
	case queue <- job:
	case <-ctx.Done():
		o.reporter.AdvanceOverall(1)
	}
}

// composeLabelIDs builds the label set for a folder: its mapped system
// labels plus a resolved (created-if-absent) custom label, deduplicated
// and sorted for deterministic ledger storage.
func (o *Orchestrator) composeLabelIDs(ctx context.Context, mailbox string) ([]string, error) {
	systemLabelIDs := sink.FolderToSystemLabels(mailbox)
	customName := sink.FolderToCustomLabel(o.params.LabelPrefix, mailbox)
	customID, err := o.sink.EnsureLabel(ctx, customName)
	if err != nil {
		return nil, fmt.Errorf("ensure label %q: %w", customName, err)
	}
	return sink.ComposeLabelIDs(systemLabelIDs, customID), nil
}

// fetchWithRetry fetches uid's raw RFC822 bytes under the orchestrator's
// shared retry policy. On exhaustion the caller advances progress and
// writes no Ledger row: the message remains undiscovered and will be
// retried from scratch on the next run.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, sess imapSession, uid uint32) ([]byte, error) {
	var raw []byte
	err := retry.Do(ctx, o.params.Retry, alwaysRetryable, func(attempt int) error {
		r, ferr := sess.UIDFetchRFC822(ctx, uid)
		if ferr != nil {
			return &retry.TransientIOError{Op: fmt.Sprintf("uid fetch %d", uid), Err: ferr}
		}
		raw = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func alwaysRetryable(error) bool { return true }

func sameRow(m ledger.Message, folder string, uid, uidvalidity uint32) bool {
	return m.Folder == folder && m.UID == uid && m.UIDValidity == uidvalidity
}

func isMismatch(err error, target **evidence.MismatchError) bool {
	if m, ok := err.(*evidence.MismatchError); ok {
		*target = m
		return true
	}
	return false
}

// chunkUIDs splits a sorted UID slice into batches of at most size
// elements, preserving order.
func chunkUIDs(uids []uint32, size int) [][]uint32 {
	if len(uids) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(uids)
	}
	out := make([][]uint32, 0, (len(uids)+size-1)/size)
	for i := 0; i < len(uids); i += size {
		end := i + size
		if end > len(uids) {
			end = len(uids)
		}
		out = append(out, uids[i:end])
	}
	return out
}
