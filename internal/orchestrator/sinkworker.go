package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mailkeep/imap2gmail/internal/retry"
	"github.com/mailkeep/imap2gmail/internal/sink"
)

// runSinkWorker drains queue until it is closed and drained, ingesting
// each job via the sink client under the same retry policy used for
// IMAP fetches. Every job increments overall progress exactly once,
// regardless of outcome.
func (o *Orchestrator) runSinkWorker(ctx context.Context, workerIdx int, queue <-chan sinkJob) {
	for job := range queue {
		result, err := o.ingestWithRetry(ctx, job)
		if err != nil {
			if markErr := o.ledger.MarkFailed(job.folder, job.uid, job.uidvalidity, fmt.Sprintf("[sink worker %d] %v", workerIdx, err)); markErr != nil {
				o.logger.Error("mark failed failed", "folder", job.folder, "uid", job.uid, "error", markErr)
			}
		} else {
			applied := append([]string(nil), result.AppliedLabels...)
			sort.Strings(applied)
			if markErr := o.ledger.MarkImported(job.folder, job.uid, job.uidvalidity, result.MessageID, result.ThreadID, strings.Join(applied, ",")); markErr != nil {
				o.logger.Error("mark imported failed", "folder", job.folder, "uid", job.uid, "error", markErr)
			}
		}
		o.reporter.AdvanceOverall(1)
	}
}

// ingestWithRetry uploads job's evidence file via the sink client,
// retrying transient failures under the orchestrator's shared retry
// policy. The sink client's own HTTP transport already retries
// rate-limit and 5xx responses internally (see sink.GmailClient.Import);
// this outer retry covers failures at a coarser grain, the same way the
// original tool wraps its ingest call in a second retry layer.
func (o *Orchestrator) ingestWithRetry(ctx context.Context, job sinkJob) (sink.IngestResult, error) {
	var result sink.IngestResult
	err := retry.Do(ctx, o.params.Retry, alwaysRetryable, func(attempt int) error {
		r, ierr := o.sink.Import(ctx, job.emlPath, job.labelIDs, o.params.Mode)
		if ierr != nil {
			return ierr
		}
		result = r
		return nil
	})
	if err != nil {
		return sink.IngestResult{}, err
	}
	return result, nil
}
