// Package orchestrator drives the migration pipeline end to end:
// discover mailboxes over an IMAP session pool, fan out per-mailbox
// scans bounded by a semaphore, fingerprint and filter each message
// against the Ledger, write immutable evidence, and hand accepted
// messages to a fixed pool of sink workers. It is the Go analogue of
// the original tool's asyncio orchestration loop: mailbox tasks and
// sink workers are goroutines instead of asyncio tasks, errgroup
// stands in for asyncio.gather, and a closed channel replaces the
// original's per-worker sentinel values.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailkeep/imap2gmail/internal/evidence"
	"github.com/mailkeep/imap2gmail/internal/imapclient"
	"github.com/mailkeep/imap2gmail/internal/ledger"
	"github.com/mailkeep/imap2gmail/internal/mailheader"
	"github.com/mailkeep/imap2gmail/internal/progress"
	"github.com/mailkeep/imap2gmail/internal/retry"
	"github.com/mailkeep/imap2gmail/internal/sink"
)

// Params is everything a Run needs beyond its collaborators: the
// validated, already-defaulted slice of *config.Config this package
// actually reads. Keeping it as a plain struct (rather than taking
// *config.Config directly) keeps orchestrator tests free of the config
// package's environment-loading machinery.
type Params struct {
	FolderInclude         []string
	FolderExclude         []string
	SearchQuery           string
	BatchSize             int
	ImapFetchConcurrency  int
	GmailWorkers          int
	QueueMaxsize          int
	DryRun                bool
	Reset                 bool
	FingerprintBodyBytes  int
	AddressFilter         mailheader.AddressFilter
	LabelPrefix           string
	Mode                  sink.Mode
	Retry                 retry.Policy
}

// DefaultRetryPolicy is the retry policy both the UID fetch path and
// the sink ingest path use unless a caller overrides it: 5 attempts,
// starting at 0.5s, capped at 20s, with up to 0.25s of uniform jitter.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 5,
		Base:        500 * time.Millisecond,
		Cap:         20 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// Summary is what Run reports back once the pipeline has finished.
type Summary struct {
	Counts map[ledger.Status]int
}

// Orchestrator owns one run of the pipeline. Build one with New and
// call Run exactly once.
type Orchestrator struct {
	sessions sessionPool
	ledger   *ledger.Ledger
	evidence *evidence.Store
	sink     sink.SinkClient // nil when Params.DryRun
	reporter progress.Reporter
	logger   *slog.Logger
	params   Params
}

// New wires a production Orchestrator. sinkClient may be nil iff
// params.DryRun is true.
func New(pool *imapclient.Pool, ledgerDB *ledger.Ledger, evidenceStore *evidence.Store, sinkClient sink.SinkClient, reporter progress.Reporter, logger *slog.Logger, params Params) *Orchestrator {
	return &Orchestrator{
		sessions: newPoolAdapter(pool),
		ledger:   ledgerDB,
		evidence: evidenceStore,
		sink:     sinkClient,
		reporter: reporter,
		logger:   logger,
		params:   params,
	}
}

// Run executes discovery, per-mailbox scanning, and (unless DryRun)
// sink ingestion, and tears everything down before returning.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o.params.Reset {
		n, err := o.ledger.ResetSkippedAndFailed()
		if err != nil {
			return Summary{}, fmt.Errorf("orchestrator: reset: %w", err)
		}
		o.reporter.Status(fmt.Sprintf("reset: cleared %d skipped/failed rows and folder checkpoints", n))
	}

	mailboxes, totals, err := o.discover(ctx)
	if err != nil {
		o.reporter.Stop()
		return Summary{}, err
	}

	overallTotal := 0
	for _, n := range totals {
		overallTotal += n
	}
	o.reporter.SetOverallTotal(overallTotal)

	var queue chan sinkJob
	var sinkGroup *errgroup.Group
	if !o.params.DryRun {
		queue = make(chan sinkJob, o.params.QueueMaxsize)
		sinkGroup = &errgroup.Group{}
		for i := 0; i < o.params.GmailWorkers; i++ {
			workerIdx := i
			sinkGroup.Go(func() error {
				o.runSinkWorker(ctx, workerIdx, queue)
				return nil
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, mailbox := range mailboxes {
		mailbox := mailbox
		g.Go(func() error {
			return o.runMailboxWorker(gctx, mailbox, totals[mailbox], queue)
		})
	}
	runErr := g.Wait()

	if queue != nil {
		close(queue)
		_ = sinkGroup.Wait()
	}

	if err := o.sessions.Close(ctx); err != nil {
		o.logger.Warn("orchestrator: imap pool logout failed", "error", err)
	}

	counts, err := o.ledger.CountsByStatus()
	if err != nil {
		o.reporter.Stop()
		return Summary{}, fmt.Errorf("orchestrator: final counts: %w", err)
	}
	o.reporter.Finish(statusCountsToStrings(counts))

	return Summary{Counts: counts}, runErr
}

func statusCountsToStrings(counts map[ledger.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

// discover lists every mailbox visible to the account, applies the
// include/exclude filter, and SELECTs + UID SEARCHes each surviving
// mailbox once to learn its total message count for progress display
// only; the authoritative resume point for scanning is computed later,
// per mailbox, from the Ledger's folder checkpoint.
func (o *Orchestrator) discover(ctx context.Context) ([]string, map[string]int, error) {
	sess, err := o.sessions.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: acquire session for discovery: %w", err)
	}
	names, err := sess.List(ctx)
	o.sessions.Release(sess)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: list mailboxes: %w", err)
	}

	filtered := filterMailboxes(names, o.params.FolderInclude, o.params.FolderExclude)
	sort.Strings(filtered)

	totals := make(map[string]int, len(filtered))
	for _, name := range filtered {
		sess, err := o.sessions.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: acquire session to scan %s: %w", name, err)
		}
		if _, err := sess.Select(ctx, name); err != nil {
			o.sessions.Release(sess)
			return nil, nil, fmt.Errorf("orchestrator: select %s: %w", name, err)
		}
		uids, err := sess.UIDSearch(ctx, o.params.SearchQuery, 1)
		o.sessions.Release(sess)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: uid search %s: %w", name, err)
		}
		totals[name] = len(uids)
	}
	return filtered, totals, nil
}

// filterMailboxes applies an exact-name-match include whitelist (when
// non-empty) followed by an exact-name-match exclude, both
// case-sensitive: IMAP mailbox names are server-defined strings, not
// user-typed text, so no normalization is applied.
func filterMailboxes(names, include, exclude []string) []string {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	out := make([]string, 0, len(names))
	for _, name := range names {
		if len(includeSet) > 0 {
			if _, ok := includeSet[name]; !ok {
				continue
			}
		}
		if _, ok := excludeSet[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
