package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// logReporter is the non-interactive Reporter: it logs a summary line
// at most once per logInterval rather than redrawing bars, so output
// piped to a file or captured by CI stays readable.
type logReporter struct {
	logger *slog.Logger

	mu           sync.Mutex
	overallTotal int
	overallDone  atomic.Int64
	lastLog      time.Time

	mailboxes   map[string]*logMailboxTask
	mailboxesMu sync.Mutex
}

const logInterval = 5 * time.Second

func newLogReporter(logger *slog.Logger) *logReporter {
	return &logReporter{
		logger:    logger,
		mailboxes: make(map[string]*logMailboxTask),
	}
}

func (r *logReporter) SetOverallTotal(total int) {
	r.mu.Lock()
	r.overallTotal = total
	r.mu.Unlock()
	r.logger.Info("migration progress: total discovered", "total", total)
}

func (r *logReporter) AdvanceOverall(delta int) {
	done := r.overallDone.Add(int64(delta))

	r.mu.Lock()
	shouldLog := time.Since(r.lastLog) >= logInterval
	if shouldLog {
		r.lastLog = time.Now()
	}
	total := r.overallTotal
	r.mu.Unlock()

	if shouldLog {
		r.logger.Info("migration progress", "completed", done, "total", total)
	}
}

func (r *logReporter) StartMailbox(name string, total, completed int) MailboxTask {
	task := &logMailboxTask{reporter: r, name: name, total: total}
	task.done.Store(int64(completed))
	r.mailboxesMu.Lock()
	r.mailboxes[name] = task
	r.mailboxesMu.Unlock()
	r.logger.Info("starting mailbox", "mailbox", name, "total", total, "already_done", completed)
	return task
}

func (r *logReporter) Status(msg string) {
	r.logger.Info(msg)
}

func (r *logReporter) Finish(counts map[string]int) {
	args := make([]any, 0, len(counts)*2)
	for status, count := range counts {
		args = append(args, status, count)
	}
	r.logger.Info("migration finished", args...)
}

func (r *logReporter) Stop() {}

type logMailboxTask struct {
	reporter *logReporter
	name     string
	total    int
	done     atomic.Int64
}

func (t *logMailboxTask) Advance(delta int) {
	t.done.Add(int64(delta))
}

func (t *logMailboxTask) Remove() {
	t.reporter.mailboxesMu.Lock()
	delete(t.reporter.mailboxes, t.name)
	t.reporter.mailboxesMu.Unlock()
	t.reporter.logger.Info("mailbox complete", "mailbox", t.name, "completed", t.done.Load(), "total", t.total)
}

var _ Reporter = (*logReporter)(nil)
var _ MailboxTask = (*logMailboxTask)(nil)
