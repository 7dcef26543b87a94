package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	overallStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	mailboxStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

type barRow struct {
	label string
	total int
	done  int
	bar   progress.Model
}

type teaModel struct {
	overall    barRow
	mailboxes  []string
	byName     map[string]*barRow
	statusLine string
	finished   bool
	finalLines []string
}

// Messages sent into the bubbletea program from Reporter method calls.
type (
	setOverallTotalMsg struct{ total int }
	advanceOverallMsg  struct{ delta int }
	startMailboxMsg    struct {
		name      string
		total     int
		completed int
	}
	advanceMailboxMsg struct {
		name  string
		delta int
	}
	removeMailboxMsg struct{ name string }
	statusMsg        struct{ text string }
	finishMsg        struct{ counts map[string]int }
)

func newBarRow(label string, total, completed int) barRow {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return barRow{label: label, total: total, done: completed, bar: bar}
}

func (m teaModel) Init() tea.Cmd { return nil }

func (m teaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case setOverallTotalMsg:
		m.overall.total = msg.total
	case advanceOverallMsg:
		m.overall.done += msg.delta
	case startMailboxMsg:
		row := newBarRow(msg.name, msg.total, msg.completed)
		m.byName[msg.name] = &row
		m.mailboxes = append(m.mailboxes, msg.name)
		sort.Strings(m.mailboxes)
	case advanceMailboxMsg:
		if row, ok := m.byName[msg.name]; ok {
			row.done += msg.delta
		}
	case removeMailboxMsg:
		delete(m.byName, msg.name)
		for i, name := range m.mailboxes {
			if name == msg.name {
				m.mailboxes = append(m.mailboxes[:i], m.mailboxes[i+1:]...)
				break
			}
		}
	case statusMsg:
		m.statusLine = msg.text
	case finishMsg:
		m.finished = true
		m.finalLines = finishLines(msg.counts)
		return m, tea.Quit
	}
	return m, nil
}

func (m teaModel) View() string {
	if m.finished {
		out := doneStyle.Render("Migration finished!") + "\n"
		for _, line := range m.finalLines {
			out += line + "\n"
		}
		return out
	}

	var out string
	if m.statusLine != "" {
		out += statusStyle.Render(m.statusLine) + "\n"
	}
	out += overallStyle.Render("Overall Progress") + " " + renderBar(m.overall) + "\n"
	for _, name := range m.mailboxes {
		row := m.byName[name]
		out += mailboxStyle.Render("IMAP: "+name) + " " + renderBar(*row) + "\n"
	}
	return out
}

func renderBar(row barRow) string {
	if row.total <= 0 {
		return fmt.Sprintf("%d done", row.done)
	}
	percent := float64(row.done) / float64(row.total)
	if percent > 1 {
		percent = 1
	}
	return fmt.Sprintf("%s %d/%d", row.bar.ViewAs(percent), row.done, row.total)
}

func finishLines(counts map[string]int) []string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	lines := make([]string, 0, len(statuses))
	for _, status := range statuses {
		lines = append(lines, fmt.Sprintf("  %s: %d", status, counts[status]))
	}
	return lines
}

// teaReporter is the live, interactive Reporter, driven by sending
// typed messages into a running bubbletea.Program from arbitrary
// goroutines (tea.Program.Send is safe for concurrent use).
type teaReporter struct {
	program *tea.Program
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newTeaReporter(logger *slog.Logger) *teaReporter {
	model := teaModel{
		overall: newBarRow("Overall Progress", 0, 0),
		byName:  make(map[string]*barRow),
	}
	program := tea.NewProgram(model)

	r := &teaReporter{program: program, logger: logger}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := program.Run(); err != nil {
			logger.Warn("progress display exited with error", "error", err)
		}
	}()
	return r
}

func (r *teaReporter) SetOverallTotal(total int) {
	r.program.Send(setOverallTotalMsg{total: total})
}

func (r *teaReporter) AdvanceOverall(delta int) {
	r.program.Send(advanceOverallMsg{delta: delta})
}

func (r *teaReporter) StartMailbox(name string, total, completed int) MailboxTask {
	r.program.Send(startMailboxMsg{name: name, total: total, completed: completed})
	return &teaMailboxTask{reporter: r, name: name}
}

func (r *teaReporter) Status(msg string) {
	r.program.Send(statusMsg{text: msg})
}

func (r *teaReporter) Finish(counts map[string]int) {
	r.program.Send(finishMsg{counts: counts})
	r.wg.Wait()
}

func (r *teaReporter) Stop() {
	r.program.Quit()
	r.wg.Wait()
}

type teaMailboxTask struct {
	reporter *teaReporter
	name     string
}

func (t *teaMailboxTask) Advance(delta int) {
	t.reporter.program.Send(advanceMailboxMsg{name: t.name, delta: delta})
}

func (t *teaMailboxTask) Remove() {
	t.reporter.program.Send(removeMailboxMsg{name: t.name})
}

var _ Reporter = (*teaReporter)(nil)
var _ MailboxTask = (*teaMailboxTask)(nil)
