// Package progress renders audit run progress: a bubbletea progress bar on a
// terminal, plain lines anywhere else.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/planaudit/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/planaudit/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/planaudit/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// maxRecent is how many judged rules the details list shows.
const maxRecent = 8

// AuditFunc runs an audit, reporting progress to observer.
type AuditFunc func(ctx context.Context, observer func(domain.ProgressEvent)) (*domain.AuditReport, error)

// Model is the bubbletea model of the progress view.
type Model struct {
	styles  *styles.Styles
	keymap  *keymap.KeyMap
	bar     progress.Model
	spinner spinner.Model
	cancel  context.CancelFunc

	state    domain.AuditState
	done     int
	total    int
	recent   []domain.ProgressEvent
	details  bool
	finished bool
	canceled bool
	err      error
}

// New creates a progress model. cancel stops the audit when the user quits.
func New(cancel context.CancelFunc, s *styles.Styles) *Model {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if cancel == nil {
		cancel = func() {}
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = s.Subtitle

	return &Model{
		styles:  s,
		keymap:  keymap.DefaultKeyMap(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner: sp,
		cancel:  cancel,
		state:   domain.AuditPending,
		details: true,
	}
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles progress events, key presses and animation frames.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case keymap.Matches(msg.String(), m.keymap.Quit):
			// The run returns soon after cancel; AuditFinished ends the program.
			m.canceled = true
			m.cancel()
		case keymap.Matches(msg.String(), m.keymap.Details):
			m.details = !m.details
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 60)
		return m, nil

	case messages.ProgressReceived:
		return m, m.apply(msg.Event)

	case messages.AuditFinished:
		m.finished = true
		m.err = msg.Err
		if msg.Report != nil {
			m.state = msg.Report.State
		}
		return m, tea.Quit

	case progress.FrameMsg:
		updated, cmd := m.bar.Update(msg)
		if bar, ok := updated.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(ev domain.ProgressEvent) tea.Cmd {
	m.state = ev.State
	m.done = ev.Done
	m.total = ev.Total

	if ev.Rule != nil {
		m.recent = append(m.recent, ev)
		if len(m.recent) > maxRecent {
			m.recent = m.recent[len(m.recent)-maxRecent:]
		}
	}

	return m.bar.SetPercent(m.Percent())
}

// Percent returns the judged fraction of rules.
func (m *Model) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// State returns the last reported run state.
func (m *Model) State() domain.AuditState {
	return m.state
}

// Canceled reports whether the user asked to stop the run.
func (m *Model) Canceled() bool {
	return m.canceled
}

// View renders the progress bar, the latest judged rules and key hints.
func (m *Model) View() string {
	if m.finished {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Title.Render(stateLabel(m.state)))
	if m.canceled {
		b.WriteString(m.styles.Warning.Render("  canceling..."))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bar.View())
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %d/%d rules", m.done, m.total)))
	b.WriteString("\n")

	if m.details && len(m.recent) > 0 {
		b.WriteString("\n")
		for _, ev := range m.recent {
			fmt.Fprintf(&b, "  %s %s\n", m.styles.Badge(ev.Verdict), m.styles.Normal.Render(ruleLabel(ev.Rule)))
		}
	}

	hints := make([]string, 0, 2)
	for _, binding := range m.keymap.ShortHelp() {
		h := binding.Help()
		hints = append(hints, fmt.Sprintf("%s: %s", h.Key, h.Desc))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(strings.Join(hints, " | ")))
	b.WriteString("\n")

	return b.String()
}

// Run runs audit while rendering its progress to out.
// interactive selects the bubbletea view; otherwise each event is one line.
// The audit's own result is returned, even when the user quits early.
func Run(ctx context.Context, out io.Writer, interactive bool, audit AuditFunc) (*domain.AuditReport, error) {
	if !interactive {
		return audit(ctx, NewPrinter(out).Observe)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := New(cancel, nil)
	program := tea.NewProgram(model, tea.WithOutput(out))

	type result struct {
		report *domain.AuditReport
		err    error
	}
	done := make(chan result, 1)

	go func() {
		report, err := audit(ctx, func(ev domain.ProgressEvent) {
			program.Send(messages.ProgressReceived{Event: ev})
		})
		done <- result{report: report, err: err}
		program.Send(messages.AuditFinished{Report: report, Err: err})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("progress view: %w", err)
	}

	res := <-done
	return res.report, res.err
}

// Printer writes one plain line per progress event.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Observe writes ev. It matches the audit observer signature.
func (p *Printer) Observe(ev domain.ProgressEvent) {
	switch {
	case ev.Rule != nil:
		fmt.Fprintf(p.out, "[%d/%d] %s %s\n", ev.Done, ev.Total, ruleLabel(ev.Rule), ev.Verdict)
	case ev.State == domain.AuditRetrieving:
		fmt.Fprintf(p.out, "Retrieving evidence for %d rules\n", ev.Total)
	case ev.State == domain.AuditJudging:
		fmt.Fprintf(p.out, "Judging %d rules\n", ev.Total)
	case ev.State == domain.AuditFailed:
		fmt.Fprintf(p.out, "Audit failed after %d/%d rules\n", ev.Done, ev.Total)
	}
}

func stateLabel(s domain.AuditState) string {
	switch s {
	case domain.AuditRetrieving:
		return "Retrieving evidence"
	case domain.AuditJudging:
		return "Judging rules"
	case domain.AuditAggregated:
		return "Done"
	case domain.AuditFailed:
		return "Failed"
	default:
		return "Starting audit"
	}
}

func ruleLabel(rule *domain.DefectRule) string {
	if rule == nil {
		return ""
	}
	return fmt.Sprintf("%s #%s %s", rule.Category, rule.Sequence, rule.Scenario)
}
