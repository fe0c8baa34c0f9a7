// Package tui is the interactive terminal driver. Every key press and mouse
// event counts as user activity; a once-per-second tick drives the engine.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joescharf/timetick/internal/engine"
	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/tracker"
)

var activeState = engine.StateActive.String()

type tickMsg time.Time

// exportDoneMsg carries the result of an export started with the export key.
type exportDoneMsg struct {
	path string
	err  error
}

// sessionClosedMsg reports a session persisted by the tracker.
type sessionClosedMsg struct {
	session *models.Session
}

// NotifyClosed returns a tracker OnClose hook that forwards closed sessions
// to ch for Options.Closed. A full channel drops the session.
func NotifyClosed(ch chan<- *models.Session) func(*models.Session) {
	return func(s *models.Session) {
		select {
		case ch <- s:
		default:
		}
	}
}

// ExportFunc writes the report archive and returns its path.
type ExportFunc func(ctx context.Context) (string, error)

// Options configures the model.
type Options struct {
	// TickInterval defaults to one second.
	TickInterval time.Duration
	Export       ExportFunc
	// Closed receives sessions from the tracker's OnClose hook and drives
	// the auto-stop notice.
	Closed <-chan *models.Session
}

// Model is the bubbletea model for the tracker screen.
type Model struct {
	ctx     context.Context
	tracker *tracker.Tracker
	export  ExportFunc
	every   time.Duration
	closed  <-chan *models.Session

	keys      KeyMap
	help      help.Model
	taskInput textinput.Model
	editing   bool

	notice   string
	err      error
	quitting bool
}

// New creates the model around a tracker.
func New(ctx context.Context, t *tracker.Tracker, opts Options) Model {
	every := opts.TickInterval
	if every <= 0 {
		every = time.Second
	}

	ti := textinput.New()
	ti.Placeholder = "What are you working on?"
	ti.CharLimit = 200
	ti.Width = 40

	return Model{
		ctx:       ctx,
		tracker:   t,
		export:    opts.Export,
		every:     every,
		closed:    opts.Closed,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		taskInput: ti,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitClosed blocks until the tracker reports a closed session.
func (m Model) waitClosed() tea.Cmd {
	if m.closed == nil {
		return nil
	}
	ch := m.closed
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return sessionClosedMsg{session: s}
	}
}

// Init starts the tick loop and the closed-session listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitClosed())
}

// Update handles ticks, input activity and key bindings.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if err := m.tracker.Tick(m.ctx); err != nil {
			m.err = err
		}
		return m, m.tick()

	case sessionClosedMsg:
		if s := msg.session; s.EndReason() == models.EndReasonInactivityLimit {
			m.notice = fmt.Sprintf("Session stopped after %s of inactivity", output.Duration(s.MaxInactivitySeconds()))
		}
		return m, m.waitClosed()

	case exportDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.notice = "Exported " + msg.path
		}
		return m, nil

	case tea.MouseMsg:
		m.tracker.Input()
		return m, nil

	case tea.KeyMsg:
		m.tracker.Input()
		if m.editing {
			return m.updateTaskInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if err := m.tracker.Interrupt(m.ctx); err != nil {
			m.err = err
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		if m.tracker.Status().State == activeState {
			return m, nil
		}
		m.editing = true
		m.notice = ""
		m.taskInput.SetValue("")
		return m, m.taskInput.Focus()

	case key.Matches(msg, m.keys.Stop):
		if err := m.tracker.Stop(m.ctx); err != nil {
			m.err = err
		}
		return m, nil

	case key.Matches(msg, m.keys.Export):
		if m.export == nil {
			return m, nil
		}
		m.notice = "Exporting..."
		export, ctx := m.export, m.ctx
		return m, func() tea.Msg {
			path, err := export(ctx)
			return exportDoneMsg{path: path, err: err}
		}
	}
	return m, nil
}

func (m Model) updateTaskInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.editing = false
		m.taskInput.Blur()
		if err := m.tracker.Start(m.ctx, strings.TrimSpace(m.taskInput.Value())); err != nil {
			m.err = err
		}
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.taskInput.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.taskInput, cmd = m.taskInput.Update(msg)
	return m, cmd
}

// View renders the tracker screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	st := m.tracker.Status()

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("timetick"))
	b.WriteString("\n\n")

	state := IdleStyle.Render(st.State)
	if st.State == activeState {
		state = ActiveStyle.Render(st.State)
	}

	rows := []string{row("State", state)}
	if st.State == activeState {
		task := st.Task
		if task == "" {
			task = "-"
		}
		rows = append(rows,
			row("Task", ValueStyle.Render(task)),
			row("Elapsed", ValueStyle.Render(output.Duration(st.ElapsedSeconds))),
		)
		if st.InactivitySeconds > 0 {
			rows = append(rows, row("Auto-stop", CountdownStyle.Render(fmt.Sprintf("in %ds", st.RemainingSeconds))))
		}
	}
	rows = append(rows,
		row("Sessions", ValueStyle.Render(fmt.Sprintf("%d", st.CompletedCount))),
		row("Total", ValueStyle.Render(output.Duration(st.TotalSeconds))),
	)
	b.WriteString(PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n")

	if m.editing {
		b.WriteString("\n")
		b.WriteString(m.taskInput.View())
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.editing {
		b.WriteString(HelpStyle.Render(m.help.ShortHelpView([]key.Binding{m.keys.Submit, m.keys.Cancel})))
	} else {
		b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	}
	b.WriteString("\n")
	return b.String()
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
}

// Run starts the program with mouse tracking enabled and blocks until quit.
func Run(ctx context.Context, t *tracker.Tracker, opts Options) error {
	p := tea.NewProgram(New(ctx, t, opts), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
