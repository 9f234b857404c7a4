package wizard

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Task is a pass run behind the spinner. It returns a one-line summary.
type Task func(ctx context.Context) (string, error)

type taskDoneMsg struct {
	summary string
	err     error
}

// ProgressModel shows a spinner while a task runs, then its outcome.
type ProgressModel struct {
	label   string
	task    Task
	ctx     context.Context
	cancel  context.CancelFunc
	spinner spinner.Model
	running bool
	summary string
	err     error
}

// NewProgressModel prepares label and task. The task starts on Init.
func NewProgressModel(ctx context.Context, label string, task Task) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ctx, cancel := context.WithCancel(ctx)
	return ProgressModel{
		label:   label,
		task:    task,
		ctx:     ctx,
		cancel:  cancel,
		spinner: s,
		running: true,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		summary, err := m.task(m.ctx)
		return taskDoneMsg{summary: summary, err: err}
	})
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// The task sees the cancellation and returns; keep waiting for it.
			m.cancel()
		}
		return m, nil

	case taskDoneMsg:
		m.running = false
		m.summary = msg.summary
		m.err = msg.err
		m.cancel()
		return m, tea.Quit

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder
	switch {
	case m.running:
		b.WriteString(fmt.Sprintf("  %s %s...\n", m.spinner.View(), m.label))
	case m.err != nil:
		b.WriteString(errStyle.Render("  "+m.label+" failed: "+m.err.Error()) + "\n")
	default:
		b.WriteString(successStyle.Render("  "+m.label+" finished") + "\n")
		if m.summary != "" {
			b.WriteString(dimStyle.Render("  "+m.summary) + "\n")
		}
	}
	return b.String()
}

// Err returns the task error once finished.
func (m ProgressModel) Err() error {
	return m.err
}

// RunWithSpinner runs task behind a spinner on out and returns its error.
func RunWithSpinner(ctx context.Context, out io.Writer, label string, task Task) error {
	p := tea.NewProgram(NewProgressModel(ctx, label, task), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running progress view: %w", err)
	}
	return final.(ProgressModel).Err()
}
