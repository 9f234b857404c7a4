package wizard

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Operation is a pass chosen from the menu.
type Operation string

const (
	OpScan   Operation = "scan"
	OpEncode Operation = "encode"
	OpDecode Operation = "decode"
)

// ErrCancelled is returned when the user leaves the menu.
var ErrCancelled = errors.New("cancelled")

// ParseChoice maps a menu entry to an operation.
func ParseChoice(s string) (Operation, bool) {
	switch strings.TrimSpace(s) {
	case "1":
		return OpScan, true
	case "2":
		return OpEncode, true
	case "3":
		return OpDecode, true
	}
	return "", false
}

// Selection is what the menu returns.
type Selection struct {
	Database  string
	Operation Operation
}

const menuText = "  1) Capture schema\n  2) Encode confidential columns\n  3) Decode confidential columns\n"

type menuStage int

const (
	stageDatabase menuStage = iota
	stageOperation
)

// MenuModel is the bubbletea model for the database and operation prompt.
type MenuModel struct {
	stage     menuStage
	database  textinput.Model
	choice    textinput.Model
	defaultDB string
	statusMsg string
	result    *Selection
	done      bool
}

// NewMenuModel returns a menu prefilled with defaultDB.
func NewMenuModel(defaultDB string) MenuModel {
	db := textinput.New()
	db.Placeholder = defaultDB
	db.CharLimit = 128
	db.Focus()

	choice := textinput.New()
	choice.Placeholder = "1"
	choice.CharLimit = 4

	return MenuModel{
		database:  db,
		choice:    choice,
		defaultDB: defaultDB,
	}
}

func (m MenuModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		case "enter":
			return m.submit()
		}
	}

	var cmd tea.Cmd
	if m.stage == stageDatabase {
		m.database, cmd = m.database.Update(msg)
	} else {
		m.choice, cmd = m.choice.Update(msg)
	}
	return m, cmd
}

func (m MenuModel) submit() (tea.Model, tea.Cmd) {
	switch m.stage {
	case stageDatabase:
		name := strings.TrimSpace(m.database.Value())
		if name == "" {
			name = m.defaultDB
		}
		if err := validateDatabase(name); err != nil {
			m.statusMsg = err.Error()
			return m, nil
		}
		m.database.SetValue(name)
		m.database.Blur()
		m.stage = stageOperation
		m.statusMsg = ""
		return m, m.choice.Focus()

	default:
		op, ok := ParseChoice(m.choice.Value())
		if !ok {
			m.statusMsg = fmt.Sprintf("%q is not a menu option; enter 1, 2 or 3", m.choice.Value())
			m.choice.SetValue("")
			return m, nil
		}
		m.result = &Selection{Database: m.database.Value(), Operation: op}
		m.done = true
		return m, tea.Quit
	}
}

func (m MenuModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("colmask") + "\n\n")
	b.WriteString(dimStyle.Render("  Database ") + m.database.View() + "\n")

	if m.stage == stageOperation {
		b.WriteString("\n" + menuText + "\n")
		b.WriteString(highlightStyle.Render("> ") + m.choice.View() + "\n")
	}

	b.WriteString("\n")
	if m.statusMsg != "" {
		b.WriteString(errStyle.Render("  "+m.statusMsg) + "\n")
	} else {
		b.WriteString(dimStyle.Render("  enter to confirm • esc to cancel") + "\n")
	}
	return b.String()
}

// Result returns the selection, or nil if the menu was cancelled.
func (m MenuModel) Result() *Selection {
	return m.result
}

// Done returns true if the model has finished.
func (m MenuModel) Done() bool {
	return m.done
}

// Cancelled returns true if the user left without choosing.
func (m MenuModel) Cancelled() bool {
	return m.done && m.result == nil
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Prompt asks for a database and an operation. On a terminal it runs the
// bubbletea menu; otherwise it reads lines from in.
func Prompt(in *os.File, out io.Writer, defaultDB string) (Selection, error) {
	if !IsTerminal(in) {
		return PromptLines(in, out, defaultDB)
	}

	p := tea.NewProgram(NewMenuModel(defaultDB), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return Selection{}, fmt.Errorf("running menu: %w", err)
	}
	mm := final.(MenuModel)
	if mm.Cancelled() || mm.Result() == nil {
		return Selection{}, ErrCancelled
	}
	return *mm.Result(), nil
}

// PromptLines is the line-oriented menu. Invalid entries re-prompt; end of
// input cancels.
func PromptLines(in io.Reader, out io.Writer, defaultDB string) (Selection, error) {
	sc := bufio.NewScanner(in)
	read := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	var sel Selection
	for {
		if defaultDB != "" {
			fmt.Fprintf(out, "Database [%s]: ", defaultDB)
		} else {
			fmt.Fprint(out, "Database: ")
		}
		line, ok := read()
		if !ok {
			return Selection{}, ErrCancelled
		}
		if line == "" {
			line = defaultDB
		}
		if err := validateDatabase(line); err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		sel.Database = line
		break
	}

	for {
		fmt.Fprint(out, menuText+"Choice: ")
		line, ok := read()
		if !ok {
			return Selection{}, ErrCancelled
		}
		if op, ok := ParseChoice(line); ok {
			sel.Operation = op
			return sel, nil
		}
		fmt.Fprintf(out, "%q is not a menu option; enter 1, 2 or 3\n", line)
	}
}

func validateDatabase(name string) error {
	if name == "" {
		return errors.New("a database name is required")
	}
	if len(name) > 128 || strings.ContainsAny(name, "'\";[]\x00\r\n") {
		return fmt.Errorf("%q is not a usable database name", name)
	}
	return nil
}

// styles
var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)
