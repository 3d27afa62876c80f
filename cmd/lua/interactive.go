package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/lua-runtime/errors"
	"github.com/wippyai/lua-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 200

type replEntry struct {
	input  string
	output string
	isErr  bool
}

type replModel struct {
	rt      *runtime.Runtime
	input   textinput.Model
	history []replEntry

	// Statement continuation buffer: lines accumulate here until the
	// chunk parses.
	pending []string
}

func newReplModel(rt *runtime.Runtime) *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("> ")
	ti.Placeholder = `print("hello")`
	ti.Width = 78
	ti.Focus()

	return &replModel{
		rt:    rt,
		input: ti,
	}
}

type evalResultMsg struct {
	input      string
	output     string
	isErr      bool
	incomplete bool
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "esc":
			m.pending = nil
			m.input.SetValue("")
			return m, nil

		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			if strings.TrimSpace(line) == "" && len(m.pending) == 0 {
				return m, nil
			}
			m.pending = append(m.pending, line)
			chunk := strings.Join(m.pending, "\n")
			return m, func() tea.Msg { return m.eval(chunk) }
		}

	case evalResultMsg:
		if msg.incomplete {
			m.input.Prompt = promptStyle.Render(">> ")
			return m, nil
		}
		m.pending = nil
		m.input.Prompt = promptStyle.Render("> ")
		m.history = append(m.history, replEntry{
			input:  msg.input,
			output: msg.output,
			isErr:  msg.isErr,
		})
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// eval runs one REPL chunk: expression first, then statement, with
// unfinished statements held open for continuation lines.
func (m *replModel) eval(chunk string) tea.Msg {
	result, err := m.rt.Eval(chunk)
	if errors.IsKind(err, errors.KindSyntax) {
		result, err = m.rt.Execute(chunk)
	}
	if err != nil {
		if errors.IsKind(err, errors.KindSyntax) && isIncomplete(err) {
			return evalResultMsg{incomplete: true}
		}
		return evalResultMsg{input: chunk, output: err.Error(), isErr: true}
	}

	out := ""
	if result != nil {
		out = fmt.Sprintf("%v", result)
	}
	return evalResultMsg{input: chunk, output: out}
}

// isIncomplete detects a chunk cut off mid-statement, the signal to
// keep reading continuation lines.
func isIncomplete(err error) bool {
	return strings.Contains(err.Error(), "<eof>")
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Lua Bridge REPL"))
	b.WriteString("\n\n")

	for _, e := range m.history {
		for _, line := range strings.Split(e.input, "\n") {
			b.WriteString(promptStyle.Render("> "))
			b.WriteString(line)
			b.WriteString("\n")
		}
		if e.output != "" {
			if e.isErr {
				b.WriteString(errorStyle.Render(e.output))
			} else {
				b.WriteString(resultStyle.Render(e.output))
			}
			b.WriteString("\n")
		}
	}

	for _, line := range m.pending {
		b.WriteString(promptStyle.Render("> "))
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter eval • esc cancel input • ctrl+c quit"))

	return b.String()
}

func runInteractive(rt *runtime.Runtime) error {
	p := tea.NewProgram(newReplModel(rt))
	_, err := p.Run()
	return err
}
