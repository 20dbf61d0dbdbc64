package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("245"))
	spinFrames  = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
}

func (m *model) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinFrames)
		return m, tick()
	case doneMsg:
		m.done, m.details, m.err = true, msg.details, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s\n", spinFrames[m.frame], titleStyle.Render(m.title))
	}
	return Render(m.title, m.details, m.err)
}

// Render formats a finished operation the same way the interactive view does.
func Render(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("✗ " + title))
	} else {
		b.WriteString(okStyle.Render("✓ " + title))
	}
	b.WriteString("\n")
	for _, d := range details {
		b.WriteString(detailStyle.Render(d))
		b.WriteString("\n")
	}
	if err != nil {
		b.WriteString(detailStyle.Render("error: " + err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// Run shows a spinner while fn executes and leaves the result on screen.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &model{title: title, cancel: cancel}
	p := tea.NewProgram(m)
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	if _, err := p.Run(); err != nil {
		return nil, err
	}
	return m.details, m.err
}
