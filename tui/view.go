package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"portfolio-agent/models"
	"portfolio-agent/reply"
	"portfolio-agent/widget"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	userBubbleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("127")).
			Padding(0, 1)

	assistantBubbleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("236")).
				Padding(0, 1)

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("33")).
			Bold(true).
			Padding(0, 1)

	audioStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Starting...", m.spinner.View())
	}

	state := m.ctrl.Snapshot()
	var b strings.Builder

	b.WriteString(titleStyle.Render("💬 Portfolio assistant") + "\n\n")
	if state.PanelOpen {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(strings.Repeat("\n", m.viewport.Height-1))
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus(state) + "\n")
	b.WriteString(inputStyle.Render(m.input.View()))
	return b.String()
}

func (m Model) renderStatus(state widget.State) string {
	parts := []string{string(state.Layout)}
	if state.Loading {
		parts = append(parts, m.spinner.View()+" Generating")
	}
	if state.Recording {
		parts = append(parts, "● REC")
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	parts = append(parts, "ctrl+r voice · ctrl+o open · esc close")
	return statusStyle.Render(strings.Join(parts, "  "))
}

// bubbleWidth narrows bubbles on wider layouts
func bubbleWidth(layout widget.Layout, width int) int {
	switch layout {
	case widget.LayoutMobile:
		return max(width-2, 10)
	case widget.LayoutTablet:
		return max(width*4/5, 10)
	default:
		return max(width*3/5, 10)
	}
}

func renderMessages(state widget.State, width int) string {
	w := bubbleWidth(state.Layout, width)
	var b strings.Builder

	for _, msg := range state.Messages {
		if msg.Role == models.RoleUser {
			bubble := userBubbleStyle.Width(w).Render(msg.Content)
			b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble) + "\n\n")
			continue
		}

		lines := []string{assistantBubbleStyle.Width(w).Render(msg.Content)}
		for i, action := range msg.Actions {
			label := action.Label
			if action.Type == reply.ActionScheduleMeeting {
				label = "📅 " + label
			}
			lines = append(lines, actionStyle.Render(fmt.Sprintf("[%d] %s", i+1, label)))
		}
		if msg.AudioURL != "" {
			lines = append(lines, audioStyle.Render("♪ "+msg.AudioURL))
		}
		b.WriteString(strings.Join(lines, "\n") + "\n\n")
	}

	if state.Loading {
		b.WriteString(audioStyle.Render("Generating...") + "\n")
	}
	return b.String()
}
