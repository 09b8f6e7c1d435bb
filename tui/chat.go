// Package tui provides the Bubble Tea chat widget.
package tui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"portfolio-agent/models"
	"portfolio-agent/widget"
)

// Messages
type (
	turnDoneMsg  struct{ err error }
	resetDoneMsg struct{ err error }
)

const (
	headerHeight = 2
	statusHeight = 1
	inputHeight  = 5
)

// Model is the chat TUI. Conversation state lives in the controller;
// the model only owns terminal widgets.
type Model struct {
	ctx  context.Context
	ctrl *widget.Controller
	open func(url string) error

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width    int
	height   int
	ready    bool
	quitting bool

	// ctrl+o was pressed, waiting for an action number
	pickAction bool
	status     string
}

// New creates the chat model around ctrl
func New(ctx context.Context, ctrl *widget.Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textarea.New()
	ti.Placeholder = "How can I help you? (Enter to send)"
	ti.CharLimit = 4000
	ti.ShowLineNumbers = false
	ti.SetWidth(80)
	ti.SetHeight(3)
	ti.Focus()

	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		open:    openURL,
		input:   ti,
		spinner: s,
	}
}

// WithOpener replaces the function used to open action URLs
func (m Model) WithOpener(open func(url string) error) Model {
	m.open = open
	return m
}

// Init starts the spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		next, cmd, handled := m.handleKey(msg)
		if handled {
			next.refresh()
			return next, cmd
		}
		m = next

	case tea.WindowSizeMsg:
		m.handleWindowSize(msg)

	case turnDoneMsg:
		m.status = ""
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		}

	case resetDoneMsg:
		m.status = ""
		if msg.err != nil {
			m.status = "Reset failed: " + msg.err.Error()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.refresh()
	return m, tea.Batch(cmds...)
}

// handleKey reports handled=false for keys the textarea should still see
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	if m.pickAction {
		m.pickAction = false
		return m.openAction(msg.String()), nil, true
	}

	switch msg.String() {
	case "ctrl+c":
		m.ctrl.CancelRecording()
		m.quitting = true
		return m, tea.Quit, true

	case "esc":
		if m.ctrl.Snapshot().Recording {
			m.ctrl.CancelRecording()
			m.status = "Recording cancelled"
			return m, nil, true
		}
		if m.ctrl.Snapshot().PanelOpen {
			return m, m.closePanel(), true
		}
		return m, nil, true

	case "ctrl+r":
		return m.toggleRecording()

	case "ctrl+o":
		m.pickAction = true
		m.status = "Open action: press its number"
		return m, nil, true

	case "enter":
		state := m.ctrl.Snapshot()
		if state.Loading || strings.TrimSpace(m.input.Value()) == "" {
			return m, nil, true
		}
		m.ctrl.SetInput(m.input.Value())
		m.input.Reset()
		return m, m.submit(), true

	case "alt+enter", "ctrl+j":
		m.input.InsertString("\n")
		return m, nil, true
	}

	return m, nil, false
}

func (m Model) toggleRecording() (Model, tea.Cmd, bool) {
	if m.ctrl.Snapshot().Recording {
		m.status = "Transcribing..."
		ctrl, ctx := m.ctrl, m.ctx
		return m, func() tea.Msg {
			return turnDoneMsg{err: ctrl.StopRecording(ctx)}
		}, true
	}
	if err := m.ctrl.StartRecording(m.ctx); err != nil {
		m.status = "Recording failed: " + err.Error()
		return m, nil, true
	}
	m.status = "● Recording (ctrl+r to send, esc to cancel)"
	return m, nil, true
}

func (m Model) submit() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		_, err := ctrl.SubmitText(ctx)
		return turnDoneMsg{err: err}
	}
}

func (m Model) closePanel() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return resetDoneMsg{err: ctrl.ClosePanel(ctx)}
	}
}

// openAction opens the nth action of the latest assistant message
func (m Model) openAction(key string) Model {
	actions := latestActions(m.ctrl.Snapshot().Messages)
	n := 0
	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		n = int(key[0] - '0')
	}
	if n == 0 || n > len(actions) {
		m.status = "No such action"
		return m
	}

	action := actions[n-1]
	if err := m.open(action.URL); err != nil {
		m.status = fmt.Sprintf("Could not open %s: %v", action.URL, err)
		return m
	}
	m.status = "Opened " + action.URL
	return m
}

func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.ctrl.Resize(msg.Width)

	vpHeight := msg.Height - headerHeight - statusHeight - inputHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(msg.Width - 4)
}

// refresh re-renders the transcript and follows the scroll anchor
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	state := m.ctrl.Snapshot()
	m.viewport.SetContent(renderMessages(state, m.width))
	if state.ScrollToEnd {
		m.viewport.GotoBottom()
		m.ctrl.ScrolledToEnd()
	}
}

func latestActions(messages []widget.ChatMessage) []models.Action {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].Actions
		}
	}
	return nil
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// Run starts the full-screen chat
func Run(ctx context.Context, ctrl *widget.Controller) error {
	p := tea.NewProgram(New(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
