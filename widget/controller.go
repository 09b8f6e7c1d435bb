// Package widget is the client side of the chat: a controller that keeps a
// local mirror of the conversation and talks to the agent server.
package widget

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"portfolio-agent/models"
)

// AudioPlaceholder is the user bubble shown for a voice message
const AudioPlaceholder = "🎤 Audio message"

// ChatMessage is one bubble of the local mirror
type ChatMessage struct {
	Role     models.Role
	Content  string
	AudioURL string
	Actions  []models.Action
}

// State is a snapshot of the controller for rendering
type State struct {
	Input       string
	Messages    []ChatMessage
	Recording   bool
	PanelOpen   bool
	Layout      Layout
	ScrollToEnd bool
	Loading     bool
	SessionID   string
}

// Options configure a Controller
type Options struct {
	// AudioFormat is the container the recorder produces
	AudioFormat string
	// AudioDir receives reply audio files, os.TempDir() when empty
	AudioDir string
	// Width is the initial viewport width
	Width int
}

// Controller drives the chat widget. It is safe for concurrent use; render
// from Snapshot.
type Controller struct {
	api      API
	recorder Recorder
	opts     Options

	mu    sync.Mutex
	state State
	files []string
	// stopping is set while recorder.Stop runs outside the lock
	stopping bool
}

// NewController creates a controller. recorder may be nil when voice input
// is unavailable.
func NewController(api API, recorder Recorder, opts Options) *Controller {
	if opts.AudioFormat == "" {
		opts.AudioFormat = "wav"
	}
	return &Controller{
		api:      api,
		recorder: recorder,
		opts:     opts,
		state:    State{Layout: LayoutFor(opts.Width)},
	}
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Messages = make([]ChatMessage, len(c.state.Messages))
	copy(s.Messages, c.state.Messages)
	return s
}

// SetInput replaces the input buffer
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.state.Input = text
	c.mu.Unlock()
}

// Resize recomputes the layout mode for width
func (c *Controller) Resize(width int) Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Layout = LayoutFor(width)
	return c.state.Layout
}

// ScrolledToEnd clears the scroll anchor once the view has followed it
func (c *Controller) ScrolledToEnd() {
	c.mu.Lock()
	c.state.ScrollToEnd = false
	c.mu.Unlock()
}

// SubmitText sends the input buffer. It returns false without doing anything
// when the buffer is blank. A transport failure leaves only the user bubble.
func (c *Controller) SubmitText(ctx context.Context) (bool, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.state.Input)
	if text == "" {
		c.mu.Unlock()
		return false, nil
	}
	c.appendLocked(ChatMessage{Role: models.RoleUser, Content: text})
	c.state.Input = ""
	c.state.PanelOpen = true
	c.state.Loading = true
	sessionID := c.state.SessionID
	c.mu.Unlock()

	body, err := c.api.AgentChat(ctx, text, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
	if err != nil {
		return true, err
	}

	parsed, err := ParseReply(body)
	if err != nil {
		return true, err
	}
	c.learnSession(parsed.SessionID)
	c.appendLocked(ChatMessage{
		Role:    models.RoleAssistant,
		Content: parsed.Content,
		Actions: parsed.Actions,
	})
	return true, nil
}

// StartRecording acquires the recorder
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder == nil {
		return errors.New("voice input is not available")
	}
	if c.state.Recording || c.stopping {
		return ErrRecorderBusy
	}
	if err := c.recorder.Start(ctx); err != nil {
		return err
	}
	c.state.Recording = true
	return nil
}

// CancelRecording releases the recorder and drops the audio
func (c *Controller) CancelRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Recording {
		return
	}
	c.recorder.Cancel()
	c.state.Recording = false
}

// StopRecording releases the recorder and submits the captured audio for
// transcription and a spoken reply
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Recording {
		c.mu.Unlock()
		return ErrRecorderIdle
	}
	c.state.Recording = false
	c.stopping = true
	c.mu.Unlock()

	// Stop may wait for the capture process to exit
	audio, err := c.recorder.Stop()

	c.mu.Lock()
	c.stopping = false
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.appendLocked(ChatMessage{Role: models.RoleUser, Content: AudioPlaceholder})
	c.state.PanelOpen = true
	c.state.Loading = true
	sessionID := c.state.SessionID
	c.mu.Unlock()

	resp, err := c.api.AudioChat(ctx, base64.StdEncoding.EncodeToString(audio), c.opts.AudioFormat, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
	if err != nil {
		return err
	}

	msg := ChatMessage{Role: models.RoleAssistant, Content: resp.Text, Actions: resp.Actions}
	if resp.AudioResponse != "" {
		path, err := c.saveAudio(resp.AudioResponse)
		if err != nil {
			return err
		}
		msg.AudioURL = path
	}
	c.learnSession(resp.SessionID)
	c.appendLocked(msg)
	return nil
}

// ClosePanel hides the panel, wipes the local mirror and resets the
// server transcript of this session
func (c *Controller) ClosePanel(ctx context.Context) error {
	c.mu.Lock()
	c.state.PanelOpen = false
	c.state.Messages = nil
	c.state.ScrollToEnd = false
	sessionID := c.state.SessionID
	c.removeFilesLocked()
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	return c.api.Reset(ctx, sessionID)
}

// Close removes reply audio files
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeFilesLocked()
}

func (c *Controller) appendLocked(msg ChatMessage) {
	c.state.Messages = append(c.state.Messages, msg)
	c.state.ScrollToEnd = true
}

func (c *Controller) learnSession(id string) {
	if id != "" {
		c.state.SessionID = id
	}
}

// saveAudio writes base64 reply audio to a file and returns its path
func (c *Controller) saveAudio(b64 string) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("failed to decode reply audio: %w", err)
	}
	ext := mimetype.Detect(audio).Extension()
	if ext == "" {
		ext = ".audio"
	}
	f, err := os.CreateTemp(c.opts.AudioDir, "agent-reply-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(audio); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	c.files = append(c.files, f.Name())
	return f.Name(), nil
}

func (c *Controller) removeFilesLocked() error {
	var errs []error
	for _, path := range c.files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.files = nil
	return errors.Join(errs...)
}
