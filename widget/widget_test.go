package widget

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-agent/models"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantContent string
		wantLabels  []string
	}{
		{
			name:        "plain text",
			body:        `{"response": "plain text", "actions": []}`,
			wantContent: "plain text",
		},
		{
			name:        "nested single quoted",
			body:        `{"response": "{'response': 'nested', 'actions': [{'type':'x','label':'Y','url':'z'}]}", "actions": []}`,
			wantContent: "nested",
			wantLabels:  []string{"Y"},
		},
		{
			name:        "top level actions win",
			body:        `{"response": "{'response': 'ignored'}", "actions": [{"type":"schedule_meeting","label":"Book","url":"https://cal"}]}`,
			wantContent: "{'response': 'ignored'}",
			wantLabels:  []string{"Book"},
		},
		{
			name:        "broken nested falls back",
			body:        `{"response": "{'response': oops"}`,
			wantContent: "{'response': oops",
		},
		{
			name:        "nested without response field",
			body:        `{"response": "{'text': 'hello'}"}`,
			wantContent: "{'text': 'hello'}",
		},
		{
			name:        "nested actions not an array",
			body:        `{"response": "{'response': 'hi', 'actions': 'no'}"}`,
			wantContent: "hi",
		},
		{
			name:        "apostrophes survive",
			body:        `{"response": "{'response': 'I'm free tomorrow'}"}`,
			wantContent: "I'm free tomorrow",
		},
		{
			name:        "non string response",
			body:        `{"response": {"a": 1}}`,
			wantContent: `{"a":1}`,
		},
		{
			name:        "missing response",
			body:        `{}`,
			wantContent: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, got.Content)

			var labels []string
			for _, a := range got.Actions {
				labels = append(labels, a.Label)
			}
			assert.Equal(t, tt.wantLabels, labels)
		})
	}
}

func TestParseReplyRejectsNonJSON(t *testing.T) {
	_, err := ParseReply([]byte("<html>"))
	assert.Error(t, err)
}

func TestLayoutFor(t *testing.T) {
	assert.Equal(t, LayoutMobile, LayoutFor(0))
	assert.Equal(t, LayoutMobile, LayoutFor(639))
	assert.Equal(t, LayoutTablet, LayoutFor(640))
	assert.Equal(t, LayoutTablet, LayoutFor(1023))
	assert.Equal(t, LayoutDesktop, LayoutFor(1024))
}

// fakeServer mimics the agent HTTP surface
type fakeServer struct {
	mu     sync.Mutex
	resets []string
	audio  []models.AudioChatRequest
	reply  string
	fail   bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agno_chat", func(w http.ResponseWriter, r *http.Request) {
		if f.fail {
			http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			return
		}
		var req models.AgentChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		body := f.reply
		if body == "" {
			body = `{"response":"echo ` + req.Message + `","actions":[],"session_id":"sess-1"}`
		}
		w.Write([]byte(body))
	})
	mux.HandleFunc("/api/chat/audio", func(w http.ResponseWriter, r *http.Request) {
		var req models.AudioChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.audio = append(f.audio, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(models.VoiceResponse{
			Text:          "heard you",
			AudioResponse: base64.StdEncoding.EncodeToString([]byte("RIFF\x24\x00\x00\x00WAVEfmt ")),
			Actions:       []models.Action{},
			SessionID:     "sess-1",
			Outcome:       models.OutcomeOK,
		})
	})
	mux.HandleFunc("/api/chat/reset", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.resets = append(f.resets, r.Header.Get("X-Session-ID"))
		f.mu.Unlock()
		w.Write([]byte(`{"message":"Conversation reset successfully"}`))
	})
	return mux
}

type fakeRecorder struct {
	started  bool
	canceled bool
	audio    []byte
	err      error
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.started {
		return ErrRecorderBusy
	}
	r.started = true
	return nil
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.started = false
	return r.audio, r.err
}

func (r *fakeRecorder) Cancel() {
	r.started = false
	r.canceled = true
}

func newController(t *testing.T, rec Recorder) (*Controller, *fakeServer) {
	t.Helper()
	fs := &fakeServer{}
	server := httptest.NewServer(fs.handler())
	t.Cleanup(server.Close)

	c := NewController(NewClient(server.URL), rec, Options{AudioDir: t.TempDir(), Width: 1200})
	t.Cleanup(func() { c.Close() })
	return c, fs
}

func TestSubmitText(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	c.SetInput("   ")
	sent, err := c.SubmitText(ctx)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, c.Snapshot().Messages)
	assert.False(t, c.Snapshot().PanelOpen)

	c.SetInput("  hello  ")
	sent, err = c.SubmitText(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	s := c.Snapshot()
	assert.True(t, s.PanelOpen)
	assert.False(t, s.Loading)
	assert.True(t, s.ScrollToEnd)
	assert.Empty(t, s.Input)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, LayoutDesktop, s.Layout)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, ChatMessage{Role: models.RoleUser, Content: "hello"}, s.Messages[0])
	assert.Equal(t, "echo hello", s.Messages[1].Content)
	assert.Empty(t, s.Messages[1].Actions)
}

func TestSubmitTextNestedReply(t *testing.T) {
	c, fs := newController(t, nil)
	fs.reply = `{"response": "{'response': 'nested', 'actions': [{'type':'x','label':'Y','url':'z'}]}", "actions": []}`

	c.SetInput("hi")
	_, err := c.SubmitText(context.Background())
	require.NoError(t, err)

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "nested", msgs[1].Content)
	require.Len(t, msgs[1].Actions, 1)
	assert.Equal(t, "Y", msgs[1].Actions[0].Label)
}

func TestSubmitTextTransportError(t *testing.T) {
	c, fs := newController(t, nil)
	fs.fail = true

	c.SetInput("hello")
	sent, err := c.SubmitText(context.Background())
	assert.True(t, sent)
	assert.ErrorContains(t, err, "server error (500)")

	s := c.Snapshot()
	assert.False(t, s.Loading)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, models.RoleUser, s.Messages[0].Role)
}

func TestRecordingFlow(t *testing.T) {
	rec := &fakeRecorder{audio: []byte("captured")}
	c, fs := newController(t, rec)
	ctx := context.Background()

	assert.ErrorIs(t, c.StopRecording(ctx), ErrRecorderIdle)

	require.NoError(t, c.StartRecording(ctx))
	assert.True(t, c.Snapshot().Recording)
	assert.ErrorIs(t, c.StartRecording(ctx), ErrRecorderBusy)

	require.NoError(t, c.StopRecording(ctx))
	s := c.Snapshot()
	assert.False(t, s.Recording)
	assert.False(t, rec.started)

	require.Len(t, s.Messages, 2)
	assert.Equal(t, AudioPlaceholder, s.Messages[0].Content)
	assert.Equal(t, "heard you", s.Messages[1].Content)
	require.NotEmpty(t, s.Messages[1].AudioURL)
	assert.FileExists(t, s.Messages[1].AudioURL)

	require.Len(t, fs.audio, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("captured")), fs.audio[0].AudioData)
	assert.Equal(t, "wav", fs.audio[0].Format)
}

// slowRecorder blocks in Stop until release is closed
type slowRecorder struct {
	stopping chan struct{}
	release  chan struct{}
}

func (r *slowRecorder) Start(context.Context) error { return nil }

func (r *slowRecorder) Stop() ([]byte, error) {
	close(r.stopping)
	<-r.release
	return []byte("captured"), nil
}

func (r *slowRecorder) Cancel() {}

func TestStopRecordingDoesNotBlockSnapshot(t *testing.T) {
	rec := &slowRecorder{stopping: make(chan struct{}), release: make(chan struct{})}
	c, fs := newController(t, rec)
	ctx := context.Background()

	require.NoError(t, c.StartRecording(ctx))

	done := make(chan error, 1)
	go func() { done <- c.StopRecording(ctx) }()
	<-rec.stopping

	snap := make(chan State, 1)
	go func() { snap <- c.Snapshot() }()
	select {
	case s := <-snap:
		assert.False(t, s.Recording)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked while the recorder was stopping")
	}
	assert.ErrorIs(t, c.StartRecording(ctx), ErrRecorderBusy)
	assert.ErrorIs(t, c.StopRecording(ctx), ErrRecorderIdle)

	close(rec.release)
	require.NoError(t, <-done)
	assert.Len(t, c.Snapshot().Messages, 2)
	assert.Len(t, fs.audio, 1)

	require.NoError(t, c.StartRecording(ctx))
}

func TestRecordingFailureAppendsNothing(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("no microphone")}
	c, fs := newController(t, rec)
	ctx := context.Background()

	require.NoError(t, c.StartRecording(ctx))
	assert.Error(t, c.StopRecording(ctx))
	assert.False(t, c.Snapshot().Recording)
	assert.Empty(t, c.Snapshot().Messages)
	assert.Empty(t, fs.audio)
}

func TestCancelRecording(t *testing.T) {
	rec := &fakeRecorder{audio: []byte("x")}
	c, fs := newController(t, rec)

	require.NoError(t, c.StartRecording(context.Background()))
	c.CancelRecording()

	assert.True(t, rec.canceled)
	assert.False(t, c.Snapshot().Recording)
	assert.Empty(t, fs.audio)
}

func TestRecordingWithoutRecorder(t *testing.T) {
	c, _ := newController(t, nil)
	assert.Error(t, c.StartRecording(context.Background()))
}

func TestClosePanel(t *testing.T) {
	rec := &fakeRecorder{audio: []byte("captured")}
	c, fs := newController(t, rec)
	ctx := context.Background()

	// no session yet, nothing to reset
	require.NoError(t, c.ClosePanel(ctx))
	assert.Empty(t, fs.resets)

	require.NoError(t, c.StartRecording(ctx))
	require.NoError(t, c.StopRecording(ctx))
	audioFile := c.Snapshot().Messages[1].AudioURL

	require.NoError(t, c.ClosePanel(ctx))
	s := c.Snapshot()
	assert.False(t, s.PanelOpen)
	assert.Empty(t, s.Messages)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, []string{"sess-1"}, fs.resets)
	assert.NoFileExists(t, audioFile)
}

func TestResize(t *testing.T) {
	c := NewController(nil, nil, Options{Width: 500})
	assert.Equal(t, LayoutMobile, c.Snapshot().Layout)
	assert.Equal(t, LayoutTablet, c.Resize(800))
	assert.Equal(t, LayoutTablet, c.Snapshot().Layout)
}

func TestCommandRecorder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupt is not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	rec := &CommandRecorder{Command: "sh", Args: []string{"-c", "printf RIFFdata; exec sleep 10"}}
	require.NoError(t, rec.Start(context.Background()))
	assert.ErrorIs(t, rec.Start(context.Background()), ErrRecorderBusy)

	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	audio, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), audio)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = rec.Stop()
	assert.ErrorIs(t, err, ErrRecorderIdle)
}

func TestCommandRecorderCancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	rec := &CommandRecorder{Command: "sleep", Args: []string{"10"}}
	require.NoError(t, rec.Start(context.Background()))
	rec.Cancel()

	// released, so it can start again
	require.NoError(t, rec.Start(context.Background()))
	rec.Cancel()
}

func TestCommandRecorderMissingBinary(t *testing.T) {
	rec := &CommandRecorder{Command: "definitely-not-a-recorder-binary"}
	assert.ErrorContains(t, rec.Start(context.Background()), "failed to start")
}
