package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-agent/models"
	"portfolio-agent/reply"
	"portfolio-agent/session"
)

const (
	testSystem   = "system prompt"
	testFallback = "Sorry, something went wrong."
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	seen    [][]models.Message
	onCalls func(history []models.Message)
}

func (f *fakeCompleter) Complete(_ context.Context, history []models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]models.Message, len(history))
	copy(snapshot, history)
	f.seen = append(f.seen, snapshot)
	if f.onCalls != nil {
		f.onCalls(snapshot)
	}
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return fmt.Sprintf("reply to %s", history[len(history)-1].Content), nil
	}
	return f.reply, nil
}

type fakeSynth struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

type fakeTranscriber struct {
	text     string
	err      error
	filename string
	audio    []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, filename string) (string, error) {
	f.filename = filename
	f.audio = audio
	return f.text, f.err
}

type fakeArchive struct {
	turns []models.Message
	err   error
}

func (f *fakeArchive) RecordTurn(_ context.Context, _ string, user, assistant models.Message, _ []models.Action) error {
	f.turns = append(f.turns, user, assistant)
	return f.err
}

type fixture struct {
	backend  *session.MemoryBackend
	sessions *session.Manager
	llm      *fakeCompleter
	tts      *fakeSynth
	stt      *fakeTranscriber
	archive  *fakeArchive
	proc     *TurnProcessor
}

func newFixture() *fixture {
	backend := session.NewMemoryBackend()
	f := &fixture{
		backend:  backend,
		sessions: session.NewManager(backend, testSystem),
		llm:      &fakeCompleter{},
		tts:      &fakeSynth{audio: []byte("wav-bytes")},
		stt:      &fakeTranscriber{text: "transcribed question"},
		archive:  &fakeArchive{},
	}
	f.proc = NewTurnProcessor(Deps{
		Sessions:    f.sessions,
		Completer:   f.llm,
		Synthesizer: f.tts,
		Transcriber: f.stt,
		Normalizer: reply.Normalizer{
			BookingURL: "https://calendly.com/owner/30min",
			Keywords:   []string{"meeting"},
		},
		Fallback: testFallback,
		Archive:  f.archive,
	})
	return f
}

func (f *fixture) history(t *testing.T, id string) []models.Message {
	t.Helper()
	h, err := f.sessions.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestProcessTextInput(t *testing.T) {
	f := newFixture()

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{Speak: true})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "reply to hello", res.Text)
	assert.Equal(t, []byte("wav-bytes"), res.Audio)
	assert.Empty(t, res.Actions)

	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: testSystem},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "reply to hello"},
	}, f.history(t, "s1"))
	assert.Len(t, f.archive.turns, 2)
}

func TestTranscriptGrowsByTwoPerTurn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for n := 1; n <= 6; n++ {
		_, err := f.proc.ProcessTextInput(ctx, "s1", fmt.Sprintf("turn %d", n), Options{Speak: n%2 == 0})
		require.NoError(t, err)

		history := f.history(t, "s1")
		assert.Len(t, history, 1+2*n)
		assert.Equal(t, models.Message{Role: models.RoleSystem, Content: testSystem}, history[0])
	}

	require.NoError(t, f.proc.ClearConversation(ctx, "s1"))
	assert.Len(t, f.history(t, "s1"), 1)
}

func TestUserMessageVisibleBeforeProviderCall(t *testing.T) {
	f := newFixture()
	f.llm.onCalls = func(history []models.Message) {
		// the provider sees the user message as the last element
		assert.Equal(t, models.Message{Role: models.RoleUser, Content: "ping"}, history[len(history)-1])

		stored, err := f.sessions.History(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "ping", stored[len(stored)-1].Content)
	}

	_, err := f.proc.ProcessTextInput(context.Background(), "s1", "ping", Options{})
	require.NoError(t, err)
	require.Len(t, f.llm.seen, 1)
	assert.Len(t, f.llm.seen[0], 2)
}

func TestEmptyTextIsRejected(t *testing.T) {
	f := newFixture()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.proc.ProcessTextInput(context.Background(), "s1", text, Options{})
		assert.ErrorIs(t, err, ErrMissingInput)
	}
	assert.Len(t, f.history(t, "s1"), 1)
	assert.Empty(t, f.llm.seen)
}

func TestCompletionFailureDegrades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.proc.ProcessTextInput(ctx, "s1", "first", Options{})
	require.NoError(t, err)

	f.llm.err = errors.New("quota exceeded")
	res, err := f.proc.ProcessTextInput(ctx, "s1", "second", Options{Speak: true})
	require.NoError(t, err)

	assert.False(t, res.OK())
	assert.Equal(t, testFallback, res.Text)
	assert.Empty(t, res.Audio)
	assert.NotNil(t, res.Audio)
	require.NotNil(t, res.Err)
	assert.Equal(t, models.KindCompletion, res.Err.Kind)
	assert.Equal(t, "upstream request failed", res.Err.Detail)
	assert.Equal(t, models.OutcomeProviderError, res.Outcome())

	// transcript unchanged by the failed turn, fallback not injected
	assert.Len(t, f.history(t, "s1"), 3)
	assert.Equal(t, 0, f.tts.calls)
}

func TestSynthesisFailureDegrades(t *testing.T) {
	f := newFixture()
	f.tts.err = errors.New("tts down")

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{Speak: true})
	require.NoError(t, err)

	require.NotNil(t, res.Err)
	assert.Equal(t, models.KindSynthesis, res.Err.Kind)
	assert.Equal(t, testFallback, res.Text)
	assert.Empty(t, res.Audio)
	assert.Len(t, f.history(t, "s1"), 1)
	assert.Empty(t, f.archive.turns)
}

func TestNoSynthesisWithoutSpeak(t *testing.T) {
	f := newFixture()

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Audio)
	assert.Equal(t, 0, f.tts.calls)
}

func TestEmptyCompletionUsesFallback(t *testing.T) {
	f := newFixture()
	f.llm.reply = "   "

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, testFallback, res.Text)
	history := f.history(t, "s1")
	assert.Equal(t, testFallback, history[len(history)-1].Content)
}

func TestNestedReplyAndBookingAction(t *testing.T) {
	f := newFixture()
	f.llm.reply = "{'response': 'Let us plan a meeting', 'actions': []}"

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "can we set up a meeting?", Options{})
	require.NoError(t, err)

	assert.Equal(t, "Let us plan a meeting", res.Text)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, reply.ActionScheduleMeeting, res.Actions[0].Type)

	history := f.history(t, "s1")
	assert.Equal(t, "Let us plan a meeting", history[2].Content)
}

func TestArchiveFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture()
	f.archive.err = errors.New("db down")

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Len(t, f.history(t, "s1"), 3)
}

func TestCanceledContextDegrades(t *testing.T) {
	f := newFixture()
	f.llm.err = context.Canceled

	res, err := f.proc.ProcessTextInput(context.Background(), "s1", "hello", Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, "canceled", res.Err.Detail)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestProcessAudioInput(t *testing.T) {
	f := newFixture()
	payload := base64.StdEncoding.EncodeToString([]byte("some audio"))

	res, err := f.proc.ProcessAudioInput(context.Background(), "s1", payload, "webm", Options{Speak: true})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, "reply to transcribed question", res.Text)
	assert.Equal(t, "audio.webm", f.stt.filename)

	history := f.history(t, "s1")
	require.Len(t, history, 3)
	assert.Equal(t, "transcribed question", history[1].Content)
}

func TestProcessAudioInputSniffsFormat(t *testing.T) {
	f := newFixture()
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
	payload := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)

	_, err := f.proc.ProcessAudioInput(context.Background(), "s1", payload, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, "audio.wav", f.stt.filename)

	// unknown bytes fall back to the configured format
	payload = base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0x02})
	_, err = f.proc.ProcessAudioInput(context.Background(), "s2", payload, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, "audio.wav", f.stt.filename)
}

func TestProcessAudioInputRejectsBadPayload(t *testing.T) {
	f := newFixture()

	_, err := f.proc.ProcessAudioInput(context.Background(), "s1", "", "wav", Options{})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = f.proc.ProcessAudioInput(context.Background(), "s1", "%%%not-base64", "wav", Options{})
	assert.ErrorIs(t, err, ErrInvalidAudio)

	assert.Len(t, f.history(t, "s1"), 1)
}

func TestTranscriptionFailureLeavesSessionUntouched(t *testing.T) {
	f := newFixture()
	f.stt.err = errors.New("whisper down")
	payload := base64.StdEncoding.EncodeToString([]byte("audio"))

	res, err := f.proc.ProcessAudioInput(context.Background(), "s1", payload, "wav", Options{Speak: true})
	require.NoError(t, err)

	require.NotNil(t, res.Err)
	assert.Equal(t, models.KindTranscription, res.Err.Kind)
	assert.Equal(t, testFallback, res.Text)
	assert.Empty(t, res.Audio)
	assert.Len(t, f.history(t, "s1"), 1)
	assert.Empty(t, f.llm.seen)
}

func TestAudioProviderFailuresDegrade(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  string
	}{
		{
			name:  "completion",
			setup: func(f *fixture) { f.llm.err = errors.New("openai down") },
			kind:  models.KindCompletion,
		},
		{
			name:  "synthesis",
			setup: func(f *fixture) { f.tts.err = errors.New("tts down") },
			kind:  models.KindSynthesis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			payload := base64.StdEncoding.EncodeToString([]byte("audio"))

			res, err := f.proc.ProcessAudioInput(context.Background(), "s1", payload, "wav", Options{Speak: true})
			require.NoError(t, err)

			require.NotNil(t, res.Err)
			assert.Equal(t, tt.kind, res.Err.Kind)
			assert.Equal(t, testFallback, res.Text)
			assert.Empty(t, res.Audio)
			assert.Empty(t, res.Actions)
			assert.Len(t, f.history(t, "s1"), 1)
			assert.Empty(t, f.archive.turns)
		})
	}
}

func TestProcessAudioInputAcceptsBase64Variants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []byte
	}{
		{name: "padded", payload: "aGVsbG8=", want: []byte("hello")},
		{name: "unpadded", payload: "aGVsbG8", want: []byte("hello")},
		{name: "url safe", payload: "-_8=", want: []byte{0xfb, 0xff}},
		{name: "url safe unpadded", payload: "-_8", want: []byte{0xfb, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			res, err := f.proc.ProcessAudioInput(context.Background(), "s1", tt.payload, "wav", Options{})
			require.NoError(t, err)
			assert.Nil(t, res.Err)
			assert.Equal(t, tt.want, f.stt.audio)
		})
	}
}

func TestEmptyTranscriptionIsProviderError(t *testing.T) {
	f := newFixture()
	f.stt.text = "  "
	payload := base64.StdEncoding.EncodeToString([]byte("audio"))

	res, err := f.proc.ProcessAudioInput(context.Background(), "s1", payload, "wav", Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, models.KindTranscription, res.Err.Kind)
}

func TestConcurrentTurnsDoNotInterleave(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.proc.ProcessTextInput(ctx, "shared", fmt.Sprintf("q%d", i), Options{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history := f.history(t, "shared")
	require.Len(t, history, 51)
	for i := 1; i < len(history); i += 2 {
		assert.Equal(t, models.RoleUser, history[i].Role)
		assert.Equal(t, models.RoleAssistant, history[i+1].Role)
		assert.Equal(t, "reply to "+history[i].Content, history[i+1].Content)
	}
}

func TestTranscriptState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, state, err := f.proc.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateFresh, state)

	_, err = f.proc.ProcessTextInput(ctx, "s1", "hello", Options{})
	require.NoError(t, err)

	messages, state, err := f.proc.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, state)
	assert.Len(t, messages, 3)
}

func TestTranscriptDoesNotCreateSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, id := range []string{"ghost-1", "ghost-2"} {
		messages, state, err := f.proc.Transcript(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, session.StateFresh, state)
		assert.Equal(t, []models.Message{{Role: models.RoleSystem, Content: testSystem}}, messages)
	}
	require.NoError(t, f.proc.ClearConversation(ctx, "ghost-3"))

	assert.Equal(t, 0, f.backend.Len())
}
