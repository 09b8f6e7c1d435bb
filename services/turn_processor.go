package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"portfolio-agent/logger"
	"portfolio-agent/metrics"
	"portfolio-agent/models"
	"portfolio-agent/reply"
	"portfolio-agent/session"
)

var (
	// ErrMissingInput is returned when a turn carries no text or audio
	ErrMissingInput = errors.New("input is required")
	// ErrInvalidAudio is returned when the audio payload is not base64
	ErrInvalidAudio = errors.New("audio data is not valid base64")
)

// Archive records completed turns. Implementations must not be relied on
// to rebuild prompt context.
type Archive interface {
	RecordTurn(ctx context.Context, sessionID string, user, assistant models.Message, actions []models.Action) error
}

// Options tune a single turn
type Options struct {
	// Speak requests a synthesized audio rendition of the reply
	Speak bool
}

// Deps wires a TurnProcessor
type Deps struct {
	Sessions    *session.Manager
	Completer   Completer
	Synthesizer Synthesizer
	Transcriber Transcriber
	Normalizer  reply.Normalizer
	Fallback    string
	AudioFormat string

	// Optional
	Archive Archive
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// TurnProcessor orchestrates one user/assistant exchange:
// user message appended, completion, synthesis, assistant message appended.
type TurnProcessor struct {
	sessions    *session.Manager
	completer   Completer
	synthesizer Synthesizer
	transcriber Transcriber
	normalizer  reply.Normalizer
	fallback    string
	audioFormat string

	archive Archive
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewTurnProcessor creates a processor from its dependencies
func NewTurnProcessor(d Deps) *TurnProcessor {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	format := d.AudioFormat
	if format == "" {
		format = "wav"
	}
	return &TurnProcessor{
		sessions:    d.Sessions,
		completer:   d.Completer,
		synthesizer: d.Synthesizer,
		transcriber: d.Transcriber,
		normalizer:  d.Normalizer,
		fallback:    d.Fallback,
		audioFormat: format,
		archive:     d.Archive,
		metrics:     d.Metrics,
		log:         log.Component("turns"),
	}
}

// ProcessTextInput runs a turn for typed text.
// Provider failures never surface as an error; they come back as a
// TurnResult carrying the fallback text and a ProviderError.
func (p *TurnProcessor) ProcessTextInput(ctx context.Context, sessionID, text string, opts Options) (models.TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.TurnResult{}, ErrMissingInput
	}

	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	return p.runTurn(ctx, sessionID, "text", text, opts)
}

// ProcessAudioInput transcribes base64 audio and runs a turn with the text.
// An empty format is sniffed from the audio itself.
func (p *TurnProcessor) ProcessAudioInput(ctx context.Context, sessionID, base64Audio, format string, opts Options) (models.TurnResult, error) {
	audio, err := decodeAudio(base64Audio)
	if err != nil {
		return models.TurnResult{}, err
	}
	format = p.resolveFormat(format, audio)

	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, audio, "audio."+format)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty transcription")
	}
	p.observe(models.KindTranscription, sessionID, start, err)
	if err != nil {
		return p.degraded("audio", sessionID, models.KindTranscription, err), nil
	}

	return p.runTurn(ctx, sessionID, "audio", text, opts)
}

// ClearConversation resets the session to its system message. It waits
// for an in-flight turn on the same session.
func (p *TurnProcessor) ClearConversation(ctx context.Context, sessionID string) error {
	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	return p.sessions.Reset(ctx, sessionID)
}

// Transcript returns a snapshot of the session and its state. Reading an
// unknown session does not create it.
func (p *TurnProcessor) Transcript(ctx context.Context, sessionID string) ([]models.Message, string, error) {
	history, err := p.sessions.Peek(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return history, session.StateOf(history), nil
}

// runTurn must be called with the session lock held
func (p *TurnProcessor) runTurn(ctx context.Context, sessionID, input, text string, opts Options) (models.TurnResult, error) {
	user := models.Message{Role: models.RoleUser, Content: text}
	history, err := p.sessions.Append(ctx, sessionID, user)
	if err != nil {
		return models.TurnResult{}, err
	}
	mark := len(history) - 1

	start := time.Now()
	raw, err := p.completer.Complete(ctx, history)
	p.observe(models.KindCompletion, sessionID, start, err)
	if err != nil {
		return p.rollback(ctx, input, sessionID, mark, models.KindCompletion, err), nil
	}
	if strings.TrimSpace(raw) == "" {
		raw = p.fallback
	}

	env := p.normalizer.Normalize(text, raw)
	if env.Text == "" {
		env.Text = p.fallback
	}

	audio := []byte{}
	if opts.Speak {
		start = time.Now()
		audio, err = p.synthesizer.Synthesize(ctx, env.Text)
		p.observe(models.KindSynthesis, sessionID, start, err)
		if err != nil {
			return p.rollback(ctx, input, sessionID, mark, models.KindSynthesis, err), nil
		}
	}

	assistant := models.Message{Role: models.RoleAssistant, Content: env.Text}
	if _, err := p.sessions.Append(ctx, sessionID, assistant); err != nil {
		return models.TurnResult{}, err
	}

	if p.archive != nil {
		if err := p.archive.RecordTurn(ctx, sessionID, user, assistant, env.Actions); err != nil {
			p.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to archive turn")
		}
	}
	if p.metrics != nil {
		p.metrics.RecordTurn(input, models.OutcomeOK)
	}

	return models.TurnResult{
		SessionID: sessionID,
		Text:      env.Text,
		Audio:     audio,
		Actions:   env.Actions,
	}, nil
}

// rollback drops the user message of a failed turn so the transcript
// holds only committed exchanges
func (p *TurnProcessor) rollback(ctx context.Context, input, sessionID string, mark int, kind string, cause error) models.TurnResult {
	// The turn failed, possibly because ctx is done; the rollback must still run
	if err := p.sessions.Truncate(context.WithoutCancel(ctx), sessionID, mark); err != nil {
		p.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to roll back turn")
	}
	return p.degraded(input, sessionID, kind, cause)
}

func (p *TurnProcessor) degraded(input, sessionID, kind string, cause error) models.TurnResult {
	p.log.Warn().
		Err(cause).
		Str("session_id", sessionID).
		Str("kind", kind).
		Msg("provider failure, answering with fallback")
	if p.metrics != nil {
		p.metrics.RecordTurn(input, models.OutcomeProviderError)
	}
	return models.TurnResult{
		SessionID: sessionID,
		Text:      p.fallback,
		Audio:     []byte{},
		Actions:   []models.Action{},
		Err: &models.ProviderError{
			Kind:   kind,
			Detail: describe(cause),
			Err:    cause,
		},
	}
}

func (p *TurnProcessor) observe(kind, sessionID string, start time.Time, err error) {
	d := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordProviderCall(kind, d, err)
	}
	p.log.LogProviderCall(kind, sessionID, d, err)
}

func (p *TurnProcessor) resolveFormat(format string, audio []byte) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format != "" {
		return format
	}
	m := mimetype.Detect(audio)
	if strings.HasPrefix(m.String(), "audio/") || m.Is("video/webm") || m.Is("video/mp4") {
		if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
			return ext
		}
	}
	return p.audioFormat
}

// decodeAudio accepts raw base64 or a data URL
func decodeAudio(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return nil, ErrMissingInput
	}

	audio, err := decodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(audio) == 0 {
		return nil, ErrMissingInput
	}
	return audio, nil
}

// decodeBase64 accepts padded or unpadded payloads in either the standard
// or the URL-safe alphabet
func decodeBase64(payload string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		audio, err := enc.DecodeString(payload)
		if err == nil {
			return audio, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// describe gives the client a coarse reason without upstream detail
func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "upstream request failed"
	}
}
