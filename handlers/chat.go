package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolio-agent/logger"
	"portfolio-agent/models"
	"portfolio-agent/services"
	"portfolio-agent/session"
)

// SessionHeader carries the session id in both directions
const SessionHeader = "X-Session-ID"

const maxSessionIDLen = 64

var errInvalidSession = errors.New("session_id is too long")

// Processor runs conversation turns
type Processor interface {
	ProcessTextInput(ctx context.Context, sessionID, text string, opts services.Options) (models.TurnResult, error)
	ProcessAudioInput(ctx context.Context, sessionID, base64Audio, format string, opts services.Options) (models.TurnResult, error)
	ClearConversation(ctx context.Context, sessionID string) error
	Transcript(ctx context.Context, sessionID string) ([]models.Message, string, error)
}

var _ Processor = (*services.TurnProcessor)(nil)

// ChatHandler serves the REST chat endpoints
type ChatHandler struct {
	turns Processor
	log   *logger.Logger
}

// NewChatHandler creates a handler backed by turns
func NewChatHandler(turns Processor, log *logger.Logger) *ChatHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatHandler{turns: turns, log: log.Component("http")}
}

// TextChat handles POST /api/chat/text
func (h *ChatHandler) TextChat(c *gin.Context) {
	var req models.TextChatRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.session(c, req.SessionID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text input is required"})
		return
	}

	res, err := h.turns.ProcessTextInput(c.Request.Context(), id, req.Text, services.Options{Speak: true})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, voiceResponse(res))
}

// AudioChat handles POST /api/chat/audio
func (h *ChatHandler) AudioChat(c *gin.Context) {
	var req models.AudioChatRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.session(c, req.SessionID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.AudioData) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Audio data is required"})
		return
	}

	res, err := h.turns.ProcessAudioInput(c.Request.Context(), id, req.AudioData, req.Format, services.Options{Speak: true})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, voiceResponse(res))
}

// AgentChat handles POST /api/agno_chat, the text-only widget endpoint
func (h *ChatHandler) AgentChat(c *gin.Context) {
	var req models.AgentChatRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.session(c, req.SessionID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	res, err := h.turns.ProcessTextInput(c.Request.Context(), id, req.Message, services.Options{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AgentResponse{
		Response:  res.Text,
		Actions:   actionsOf(res),
		SessionID: res.SessionID,
		Outcome:   res.Outcome(),
		Error:     res.Err,
	})
}

// Reset handles POST /api/chat/reset. The body is optional.
func (h *ChatHandler) Reset(c *gin.Context) {
	var req models.ResetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.badBody(c, err)
			return
		}
	}

	id := h.lookup(c, req.SessionID)
	if id == "" {
		// nothing to reset yet
		c.JSON(http.StatusOK, gin.H{"message": "Conversation reset successfully"})
		return
	}
	if len(id) > maxSessionIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSession.Error()})
		return
	}
	c.Header(SessionHeader, id)

	if err := h.turns.ClearConversation(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation reset successfully", "session_id": id})
}

// Transcript handles GET /api/chat/transcript
func (h *ChatHandler) Transcript(c *gin.Context) {
	id := h.lookup(c, "")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if len(id) > maxSessionIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSession.Error()})
		return
	}
	c.Header(SessionHeader, id)

	messages, state, err := h.turns.Transcript(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TranscriptResponse{
		SessionID: id,
		State:     state,
		Messages:  messages,
	})
}

func (h *ChatHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.badBody(c, err)
		return false
	}
	return true
}

func (h *ChatHandler) badBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
}

// lookup resolves the session id from the body, the header, then the query
func (h *ChatHandler) lookup(c *gin.Context, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader(SessionHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query("session_id"))
}

// session resolves the session id, issuing one on first contact, and
// echoes it in the response header
func (h *ChatHandler) session(c *gin.Context, fromBody string) (string, bool) {
	id := h.lookup(c, fromBody)
	if id == "" {
		id = session.NewID()
	}
	if len(id) > maxSessionIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSession.Error()})
		return "", false
	}
	c.Header(SessionHeader, id)
	return id, true
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMissingInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Input is required"})
	case errors.Is(err, services.ErrInvalidAudio):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Audio data is not valid base64"})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func voiceResponse(res models.TurnResult) models.VoiceResponse {
	return models.VoiceResponse{
		Text:          res.Text,
		AudioResponse: base64.StdEncoding.EncodeToString(res.Audio),
		Actions:       actionsOf(res),
		SessionID:     res.SessionID,
		Outcome:       res.Outcome(),
		Error:         res.Err,
	}
}

func actionsOf(res models.TurnResult) []models.Action {
	if res.Actions == nil {
		return []models.Action{}
	}
	return res.Actions
}
