package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"portfolio-agent/logger"
	"portfolio-agent/models"
	"portfolio-agent/services"
	"portfolio-agent/session"
)

// WSHandler runs turns over a websocket, one connection per session
type WSHandler struct {
	turns          Processor
	log            *logger.Logger
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	readLimit      int64

	// Greeting is sent with the connected frame
	Greeting string
}

// NewWSHandler creates a websocket handler. An empty or "*" origin list
// accepts every origin.
func NewWSHandler(turns Processor, allowedOrigins []string, readLimit int64, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		if o == "*" {
			origins = map[string]bool{}
			break
		}
		origins[o] = true
	}
	h := &WSHandler{
		turns:          turns,
		log:            log.Component("ws"),
		allowedOrigins: origins,
		readLimit:      readLimit,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

// Serve handles GET /api/chat/ws
func (h *WSHandler) Serve(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		sessionID = session.NewID()
	}
	if len(sessionID) > maxSessionIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSession.Error()})
		return
	}

	header := http.Header{}
	header.Set(SessionHeader, sessionID)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	if err := conn.WriteJSON(models.WSResponse{Type: "connected", Text: h.Greeting, SessionID: sessionID}); err != nil {
		h.log.Warn().Err(err).Msg("failed to send connected message")
		return
	}

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket closed unexpectedly")
			}
			return
		}

		var incoming models.WSIncoming
		if err := json.Unmarshal(message, &incoming); err != nil {
			h.writeError(conn, sessionID, "Invalid message format. Send JSON with a 'text' or 'audioData' field.")
			continue
		}

		var res models.TurnResult
		switch {
		case incoming.Type == "audio" || (incoming.Type == "" && incoming.AudioData != ""):
			res, err = h.turns.ProcessAudioInput(ctx, sessionID, incoming.AudioData, incoming.Format, services.Options{Speak: true})
		case incoming.Type == "text" || incoming.Type == "":
			res, err = h.turns.ProcessTextInput(ctx, sessionID, incoming.Text, services.Options{Speak: true})
		default:
			h.writeError(conn, sessionID, "Unknown message type: "+incoming.Type)
			continue
		}
		if err != nil {
			h.writeError(conn, sessionID, clientMessage(err))
			continue
		}

		out := models.WSResponse{
			Type:      "message",
			Text:      res.Text,
			Actions:   res.Actions,
			SessionID: res.SessionID,
			Error:     res.Err,
		}
		if len(res.Audio) > 0 {
			out.AudioResponse = base64.StdEncoding.EncodeToString(res.Audio)
		}
		if err := conn.WriteJSON(out); err != nil {
			h.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to write to websocket")
			return
		}
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, sessionID, text string) {
	if err := conn.WriteJSON(models.WSResponse{Type: "error", Text: text, SessionID: sessionID}); err != nil {
		h.log.Debug().Err(err).Msg("failed to write error frame")
	}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrMissingInput):
		return "Input is required"
	case errors.Is(err, services.ErrInvalidAudio):
		return "Audio data is not valid base64"
	default:
		return "Sorry, I'm having trouble processing your message. Please try again."
	}
}
