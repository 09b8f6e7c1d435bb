package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"portfolio-agent/models"
)

// API is the server surface the controller talks to
type API interface {
	// AgentChat returns the raw /api/agno_chat body for ParseReply
	AgentChat(ctx context.Context, message, sessionID string) ([]byte, error)
	AudioChat(ctx context.Context, audioData, format, sessionID string) (models.VoiceResponse, error)
	Reset(ctx context.Context, sessionID string) error
}

// Doer sends HTTP requests
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls the agent server over HTTP
type Client struct {
	baseURL string
	http    Doer
}

var _ API = (*Client)(nil)

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return NewClientWithDoer(baseURL, &http.Client{Timeout: 2 * time.Minute})
}

// NewClientWithDoer creates a client with a custom transport
func NewClientWithDoer(baseURL string, doer Doer) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

// AgentChat posts a text message to /api/agno_chat
func (c *Client) AgentChat(ctx context.Context, message, sessionID string) ([]byte, error) {
	return c.post(ctx, "/api/agno_chat", sessionID, models.AgentChatRequest{
		Message:   message,
		SessionID: sessionID,
	})
}

// AudioChat posts base64 audio to /api/chat/audio
func (c *Client) AudioChat(ctx context.Context, audioData, format, sessionID string) (models.VoiceResponse, error) {
	body, err := c.post(ctx, "/api/chat/audio", sessionID, models.AudioChatRequest{
		AudioData: audioData,
		Format:    format,
		SessionID: sessionID,
	})
	if err != nil {
		return models.VoiceResponse{}, err
	}
	var resp models.VoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.VoiceResponse{}, fmt.Errorf("failed to decode audio reply: %w", err)
	}
	return resp, nil
}

// Reset clears the server transcript of sessionID
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, "/api/chat/reset", sessionID, models.ResetRequest{SessionID: sessionID})
	return err
}

func (c *Client) post(ctx context.Context, path, sessionID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
