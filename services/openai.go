package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"portfolio-agent/config"
	"portfolio-agent/models"
)

// Completer turns a transcript into the next assistant reply
type Completer interface {
	Complete(ctx context.Context, history []models.Message) (string, error)
}

// Synthesizer converts reply text to audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber converts recorded audio to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// OpenAI implements Completer, Synthesizer and Transcriber against the
// OpenAI REST API
type OpenAI struct {
	apiKey  string
	baseURL string
	client  HTTPClient

	Model       string
	TTSModel    string
	Voice       string
	AudioFormat string
	STTModel    string
	Temperature float64
	MaxTokens   int
}

// NewOpenAI builds a provider from configuration
func NewOpenAI(cfg *config.Config) *OpenAI {
	return NewOpenAIWithClient(cfg, &http.Client{Timeout: cfg.ProviderTimeout})
}

// NewOpenAIWithClient builds a provider with a custom HTTP client
func NewOpenAIWithClient(cfg *config.Config, client HTTPClient) *OpenAI {
	return &OpenAI{
		apiKey:      cfg.OpenAIAPIKey,
		baseURL:     strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		client:      client,
		Model:       cfg.Model,
		TTSModel:    cfg.TTSModel,
		Voice:       cfg.Voice,
		AudioFormat: cfg.AudioFormat,
		STTModel:    cfg.STTModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete calls /v1/chat/completions with the whole transcript.
// An empty or null reply yields an empty string and no error.
func (o *OpenAI) Complete(ctx context.Context, history []models.Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.Model,
		Messages:    history,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	respBody, err := o.do(ctx, "/v1/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	if result.Choices[0].Message.Content == nil {
		return "", nil
	}
	return *result.Choices[0].Message.Content, nil
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize calls /v1/audio/speech and returns the raw audio bytes
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          o.TTSModel,
		Voice:          o.Voice,
		Input:          text,
		Speed:          1.0,
		ResponseFormat: o.AudioFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}
	return o.do(ctx, "/v1/audio/speech", "application/json", bytes.NewReader(body))
}

// Transcribe uploads audio to /v1/audio/transcriptions and returns the text
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := w.WriteField("model", o.STTModel); err != nil {
		return "", err
	}
	if err := w.WriteField("response_format", "text"); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	respBody, err := o.do(ctx, "/v1/audio/transcriptions", w.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(respBody)), nil
}

// do posts body and returns the response body of a 2xx reply
func (o *OpenAI) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openAI request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read openAI response after %s: %w", time.Since(start), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("openAI API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
