package models

// TextChatRequest is the body of POST /api/chat/text
type TextChatRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// AudioChatRequest is the body of POST /api/chat/audio
type AudioChatRequest struct {
	AudioData string `json:"audioData"`
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// ResetRequest is the optional body of POST /api/chat/reset
type ResetRequest struct {
	SessionID string `json:"session_id"`
}

// AgentChatRequest is the body of POST /api/agno_chat
type AgentChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// VoiceResponse is returned by the text and audio endpoints
type VoiceResponse struct {
	Text          string         `json:"text"`
	AudioResponse string         `json:"audioResponse"`
	Actions       []Action       `json:"actions"`
	SessionID     string         `json:"session_id"`
	Outcome       string         `json:"outcome"`
	Error         *ProviderError `json:"error,omitempty"`
}

// AgentResponse is returned by POST /api/agno_chat
type AgentResponse struct {
	Response  string         `json:"response"`
	Actions   []Action       `json:"actions"`
	SessionID string         `json:"session_id,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Error     *ProviderError `json:"error,omitempty"`
}

// TranscriptResponse is returned by GET /api/chat/transcript
type TranscriptResponse struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Messages  []Message `json:"messages"`
}

// WSIncoming is a frame sent by a websocket client
type WSIncoming struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	AudioData string `json:"audioData,omitempty"`
	Format    string `json:"format,omitempty"`
}

// WSResponse is a frame sent to a websocket client
type WSResponse struct {
	Type          string         `json:"type"`
	Text          string         `json:"text,omitempty"`
	AudioResponse string         `json:"audioResponse,omitempty"`
	Actions       []Action       `json:"actions,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Error         *ProviderError `json:"error,omitempty"`
}
