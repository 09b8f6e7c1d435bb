package models

import "fmt"

// Role tags a transcript entry
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Action is a clickable affordance suggested alongside an assistant reply
type Action struct {
	Type     string                 `json:"type"`
	Label    string                 `json:"label"`
	URL      string                 `json:"url"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Envelope is the normalized shape of a completion reply
type Envelope struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Provider error kinds
const (
	KindTranscription = "transcription"
	KindCompletion    = "completion"
	KindSynthesis     = "synthesis"
)

// ProviderError reports which external provider call failed during a turn
type ProviderError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s", e.Kind, e.Detail)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TurnResult is the outcome of one user/assistant exchange.
// A nil Err means the turn completed and was committed to the transcript.
type TurnResult struct {
	SessionID string
	Text      string
	Audio     []byte
	Actions   []Action
	Err       *ProviderError
}

// OK reports whether the turn completed without a provider failure
func (r TurnResult) OK() bool {
	return r.Err == nil
}

// Outcome returns the wire tag for the result
func (r TurnResult) Outcome() string {
	if r.Err != nil {
		return OutcomeProviderError
	}
	return OutcomeOK
}

const (
	OutcomeOK            = "ok"
	OutcomeProviderError = "provider_error"
)
