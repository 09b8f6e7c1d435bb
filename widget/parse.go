package widget

import (
	"bytes"
	"encoding/json"
	"fmt"

	"portfolio-agent/models"
	"portfolio-agent/reply"
)

// Reply is an assistant answer as the widget renders it
type Reply struct {
	Content   string
	Actions   []models.Action
	SessionID string
}

type rawReply struct {
	Response  json.RawMessage `json:"response"`
	Actions   json.RawMessage `json:"actions"`
	SessionID string          `json:"session_id"`
}

// ParseReply interprets an /api/agno_chat body.
//
// Non-empty top-level actions win. Otherwise a string response is tried as
// a serialized {response, actions} object, repairing single quotes, and
// falls back to plain text on any failure. Only a body that is not a JSON
// object is an error.
func ParseReply(body []byte) (Reply, error) {
	var raw rawReply
	if err := json.Unmarshal(body, &raw); err != nil {
		return Reply{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	out := Reply{SessionID: raw.SessionID}

	var top []models.Action
	if isArray(raw.Actions) {
		if err := json.Unmarshal(raw.Actions, &top); err != nil {
			top = nil
		}
	}

	var text string
	isString := json.Unmarshal(raw.Response, &text) == nil && isStringLiteral(raw.Response)

	switch {
	case len(top) > 0:
		out.Actions = top
		if isString {
			out.Content = text
		} else {
			out.Content = encode(raw.Response)
		}
	case isString:
		out.Content = text
		if inner, actions, ok := reply.DecodeNested(text); ok {
			out.Content = inner
			out.Actions = actions
		}
	default:
		out.Content = encode(raw.Response)
	}
	return out, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isStringLiteral(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// encode renders a non-string response, empty for a missing or falsy value
func encode(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
