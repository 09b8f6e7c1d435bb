// Package reply normalizes completion replies into a typed envelope.
//
// Upstream agents sometimes return the whole {response, actions} object
// serialized inside the text, occasionally with Python-style single quotes.
// DecodeNested undoes that; Normalizer applies it at the provider boundary
// together with the booking-link cleanup.
package reply

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"portfolio-agent/models"
)

// ActionScheduleMeeting tags the booking affordance
const ActionScheduleMeeting = "schedule_meeting"

var (
	apostrophe     = regexp.MustCompile(`([a-zA-Z])"([a-zA-Z])`)
	markdownLink   = regexp.MustCompile(`\s?\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	multiSpace     = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeEnd = regexp.MustCompile(`[ \t]+([?.!,:;])`)
)

// leftovers are fragments that only made sense next to a removed link
var leftovers = []string{
	"via this link:",
	"using this link:",
	"by clicking this link:",
	"click this link:",
	"Book a meeting here:",
	"via ce lien :",
	"directement via ce lien :",
	"en cliquant sur ce lien :",
	"cliquez sur ce lien :",
	"Prendre rendez-vous ici :",
}

// RepairQuotes turns a single-quoted object literal into JSON, keeping
// apostrophes that sit between two letters.
func RepairQuotes(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return s
	}
	repaired := strings.ReplaceAll(trimmed, "'", `"`)
	return apostrophe.ReplaceAllString(repaired, `$1'$2`)
}

type nested struct {
	Response *string         `json:"response"`
	Actions  json.RawMessage `json:"actions"`
}

// DecodeNested interprets s as a serialized {response, actions} object.
// ok is false when s is not such an object; actions is nil unless the
// nested value is an array of actions.
func DecodeNested(s string) (text string, actions []models.Action, ok bool) {
	var n nested
	if err := json.Unmarshal([]byte(RepairQuotes(s)), &n); err != nil {
		return "", nil, false
	}
	if n.Response == nil {
		return "", nil, false
	}
	if len(n.Actions) > 0 && n.Actions[0] == '[' {
		var decoded []models.Action
		if err := json.Unmarshal(n.Actions, &decoded); err == nil {
			actions = decoded
		}
	}
	return *n.Response, actions, true
}

// Normalizer builds the envelope returned for each assistant turn
type Normalizer struct {
	BookingURL   string
	BookingLabel string
	Keywords     []string

	// ShortReply replaces a reply left nearly empty once links are removed
	ShortReply string
}

// BookingAction returns the scheduling affordance, or false if no URL is configured
func (n Normalizer) BookingAction() (models.Action, bool) {
	if n.BookingURL == "" {
		return models.Action{}, false
	}
	label := n.BookingLabel
	if label == "" {
		label = "Book a meeting"
	}
	return models.Action{
		Type:  ActionScheduleMeeting,
		Label: label,
		URL:   n.BookingURL,
		Metadata: map[string]interface{}{
			"duration": "30min",
			"type":     "consultation",
		},
	}, true
}

// Normalize turns the raw completion text for userText into an envelope
func (n Normalizer) Normalize(userText, raw string) models.Envelope {
	text := strings.TrimSpace(raw)
	actions := []models.Action{}

	if inner, innerActions, ok := DecodeNested(text); ok {
		text = strings.TrimSpace(inner)
		actions = append(actions, innerActions...)
	}

	booking, hasBooking := n.BookingAction()
	wantBooking := hasBooking && n.mentionsMeeting(userText)

	if hasBooking {
		cleaned, stripped := n.stripBookingLinks(text)
		if stripped {
			wantBooking = true
			if len(cleaned) < 10 {
				cleaned = n.shortReply()
			}
			text = cleaned
		}
	}

	if wantBooking && !containsURL(actions, booking.URL) {
		actions = append(actions, booking)
	}

	return models.Envelope{Text: text, Actions: actions}
}

func (n Normalizer) shortReply() string {
	if n.ShortReply != "" {
		return n.ShortReply
	}
	return "I invite you to book a meeting to discuss your project."
}

// stripBookingLinks removes markdown links pointing at the booking host
func (n Normalizer) stripBookingLinks(text string) (string, bool) {
	host := hostOf(n.BookingURL)
	if host == "" {
		return text, false
	}

	stripped := false
	out := markdownLink.ReplaceAllStringFunc(text, func(m string) string {
		parts := markdownLink.FindStringSubmatch(m)
		if hostOf(parts[2]) != host {
			return m
		}
		stripped = true
		return ""
	})
	if !stripped {
		return text, false
	}

	for _, phrase := range leftovers {
		out = strings.ReplaceAll(out, phrase, "")
	}
	out = multiSpace.ReplaceAllString(out, " ")
	out = spaceBeforeEnd.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out), true
}

func (n Normalizer) mentionsMeeting(text string) bool {
	if len(n.Keywords) == 0 {
		return false
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, k := range n.Keywords {
			if w == strings.ToLower(k) {
				return true
			}
		}
	}
	return false
}

func containsURL(actions []models.Action, u string) bool {
	for _, a := range actions {
		if a.URL == u {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
