package ws

import (
	"encoding/json"
	"fmt"
)

type EventType string

// Inbound events (client -> engine)
const (
	EventJoin           EventType = "join"
	EventCodeChange     EventType = "code-change"
	EventLanguageChange EventType = "language-change"
	EventOutputChange   EventType = "output-change"
)

// Outbound events (engine -> client)
const (
	EventInit           EventType = "init"
	EventCodeUpdate     EventType = "code-update"
	EventLanguageUpdate EventType = "language-update"
	EventOutputUpdate   EventType = "output-update"
	EventUserJoined     EventType = "user-joined"
	EventUserLeft       EventType = "user-left"
	EventError          EventType = "error"
)

// Event is the envelope for every message on the wire.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

type CodeChangePayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type LanguageChangePayload struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

type OutputChangePayload struct {
	SessionID string          `json:"sessionId"`
	Output    json.RawMessage `json:"output"`
}

type InitPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type CodeUpdatePayload struct {
	Code string `json:"code"`
}

type LanguageUpdatePayload struct {
	Language string `json:"language"`
}

type OutputUpdatePayload struct {
	Output json.RawMessage `json:"output"`
}

// PresencePayload reports room membership after a join, leave or disconnect.
type PresencePayload struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeEvent parses a wire frame into an Event envelope.
func DecodeEvent(data []byte) (*Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &ev, nil
}

// EncodeEvent marshals an outbound event envelope.
func EncodeEvent(eventType EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Event{Type: eventType, Payload: raw})
}
