// Package hub fans proctoring events out to dashboard websocket clients
// using a channel-based broadcast loop.
package hub

import "encoding/json"

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded event
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data, e.g. a violation screenshot
	BinaryMessage
)

// Message is one broadcast. Candidate scopes it to clients watching that
// candidate; empty means every client receives it.
type Message struct {
	Type      MessageType
	Candidate string
	Data      []byte
}

// Event is the JSON envelope sent to dashboards
type Event struct {
	Kind      string `json:"kind"`
	Candidate string `json:"candidate_id"`
	Payload   any    `json:"payload"`
}

// Event kinds
const (
	KindVerdict   = "verdict"
	KindViolation = "violation"
	KindReset     = "reset"
)

// NewEventMessage encodes an event
func NewEventMessage(kind, candidate string, payload any) (Message, error) {
	data, err := json.Marshal(Event{Kind: kind, Candidate: candidate, Payload: payload})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: JSONMessage, Candidate: candidate, Data: data}, nil
}

// NewBinaryMessage creates a binary message for one candidate
func NewBinaryMessage(candidate string, data []byte) Message {
	return Message{Type: BinaryMessage, Candidate: candidate, Data: data}
}
