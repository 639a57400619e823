// Package protocol defines the websocket messages exchanged between an exam
// client and the proctoring service.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Client → service
	TypeFrame MessageType = "frame" // Webcam frame to analyse
	TypeReset MessageType = "reset" // Start a new exam session

	// Service → client
	TypeVerdict MessageType = "verdict" // Analysis result for a frame
	TypeError   MessageType = "error"   // Frame or request rejected

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all websocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// FrameData carries one webcam frame
type FrameData struct {
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64, optionally a data URL
	FrameID uint64 `json:"frame_id,omitempty"`
	Mode    string `json:"mode,omitempty"` // "test" or "verification"
}

// VerdictData wraps the analysis result of one frame. Verdict is the
// engine's JSON verdict, kept raw so the wire format follows it exactly.
type VerdictData struct {
	FrameID           uint64          `json:"frame_id,omitempty"`
	Verdict           json.RawMessage `json:"verdict"`
	SessionViolations int             `json:"session_violations"`
	Terminated        bool            `json:"terminated"`
}

// ErrorData reports a rejected frame or request
type ErrorData struct {
	FrameID uint64 `json:"frame_id,omitempty"`
	Message string `json:"message"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
