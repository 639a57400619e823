package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrWrongType is returned when a typed getter is used on another type
var ErrWrongType = errors.New("protocol: wrong message type")

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(jpegData []byte, frameID uint64, mode string) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
		Mode:    mode,
	})
}

// NewVerdictMessage creates a verdict message. verdict is JSON-encoded.
func NewVerdictMessage(frameID uint64, verdict any, sessionViolations int, terminated bool) (*Message, error) {
	raw, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return NewMessage(TypeVerdict, VerdictData{
		FrameID:           frameID,
		Verdict:           raw,
		SessionViolations: sessionViolations,
		Terminated:        terminated,
	})
}

// NewErrorMessage creates an error message
func NewErrorMessage(frameID uint64, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{FrameID: frameID, Message: message})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetFrameData extracts frame data from a frame message
func (m *Message) GetFrameData() (*FrameData, error) {
	if m.Type != TypeFrame {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetVerdictData extracts verdict data from a verdict message
func (m *Message) GetVerdictData() (*VerdictData, error) {
	if m.Type != TypeVerdict {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var data VerdictData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from an error message
func (m *Message) GetErrorData() (*ErrorData, error) {
	if m.Type != TypeError {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a pong message
func (m *Message) GetPongData() (*PongData, error) {
	if m.Type != TypePong {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeImage returns the raw image bytes of a frame. Browser data URLs
// ("data:image/jpeg;base64,...") are accepted.
func (f *FrameData) DecodeImage() ([]byte, error) {
	data := f.Data
	if _, payload, ok := strings.Cut(data, ";base64,"); ok {
		data = payload
	}
	if data == "" {
		return nil, errors.New("protocol: empty frame data")
	}
	return base64.StdEncoding.DecodeString(data)
}
