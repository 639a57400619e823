// Package ingest accepts webcam frames from exam clients over websockets
// and answers each one with its verdict.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/service"
)

// Proctor is the application the hub feeds
type Proctor interface {
	Analyze(ctx context.Context, image []byte, candidateID string, mode proctor.Mode) (service.Result, error)
	Reset(ctx context.Context, candidateID string) error
}

// frameTimeout bounds the work done for one frame
const frameTimeout = 10 * time.Second

// Default per-connection frame budget
const (
	DefaultFrameRate  = 10
	DefaultFrameBurst = 5
)

// Connection is one exam client
type Connection struct {
	CandidateID string
	Conn        *websocket.Conn
	Connected   time.Time
	LastSeen    time.Time

	limiter *rate.Limiter
	mu      sync.Mutex
}

// Send writes a message to the client
func (c *Connection) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages websocket connections from exam clients
type Hub struct {
	proctor Proctor
	logger  *slog.Logger

	mu    sync.RWMutex
	conns map[*Connection]struct{}

	frameRate  rate.Limit
	frameBurst int

	messagesReceived atomic.Uint64
	framesReceived   atomic.Uint64
	framesSkipped    atomic.Uint64
	framesRejected   atomic.Uint64
	framesThrottled  atomic.Uint64
}

// Option configures a Hub
type Option func(*Hub)

// WithFrameRate limits each connection to perSecond frames with the given
// burst. Frames over the budget are answered with an error and not
// analysed. A non-positive rate disables the limit.
func WithFrameRate(perSecond float64, burst int) Option {
	return func(h *Hub) {
		if perSecond <= 0 {
			h.frameRate = rate.Inf
			return
		}
		h.frameRate = rate.Limit(perSecond)
		h.frameBurst = max(burst, 1)
	}
}

// NewHub creates an ingest hub
func NewHub(p Proctor, opts ...Option) *Hub {
	h := &Hub{
		proctor:    p,
		logger:     log.Component("ingest"),
		conns:      make(map[*Connection]struct{}),
		frameRate:  DefaultFrameRate,
		frameBurst: DefaultFrameBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the candidate websocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws/candidate", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/candidate", websocket.New(h.handleCandidate))
	app.Get("/ws/candidate/:id", websocket.New(h.handleCandidate))
}

// handleCandidate serves one client until it disconnects. Without an id in
// the path the client gets a generated one, echoed in every verdict.
func (h *Hub) handleCandidate(c *websocket.Conn) {
	candidateID := c.Params("id")
	if candidateID == "" {
		candidateID = service.NewCandidateID()
	}

	conn := &Connection{
		CandidateID: candidateID,
		Conn:        c,
		Connected:   time.Now(),
		LastSeen:    time.Now(),
		limiter:     rate.NewLimiter(h.frameRate, h.frameBurst),
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("candidate connected", "candidate", candidateID, "total", count)

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		count := len(h.conns)
		h.mu.Unlock()
		h.logger.Info("candidate disconnected", "candidate", candidateID, "total", count)
	}()

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("read ended", "candidate", candidateID, "error", err)
			return
		}

		conn.mu.Lock()
		conn.LastSeen = time.Now()
		conn.mu.Unlock()
		h.messagesReceived.Add(1)

		if msgType == websocket.BinaryMessage {
			// Raw JPEG, analysed in test mode
			h.handleFrame(conn, data, 0, proctor.ModeTest)
			continue
		}
		h.handleMessage(conn, data)
	}
}

// handleMessage processes one JSON message from a client
func (h *Hub) handleMessage(conn *Connection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.replyError(conn, 0, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		frame, err := msg.GetFrameData()
		if err != nil {
			h.replyError(conn, 0, err.Error())
			return
		}
		img, err := frame.DecodeImage()
		if err != nil {
			h.framesRejected.Add(1)
			h.replyError(conn, frame.FrameID, err.Error())
			return
		}
		h.handleFrame(conn, img, frame.FrameID, proctor.ParseMode(frame.Mode))

	case protocol.TypeReset:
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		if err := h.proctor.Reset(ctx, conn.CandidateID); err != nil {
			h.replyError(conn, 0, err.Error())
		}

	case protocol.TypePing:
		var ping protocol.PingData
		if err := msg.ParseData(&ping); err != nil {
			h.replyError(conn, 0, "invalid ping: "+err.Error())
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli())
		if err != nil {
			h.logger.Error("encode pong", "candidate", conn.CandidateID, "error", err)
			return
		}
		h.send(conn, pong)

	default:
		h.replyError(conn, 0, "unsupported message type: "+string(msg.Type))
	}
}

// handleFrame analyses a frame and replies with the verdict
func (h *Hub) handleFrame(conn *Connection, img []byte, frameID uint64, mode proctor.Mode) {
	h.framesReceived.Add(1)

	if !conn.limiter.Allow() {
		h.framesThrottled.Add(1)
		h.replyError(conn, frameID, "rate limited")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	res, err := h.proctor.Analyze(ctx, img, conn.CandidateID, mode)
	if err != nil {
		if errors.Is(err, proctor.ErrInvalidFrame) {
			h.framesRejected.Add(1)
		}
		h.replyError(conn, frameID, err.Error())
		return
	}
	if res.Skipped {
		h.framesSkipped.Add(1)
	}

	msg, err := protocol.NewVerdictMessage(frameID, res.Verdict, res.SessionViolations, res.Terminated)
	if err != nil {
		h.logger.Error("encode verdict", "candidate", conn.CandidateID, "error", err)
		return
	}
	h.send(conn, msg)
}

func (h *Hub) replyError(conn *Connection, frameID uint64, message string) {
	msg, err := protocol.NewErrorMessage(frameID, message)
	if err != nil {
		return
	}
	h.send(conn, msg)
}

func (h *Hub) send(conn *Connection, msg *protocol.Message) {
	if err := conn.Send(msg); err != nil {
		h.logger.Warn("send failed", "candidate", conn.CandidateID, "type", msg.Type, "error", err)
	}
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats contains hub statistics
type Stats struct {
	Connections      int    `json:"connections"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesSkipped    uint64 `json:"frames_skipped"`
	FramesRejected   uint64 `json:"frames_rejected"`
	FramesThrottled  uint64 `json:"frames_throttled"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Connections:      h.ConnectionCount(),
		MessagesReceived: h.messagesReceived.Load(),
		FramesReceived:   h.framesReceived.Load(),
		FramesSkipped:    h.framesSkipped.Load(),
		FramesRejected:   h.framesRejected.Load(),
		FramesThrottled:  h.framesThrottled.Load(),
	}
}

// ConnectionInfo describes a connected client
type ConnectionInfo struct {
	CandidateID string    `json:"candidate_id"`
	Connected   time.Time `json:"connected"`
	LastSeen    time.Time `json:"last_seen"`
}

// Connections returns info about all connected clients
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(h.conns))
	for c := range h.conns {
		c.mu.Lock()
		infos = append(infos, ConnectionInfo{
			CandidateID: c.CandidateID,
			Connected:   c.Connected,
			LastSeen:    c.LastSeen,
		})
		c.mu.Unlock()
	}
	return infos
}
