package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-proctor/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Guards clients for ClientCount
	mu sync.RWMutex

	// Called with the client count after every change
	onClients func(int)
}

// Option configures a Hub
type Option func(*Hub)

// WithClientCounter reports the connected client count after each change
func WithClientCounter(fn func(int)) Option {
	return func(h *Hub) { h.onClients = fn }
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		onClients:  func(int) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's main loop. It returns when ctx is done, after closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.onClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.onClients(count)
			h.logger.Info("client connected", "candidate", client.candidate, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.onClients(count)
			h.logger.Info("client disconnected", "remaining", count)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) deliver(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(message) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Too slow to keep up
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("dropped slow client", "candidate", client.candidate)
		}
	}
	h.onClients(len(h.clients))
}

// Broadcast queues a message for every interested client. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "candidate", msg.Candidate)
	}
}

// Publish encodes and broadcasts an event
func (h *Hub) Publish(kind, candidate string, payload any) error {
	msg, err := NewEventMessage(kind, candidate, payload)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
