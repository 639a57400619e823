package hub

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gorilla "github.com/gorilla/websocket"
)

func startHub(t *testing.T, opts ...Option) (*Hub, string, context.CancelFunc) {
	t.Helper()

	h := New("test", opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		NewClient(h, c, c.Query("candidate")).Run()
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() {
		cancel()
		app.Shutdown()
	})

	return h, "ws://" + ln.Addr().String() + "/ws", cancel
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, ws *gorilla.Conn) Event {
	t.Helper()
	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != gorilla.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func TestHub_FiltersByCandidate(t *testing.T) {
	var clients atomic.Int64
	h, url, _ := startHub(t, WithClientCounter(func(n int) { clients.Store(int64(n)) }))

	all := dial(t, url)
	one := dial(t, url+"?candidate=c1")
	waitClients(t, h, 2)
	if got := clients.Load(); got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}

	if err := h.Publish(KindVerdict, "c2", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.Publish(KindViolation, "c1", map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}

	if ev := readEvent(t, all); ev.Candidate != "c2" || ev.Kind != KindVerdict {
		t.Errorf("all[0] = %+v", ev)
	}
	if ev := readEvent(t, all); ev.Candidate != "c1" || ev.Kind != KindViolation {
		t.Errorf("all[1] = %+v", ev)
	}
	if ev := readEvent(t, one); ev.Candidate != "c1" {
		t.Errorf("filtered client got %+v", ev)
	}
}

func TestHub_BinaryMessage(t *testing.T) {
	h, url, _ := startHub(t)

	ws := dial(t, url)
	waitClients(t, h, 1)

	h.Broadcast(NewBinaryMessage("c1", []byte{0xff, 0xd8}))

	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != gorilla.BinaryMessage || len(data) != 2 {
		t.Errorf("got type %d len %d", typ, len(data))
	}
}

func TestHub_Disconnect(t *testing.T) {
	h, url, _ := startHub(t)

	ws := dial(t, url)
	waitClients(t, h, 1)

	ws.Close()
	waitClients(t, h, 0)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	var clients atomic.Int64
	h, url, cancel := startHub(t, WithClientCounter(func(n int) { clients.Store(int64(n)) }))

	ws := dial(t, url)
	waitClients(t, h, 1)

	cancel()
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected close after shutdown")
	}
	<-h.done
	if got := clients.Load(); got != 0 {
		t.Errorf("counter = %d, want 0", got)
	}
}

func TestClient_Wants(t *testing.T) {
	tests := []struct {
		filter, candidate string
		want              bool
	}{
		{"", "c1", true},
		{"c1", "c1", true},
		{"c1", "c2", false},
		{"c1", "", true},
	}
	for _, tt := range tests {
		c := &Client{candidate: tt.filter}
		if got := c.wants(Message{Candidate: tt.candidate}); got != tt.want {
			t.Errorf("wants(%q) with filter %q = %v, want %v", tt.candidate, tt.filter, got, tt.want)
		}
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	h := New("full")
	for range cap(h.broadcast) + 10 {
		h.Broadcast(Message{Data: []byte("x")})
	}
	if got := len(h.broadcast); got != cap(h.broadcast) {
		t.Errorf("queue = %d, want %d", got, cap(h.broadcast))
	}
}
