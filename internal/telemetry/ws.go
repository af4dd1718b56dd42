package telemetry

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // monitor pages are served from the exo itself or a laptop on the same link
	},
}

const (
	wsSendBuffer   = 16
	wsWriteTimeout = time.Second
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts records to websocket clients and remembers the latest
// payload per stream. A slow client loses messages instead of slowing the
// loop.
type Hub struct {
	session string
	hz      float64
	limits  map[string]*rate.Limiter

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	latest  map[string]json.RawMessage
	closed  bool
}

func NewHub(session string, hz float64) *Hub {
	return &Hub{
		session: session,
		hz:      hz,
		limits:  make(map[string]*rate.Limiter),
		clients: make(map[*wsClient]struct{}),
		latest:  make(map[string]json.RawMessage),
	}
}

// ServeHTTP upgrades the request and streams records until the client goes
// away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)

	// Reads only detect the close; clients have nothing to say.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("telemetry: websocket error: %v", err)
			}
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Write(stream string, rec Record) error {
	if stream != StreamConfig && !h.allow(stream) {
		return nil
	}
	payload, err := encode(h.session, stream, rec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[stream] = payload
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
	return nil
}

func (h *Hub) allow(stream string) bool {
	if h.hz <= 0 {
		return true
	}
	l, ok := h.limits[stream]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.hz), 1)
		h.limits[stream] = l
	}
	return l.Allow()
}

// Latest returns the last payload written per stream.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		out[k] = v
	}
	return out
}

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Flush() error { return nil }

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
