package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
	"github.com/relicwatch/relicwatch/server/internal/notify"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Snapshot is the payload of a "snapshot" event.
type Snapshot struct {
	GeneratedAt  time.Time     `json:"generated_at"`
	ActiveAlerts []types.Alert `json:"active_alerts"`
}

// AlertSource supplies the active alerts for snapshots.
type AlertSource interface {
	ActiveAlerts(ctx context.Context) ([]types.Alert, error)
}

// Hub manages WebSocket client connections and pushes notifications and
// periodic snapshots to them.
type Hub struct {
	alerts   AlertSource
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{} // empty means all topics
}

var _ notify.Pusher = (*Hub)(nil)

// New creates a Hub that reads active alerts from src and sends a snapshot
// every interval. A zero interval disables periodic snapshots.
func New(src AlertSource, interval time.Duration) *Hub {
	return &Hub{
		alerts:   src,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the snapshot ticker loop. Run blocks until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	var tick <-chan time.Time
	if h.interval > 0 {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-tick:
			data, err := h.snapshotMessage(ctx)
			if err != nil {
				slog.Warn("ws: snapshot failed", "err", err)
				continue
			}
			h.broadcast("", data)
		}
	}
}

// Push forwards n to every client subscribed to topic. It never blocks on a
// client: one whose buffer is full is disconnected.
func (h *Hub) Push(_ context.Context, topic string, n notify.Notification) error {
	data, err := json.Marshal(Message{Event: "notification", Data: n.Payload()})
	if err != nil {
		return err
	}
	h.broadcast(topic, data)
	return nil
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends the current snapshot immediately on connect. Blocks until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		topics: parseTopics(r.URL.Query()["topic"]),
	}

	// Queue the snapshot before registering so it is the first message.
	if data, err := h.snapshotMessage(r.Context()); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func parseTopics(values []string) map[string]struct{} {
	topics := make(map[string]struct{})
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics[t] = struct{}{}
			}
		}
	}
	return topics
}

func (c *client) wants(topic string) bool {
	if topic == "" || len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSClients.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.WSClients.Dec()
	}
}

// broadcast queues data for every client that wants topic. An empty topic
// reaches every client.
func (h *Hub) broadcast(topic string, data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage(ctx context.Context) ([]byte, error) {
	snap := Snapshot{GeneratedAt: time.Now().UTC(), ActiveAlerts: []types.Alert{}}
	if h.alerts != nil {
		active, err := h.alerts.ActiveAlerts(ctx)
		if err != nil {
			return nil, err
		}
		if active != nil {
			snap.ActiveAlerts = active
		}
	}
	return json.Marshal(Message{Event: "snapshot", Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.WSClients.Sub(float64(n))
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
