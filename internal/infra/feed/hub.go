// Package feed broadcasts auction events to websocket subscribers.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Frame is one JSON text message on the feed.
type Frame struct {
	Type    domain.EventType `json:"type"`
	Seq     uint64           `json:"seq"`
	Time    time.Time        `json:"time"`
	Payload json.RawMessage  `json:"payload"`
	// Amount is the event's headline amount in display units, if it has one.
	Amount string `json:"amount,omitempty"`
}

// FrameSubscribed is sent once to every subscriber after it has been registered.
// Events published after it are guaranteed to reach that subscriber.
const FrameSubscribed domain.EventType = "subscribed"

var subscribedMsg, _ = json.Marshal(Frame{Type: FrameSubscribed})

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Read-only public feed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	metrics *infra.Metrics
	format  func(int64) string
}

// NewHub creates a hub. format renders base units for Frame.Amount and may be nil.
func NewHub(metrics *infra.Metrics, format func(int64) string) *Hub {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		metrics: metrics,
		format:  format,
	}
}

// Publish implements domain.EventPublisher.
func (h *Hub) Publish(ev domain.Event) {
	msg, err := h.encode(ev)
	if err != nil {
		slog.Error("Feed encode failed", slog.String("type", string(ev.Type)), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("Feed subscriber too slow, dropping", slog.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

func (h *Hub) encode(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	f := Frame{Type: ev.Type, Seq: ev.Seq, Time: ev.Time, Payload: payload}
	if amount, ok := headlineAmount(ev.Payload); ok && h.format != nil {
		f.Amount = h.format(amount)
	}
	return json.Marshal(f)
}

func headlineAmount(payload any) (int64, bool) {
	switch p := payload.(type) {
	case domain.OfferAccepted:
		return p.Offer.Amount, true
	case domain.AuctionFinalized:
		return p.WinningAmount, true
	case domain.EmergencyWithdrawal:
		return p.Amount, true
	case domain.PartialRefund:
		return p.Amount, true
	case domain.PayoutWithdrawn:
		return p.Amount, true
	default:
		return 0, false
	}
}

// ServeHTTP upgrades the request and streams frames until the subscriber leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		slog.Debug("Feed upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- subscribedMsg
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementConnections()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only consumes control frames; it returns when the peer goes away.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Feed read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.DecrementConnections()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
