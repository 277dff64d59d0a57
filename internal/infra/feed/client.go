package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberMaxRetries = 10
	subscriberBaseDelay  = 500 * time.Millisecond
	subscriberMaxDelay   = 30 * time.Second
)

// Subscriber follows a feed endpoint and reconnects with exponential backoff.
type Subscriber struct {
	url    string
	frames chan<- Frame

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	lastSeq   uint64

	ready     chan struct{}
	readyOnce sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber creates a subscriber for url (ws:// or wss://).
func NewSubscriber(url string, frames chan<- Frame) *Subscriber {
	return &Subscriber{url: url, frames: frames, ready: make(chan struct{})}
}

// Connect starts the connection loop with automatic reconnection.
func (s *Subscriber) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.connectionLoop(ctx)

	return nil
}

// Close stops the loop and waits for it to exit.
func (s *Subscriber) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}

// Connected reports whether a connection is currently open.
func (s *Subscriber) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// WaitReady blocks until the hub has registered the first connection.
// Every event published afterwards is delivered.
func (s *Subscriber) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastSeq is the sequence of the last frame received.
func (s *Subscriber) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

func (s *Subscriber) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed subscriber panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed subscriber stopped")
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := calculateBackoff(retryCount)
			retryCount++
			if retryCount > subscriberMaxRetries {
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0
		s.readLoop(ctx)
	}
}

// calculateBackoff returns the delay for the current retry attempt
func calculateBackoff(retryCount int) time.Duration {
	delay := subscriberBaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > subscriberMaxDelay {
		delay = subscriberMaxDelay
	}
	return delay
}

func (s *Subscriber) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	slog.Info("Feed connected", slog.String("url", s.url))
	return nil
}

func (s *Subscriber) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Feed read error", slog.Any("error", err))
			}
			s.closeConnection()
			return
		}

		s.handleMessage(message)
	}
}

func (s *Subscriber) handleMessage(message []byte) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		slog.Debug("Feed message parse error", slog.Any("error", err))
		return
	}
	if f.Type == FrameSubscribed {
		s.readyOnce.Do(func() { close(s.ready) })
		return
	}

	s.mu.Lock()
	s.lastSeq = f.Seq
	s.mu.Unlock()

	if s.frames != nil {
		select {
		case s.frames <- f:
		default:
			slog.Warn("Feed frame channel full, dropping", slog.Uint64("seq", f.Seq))
		}
	}
}

func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}
