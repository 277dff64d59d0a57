package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func formatCents(units int64) string {
	return decimal.New(units, -2).String()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleEvent(seq uint64, amount int64) domain.Event {
	return domain.Event{
		Type: domain.EventOfferAccepted,
		Seq:  seq,
		Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: domain.OfferAccepted{
			Offer: domain.Offer{Index: 0, Bidder: "alice", Amount: amount, Active: true},
		},
	}
}

func TestHub_BroadcastsFrames(t *testing.T) {
	m := &infra.Metrics{}
	hub := NewHub(m, formatCents)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()
		conns[i] = conn
	}
	waitFor(t, func() bool { return hub.Clients() == 2 })
	if m.Snapshot().FeedConnections != 2 {
		t.Errorf("Expected 2 feed connections, got %d", m.Snapshot().FeedConnections)
	}

	hub.Publish(sampleEvent(7, 157))

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		var hello Frame
		if err := json.Unmarshal(data, &hello); err != nil || hello.Type != FrameSubscribed {
			t.Fatalf("Expected subscribed frame first, got %s", data)
		}

		_, data, err = conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("Invalid frame: %v", err)
		}
		if f.Type != domain.EventOfferAccepted || f.Seq != 7 {
			t.Errorf("Unexpected frame %+v", f)
		}
		if f.Amount != "1.57" {
			t.Errorf("Expected display amount 1.57, got %s", f.Amount)
		}
		var p domain.OfferAccepted
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Offer.Bidder != "alice" {
			t.Errorf("Unexpected payload %s", f.Payload)
		}
	}
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	m := &infra.Metrics{}
	hub := NewHub(m, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, func() bool { return hub.Clients() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
	if m.Snapshot().FeedConnections != 0 {
		t.Errorf("Expected 0 feed connections, got %d", m.Snapshot().FeedConnections)
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	m := &infra.Metrics{}
	hub := NewHub(m, nil)

	// A raw server-side connection with no writer draining its buffer
	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- conn
	}))
	defer srv.Close()

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer clientConn.Close()
	conn := <-serverConn
	defer conn.Close()

	slow := &client{conn: conn, send: make(chan []byte)}
	hub.mu.Lock()
	hub.clients[slow] = struct{}{}
	hub.mu.Unlock()
	m.IncrementConnections()

	hub.Publish(sampleEvent(1, 150))

	if hub.Clients() != 0 {
		t.Errorf("Expected slow subscriber to be dropped, got %d clients", hub.Clients())
	}
	if _, ok := <-slow.send; ok {
		t.Error("Expected send channel to be closed")
	}
}

func TestHeadlineAmount(t *testing.T) {
	tests := []struct {
		payload any
		want    int64
		ok      bool
	}{
		{domain.AuctionFinalized{WinningAmount: 500}, 500, true},
		{domain.EmergencyWithdrawal{Amount: 310}, 310, true},
		{domain.PartialRefund{Amount: 150}, 150, true},
		{domain.PayoutWithdrawn{Amount: 98}, 98, true},
		{"unknown", 0, false},
	}
	for _, tt := range tests {
		got, ok := headlineAmount(tt.payload)
		if got != tt.want || ok != tt.ok {
			t.Errorf("headlineAmount(%T): expected %d/%v, got %d/%v", tt.payload, tt.want, tt.ok, got, ok)
		}
	}
}
