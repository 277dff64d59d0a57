package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra/auth"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
app:
  name: auction-test
auction:
  owner: owner
  min_price: "1.00"
  unit_decimals: 2
  duration: 2h
auth:
  secrets:
    owner: o-secret
    alice: a-secret
storage:
  path: %s
logging:
  dir: %s
  level: warn
server:
  dump_path: %s
`, filepath.Join(dir, "db", "auction.db"), filepath.Join(dir, "logs"), filepath.Join(dir, "dump.json"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func start(t *testing.T, path string, now time.Time) (*Bootstrap, context.CancelFunc) {
	t.Helper()
	b := NewBootstrap(path)
	b.clock = fixedClock{now: now}
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go b.Sequencer.Run(ctx)
	return b, cancel
}

func TestBootstrap_CreateThenRestore(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	b, cancel := start(t, path, now)
	if b.Engine.MinPrice() != 100 {
		t.Errorf("Expected min price 100 units, got %d", b.Engine.MinPrice())
	}
	id := b.Engine.ID()

	if _, err := b.Sequencer.PlaceBid(context.Background(), "alice", 150); err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	if _, err := b.Sequencer.PlaceBid(context.Background(), "alice", 100); err == nil {
		t.Fatal("Expected rejection")
	}
	cancel()
	b.Close()

	// Second start restores instead of creating
	b2, cancel2 := start(t, path, now.Add(time.Hour))
	defer func() {
		cancel2()
		b2.Close()
	}()

	if b2.Engine.ID() != id {
		t.Errorf("Expected restored auction %s, got %s", id, b2.Engine.ID())
	}
	if b2.Treasury.Held() != 150 {
		t.Errorf("Expected held 150, got %d", b2.Treasury.Held())
	}
	if b2.Sequencer.LastSeq() != 2 {
		t.Errorf("Expected journal head 2, got %d", b2.Sequencer.LastSeq())
	}
	w, err := b2.Sequencer.Winner(context.Background())
	if err != nil || w.Bidder != domain.Identity("alice") {
		t.Errorf("Expected alice winning, got %+v (%v)", w, err)
	}
	if !b2.Engine.FinishTime().Equal(now.Add(2 * time.Hour)) {
		t.Errorf("Expected finish time from first start, got %s", b2.Engine.FinishTime())
	}
}

func TestBootstrap_Handler(t *testing.T) {
	dir := t.TempDir()
	b, cancel := start(t, writeConfig(t, dir), time.Now().UTC())
	defer func() {
		cancel()
		b.Close()
	}()

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	body := `{"value":150}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/bids", strings.NewReader(body))
	auth.NewSigner("alice", "a-secret").Sign(req, []byte(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/calls?limit=5")
	if err != nil {
		t.Fatalf("GET /v1/calls failed: %v", err)
	}
	var journal struct {
		Calls []domain.CallRecord `json:"calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&journal); err != nil {
		t.Fatalf("Decode journal failed: %v", err)
	}
	resp.Body.Close()
	if len(journal.Calls) != 1 || journal.Calls[0].Kind != "place_bid" || journal.Calls[0].Outcome != "ok" {
		t.Errorf("Expected one journaled bid, got %+v", journal.Calls)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestBootstrap_MissingConfig(t *testing.T) {
	b := NewBootstrap(filepath.Join(t.TempDir(), "nope.yaml"))
	if err := b.Initialize(context.Background()); err == nil {
		t.Error("Expected error for missing config")
	}
}
