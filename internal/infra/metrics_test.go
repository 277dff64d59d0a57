package infra

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordCall(t *testing.T) {
	m := &Metrics{}

	m.RecordCall(1000, false)
	m.RecordCall(2000, true)
	m.RecordCall(3000, false)

	snap := m.Snapshot()

	if snap.CallsProcessed != 3 {
		t.Errorf("Expected 3 calls, got %d", snap.CallsProcessed)
	}
	if snap.CallsRejected != 1 {
		t.Errorf("Expected 1 rejected call, got %d", snap.CallsRejected)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.FeedConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.FeedConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.FeedConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.FeedConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordCall(1000, true)
	m.RecordBid()
	m.SetHeld(500)
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.CallsProcessed != 0 {
		t.Error("Expected 0 calls after reset")
	}
	if snap.BidsAccepted != 0 {
		t.Error("Expected 0 bids after reset")
	}
	if snap.HeldUnits != 0 {
		t.Error("Expected 0 held after reset")
	}
	if snap.FeedConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}

func TestCollector_Exposition(t *testing.T) {
	m := &Metrics{}
	m.RecordBid()
	m.RecordBid()
	m.RecordSettlement()
	m.SetHeld(310)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		t.Fatalf("register: %v", err)
	}

	expected := `
# HELP auction_bids_accepted_total Accepted offers.
# TYPE auction_bids_accepted_total counter
auction_bids_accepted_total 2
# HELP auction_held_units Value held by the contract account.
# TYPE auction_held_units gauge
auction_held_units 310
# HELP auction_settlements_total Finalized settlements.
# TYPE auction_settlements_total counter
auction_settlements_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"auction_bids_accepted_total", "auction_held_units", "auction_settlements_total")
	if err != nil {
		t.Errorf("Unexpected exposition: %v", err)
	}

	if n := testutil.CollectAndCount(NewCollector(m)); n != 10 {
		t.Errorf("Expected 10 metrics, got %d", n)
	}
}
