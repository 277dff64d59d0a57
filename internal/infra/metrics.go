package infra

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides lightweight observability for the call loop.
// Uses atomic operations for thread-safety; exported to Prometheus via Collector.
type Metrics struct {
	// Counters
	callsProcessed   atomic.Uint64
	callsRejected    atomic.Uint64
	bidsAccepted     atomic.Uint64
	refundsPaid      atomic.Uint64
	settlements      atomic.Uint64
	transferFailures atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedConnections atomic.Int32
	heldUnits       atomic.Int64
	lastSeq         atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCall records a processed call with latency. Rejected calls count towards both totals.
func (m *Metrics) RecordCall(latencyNs int64, rejected bool) {
	m.callsProcessed.Add(1)
	if rejected {
		m.callsRejected.Add(1)
	}
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordBid records an accepted offer.
func (m *Metrics) RecordBid() {
	m.bidsAccepted.Add(1)
}

// RecordRefund records a paid partial refund.
func (m *Metrics) RecordRefund() {
	m.refundsPaid.Add(1)
}

// RecordSettlement records a finalized auction.
func (m *Metrics) RecordSettlement() {
	m.settlements.Add(1)
}

// RecordTransferFailure records a transfer rejected by the recipient or the treasury.
func (m *Metrics) RecordTransferFailure() {
	m.transferFailures.Add(1)
}

// IncrementConnections increments feed connections by 1.
func (m *Metrics) IncrementConnections() {
	m.feedConnections.Add(1)
}

// DecrementConnections decrements feed connections by 1.
func (m *Metrics) DecrementConnections() {
	m.feedConnections.Add(-1)
}

// SetHeld sets the contract balance gauge.
func (m *Metrics) SetHeld(units int64) {
	m.heldUnits.Store(units)
}

// SetLastSeq sets the last committed call sequence.
func (m *Metrics) SetLastSeq(seq uint64) {
	m.lastSeq.Store(seq)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CallsProcessed   uint64
	CallsRejected    uint64
	BidsAccepted     uint64
	RefundsPaid      uint64
	Settlements      uint64
	TransferFailures uint64
	AvgLatencyNs     int64
	FeedConnections  int32
	HeldUnits        int64
	LastSeq          uint64
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CallsProcessed:   m.callsProcessed.Load(),
		CallsRejected:    m.callsRejected.Load(),
		BidsAccepted:     m.bidsAccepted.Load(),
		RefundsPaid:      m.refundsPaid.Load(),
		Settlements:      m.settlements.Load(),
		TransferFailures: m.transferFailures.Load(),
		AvgLatencyNs:     avgLatency,
		FeedConnections:  m.feedConnections.Load(),
		HeldUnits:        m.heldUnits.Load(),
		LastSeq:          m.lastSeq.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.callsProcessed.Store(0)
	m.callsRejected.Store(0)
	m.bidsAccepted.Store(0)
	m.refundsPaid.Store(0)
	m.settlements.Store(0)
	m.transferFailures.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedConnections.Store(0)
	m.heldUnits.Store(0)
	m.lastSeq.Store(0)
}

var (
	descCalls            = prometheus.NewDesc("auction_calls_total", "Calls processed by the sequencer.", nil, nil)
	descCallsRejected    = prometheus.NewDesc("auction_calls_rejected_total", "Calls that failed and were reverted.", nil, nil)
	descBids             = prometheus.NewDesc("auction_bids_accepted_total", "Accepted offers.", nil, nil)
	descRefunds          = prometheus.NewDesc("auction_partial_refunds_total", "Paid partial refunds.", nil, nil)
	descSettlements      = prometheus.NewDesc("auction_settlements_total", "Finalized settlements.", nil, nil)
	descTransferFailures = prometheus.NewDesc("auction_transfer_failures_total", "Rejected value transfers.", nil, nil)
	descLatency          = prometheus.NewDesc("auction_call_latency_avg_seconds", "Average call processing latency.", nil, nil)
	descFeed             = prometheus.NewDesc("auction_feed_connections", "Open event feed subscribers.", nil, nil)
	descHeld             = prometheus.NewDesc("auction_held_units", "Value held by the contract account.", nil, nil)
	descSeq              = prometheus.NewDesc("auction_last_sequence", "Last committed call sequence.", nil, nil)
)

// Collector exposes a Metrics instance as a prometheus.Collector.
type Collector struct {
	m *Metrics
}

// NewCollector wraps m for registration with a prometheus.Registry.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCalls
	ch <- descCallsRejected
	ch <- descBids
	ch <- descRefunds
	ch <- descSettlements
	ch <- descTransferFailures
	ch <- descLatency
	ch <- descFeed
	ch <- descHeld
	ch <- descSeq
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(descCalls, prometheus.CounterValue, float64(s.CallsProcessed))
	ch <- prometheus.MustNewConstMetric(descCallsRejected, prometheus.CounterValue, float64(s.CallsRejected))
	ch <- prometheus.MustNewConstMetric(descBids, prometheus.CounterValue, float64(s.BidsAccepted))
	ch <- prometheus.MustNewConstMetric(descRefunds, prometheus.CounterValue, float64(s.RefundsPaid))
	ch <- prometheus.MustNewConstMetric(descSettlements, prometheus.CounterValue, float64(s.Settlements))
	ch <- prometheus.MustNewConstMetric(descTransferFailures, prometheus.CounterValue, float64(s.TransferFailures))
	ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, time.Duration(s.AvgLatencyNs).Seconds())
	ch <- prometheus.MustNewConstMetric(descFeed, prometheus.GaugeValue, float64(s.FeedConnections))
	ch <- prometheus.MustNewConstMetric(descHeld, prometheus.GaugeValue, float64(s.HeldUnits))
	ch <- prometheus.MustNewConstMetric(descSeq, prometheus.GaugeValue, float64(s.LastSeq))
}
