package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	batchesClosed      atomic.Uint64
	proposalsSubmitted atomic.Uint64
	proposalsExecuted  atomic.Uint64
	proposalsCancelled atomic.Uint64
	errorsTotal        atomic.Uint64

	// Latency tracking for settlement runs
	settleLatencySumNs atomic.Int64
	settleLatencyCount atomic.Uint64

	// Gauges
	streamConnected  atomic.Int32 // 1 = connected, 0 = disconnected
	proposalsPending atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordBatchClosed records a completed batch close.
func (m *Metrics) RecordBatchClosed() {
	m.batchesClosed.Add(1)
}

// RecordSettlement records a settlement run with its latency. A proposal was
// submitted unless the batch netted to zero.
func (m *Metrics) RecordSettlement(latencyNs int64, proposed bool) {
	m.settleLatencySumNs.Add(latencyNs)
	m.settleLatencyCount.Add(1)
	if proposed {
		m.proposalsSubmitted.Add(1)
		m.proposalsPending.Add(1)
	}
}

// RecordProposalExecuted records a proposal reaching its executed state.
func (m *Metrics) RecordProposalExecuted() {
	m.proposalsExecuted.Add(1)
	m.proposalsPending.Add(-1)
}

// RecordProposalCancelled records a proposal reaching its cancelled state.
func (m *Metrics) RecordProposalCancelled() {
	m.proposalsCancelled.Add(1)
	m.proposalsPending.Add(-1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetStreamConnected sets the venue stream connectivity gauge.
func (m *Metrics) SetStreamConnected(connected bool) {
	if connected {
		m.streamConnected.Store(1)
	} else {
		m.streamConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	BatchesClosed      uint64
	ProposalsSubmitted uint64
	ProposalsExecuted  uint64
	ProposalsCancelled uint64
	ProposalsPending   int32
	ErrorsTotal        uint64
	AvgSettleLatencyNs int64
	StreamConnected    bool
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.settleLatencyCount.Load()
	if count > 0 {
		avgLatency = m.settleLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		BatchesClosed:      m.batchesClosed.Load(),
		ProposalsSubmitted: m.proposalsSubmitted.Load(),
		ProposalsExecuted:  m.proposalsExecuted.Load(),
		ProposalsCancelled: m.proposalsCancelled.Load(),
		ProposalsPending:   m.proposalsPending.Load(),
		ErrorsTotal:        m.errorsTotal.Load(),
		AvgSettleLatencyNs: avgLatency,
		StreamConnected:    m.streamConnected.Load() == 1,
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.batchesClosed.Store(0)
	m.proposalsSubmitted.Store(0)
	m.proposalsExecuted.Store(0)
	m.proposalsCancelled.Store(0)
	m.errorsTotal.Store(0)
	m.settleLatencySumNs.Store(0)
	m.settleLatencyCount.Store(0)
	m.streamConnected.Store(0)
	m.proposalsPending.Store(0)
}
