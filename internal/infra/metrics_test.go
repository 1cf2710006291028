package infra

import (
	"testing"
)

func TestMetrics_RecordSettlement(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(1000, true)
	m.RecordSettlement(2000, true)
	m.RecordSettlement(3000, false)

	snap := m.Snapshot()

	if snap.ProposalsSubmitted != 2 {
		t.Errorf("Expected 2 proposals, got %d", snap.ProposalsSubmitted)
	}
	if snap.ProposalsPending != 2 {
		t.Errorf("Expected 2 pending, got %d", snap.ProposalsPending)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgSettleLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgSettleLatencyNs)
	}
}

func TestMetrics_ProposalLifecycle(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(100, true)
	m.RecordSettlement(100, true)
	m.RecordProposalExecuted()
	m.RecordProposalCancelled()

	snap := m.Snapshot()
	if snap.ProposalsExecuted != 1 {
		t.Errorf("Expected 1 executed, got %d", snap.ProposalsExecuted)
	}
	if snap.ProposalsCancelled != 1 {
		t.Errorf("Expected 1 cancelled, got %d", snap.ProposalsCancelled)
	}
	if snap.ProposalsPending != 0 {
		t.Errorf("Expected 0 pending, got %d", snap.ProposalsPending)
	}
}

func TestMetrics_StreamConnected(t *testing.T) {
	m := &Metrics{}

	snap := m.Snapshot()
	if snap.StreamConnected {
		t.Error("Expected stream disconnected initially")
	}

	m.SetStreamConnected(true)
	snap = m.Snapshot()
	if !snap.StreamConnected {
		t.Error("Expected stream connected")
	}

	m.SetStreamConnected(false)
	snap = m.Snapshot()
	if snap.StreamConnected {
		t.Error("Expected stream disconnected")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(1000, true)
	m.RecordError()
	m.RecordBatchClosed()

	m.Reset()
	snap := m.Snapshot()

	if snap.ProposalsSubmitted != 0 {
		t.Error("Expected 0 proposals after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.BatchesClosed != 0 {
		t.Error("Expected 0 closed batches after reset")
	}
}
