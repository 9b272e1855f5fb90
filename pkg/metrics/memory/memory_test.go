package memory

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"quickpe/pkg/metrics"
)

func TestMemoryCollector_Layers(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordGet("L1", true, time.Millisecond)
	mc.RecordGet("L1", false, time.Millisecond)
	mc.RecordSet("L1", false, time.Millisecond)
	mc.RecordCircuitState("L2", metrics.CircuitOpen)
	mc.RecordCircuitState("L2", metrics.CircuitOpen)
	mc.RecordCircuitState("L2", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("L2", metrics.CircuitOpen)
	mc.RecordChainGet(true, 1, time.Millisecond)
	mc.RecordChainGet(false, -1, time.Millisecond)

	l1 := mc.GetLayerMetrics("L1")
	if l1 == nil {
		t.Fatal("Expected L1 metrics")
	}
	if l1.Hits != 1 || l1.Misses != 1 || l1.Sets != 1 || l1.Errors != 1 {
		t.Errorf("Unexpected L1 metrics %+v", l1)
	}

	l2 := mc.GetLayerMetrics("L2")
	if l2.CircuitOpens != 2 {
		t.Errorf("Expected 2 circuit opens, got %d", l2.CircuitOpens)
	}

	snap := mc.Snapshot()
	if snap.ChainHits != 1 || snap.ChainMisses != 1 || snap.ChainHitsByLayer[1] != 1 {
		t.Errorf("Unexpected chain metrics %+v", snap)
	}

	if mc.GetLayerMetrics("absent") != nil {
		t.Error("Expected nil for unknown layer")
	}
}

func TestMemoryCollector_WalletAndHTTP(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordTransfer(metrics.OutcomeSuccess, time.Millisecond)
	mc.RecordTransfer(metrics.OutcomeSuccess, time.Millisecond)
	mc.RecordTransfer(metrics.OutcomeReplayed, time.Millisecond)
	mc.RecordDeposit(metrics.OutcomeRejected, time.Millisecond)
	mc.RecordHTTPRequest(http.MethodPost, "/api/v1/account/transfer", http.StatusOK, time.Millisecond)

	snap := mc.Snapshot()
	if snap.Transfers[metrics.OutcomeSuccess] != 2 || snap.Transfers[metrics.OutcomeReplayed] != 1 {
		t.Errorf("Unexpected transfer counts %v", snap.Transfers)
	}
	if snap.Deposits[metrics.OutcomeRejected] != 1 {
		t.Errorf("Unexpected deposit counts %v", snap.Deposits)
	}
	if snap.Requests[RequestKey("POST", "/api/v1/account/transfer", 200)] != 1 {
		t.Errorf("Unexpected request counts %v", snap.Requests)
	}

	mc.Reset()
	if len(mc.Snapshot().Transfers) != 0 {
		t.Error("Expected Reset to clear transfers")
	}
}

func TestMemoryCollector_SnapshotIsCopy(t *testing.T) {
	mc := NewMemoryCollector()
	mc.RecordGet("L1", true, time.Millisecond)

	snap := mc.Snapshot()
	mc.RecordGet("L1", true, 2*time.Millisecond)

	if got := len(snap.LayerMetrics["L1"].GetLatencies); got != 1 {
		t.Errorf("Snapshot shares latency slice, len = %d", got)
	}
}

func TestMemoryCollector_Concurrent(t *testing.T) {
	mc := NewMemoryCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mc.RecordGet("L1", j%2 == 0, time.Microsecond)
				mc.RecordTransfer(metrics.OutcomeSuccess, time.Microsecond)
			}
		}()
	}
	wg.Wait()

	lm := mc.GetLayerMetrics("L1")
	if lm.Hits+lm.Misses != 1000 {
		t.Errorf("Expected 1000 gets, got %d", lm.Hits+lm.Misses)
	}
	if mc.Snapshot().Transfers[metrics.OutcomeSuccess] != 1000 {
		t.Error("Lost transfer counts under concurrency")
	}
}
