package prometheus

import (
	"testing"
	"time"

	"quickpe/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_Register(t *testing.T) {
	pc := NewPrometheusCollector("quickpe_test")
	registry := prometheus.NewRegistry()

	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := pc.Register(registry); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestPrometheusCollector_Records(t *testing.T) {
	pc := NewPrometheusCollector("quickpe_test")

	pc.RecordGet("L1", true, time.Millisecond)
	pc.RecordGet("L1", false, time.Millisecond)
	pc.RecordChainGet(true, 2, time.Millisecond)
	pc.RecordCircuitState("L2", metrics.CircuitOpen)
	pc.RecordTransfer(metrics.OutcomeSuccess, 10*time.Millisecond)
	pc.RecordTransfer(metrics.OutcomeReplayed, time.Millisecond)
	pc.RecordDeposit(metrics.OutcomeSuccess, time.Millisecond)
	pc.RecordHTTPRequest("POST", "/api/v1/account/transfer", 200, time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"L1 hits", testutil.ToFloat64(pc.cacheHits.WithLabelValues("L1")), 1},
		{"L1 misses", testutil.ToFloat64(pc.cacheMisses.WithLabelValues("L1")), 1},
		{"chain hits at 2", testutil.ToFloat64(pc.chainHits.WithLabelValues("2")), 1},
		{"circuit state", testutil.ToFloat64(pc.circuitState.WithLabelValues("L2")), float64(metrics.CircuitOpen)},
		{"transfers ok", testutil.ToFloat64(pc.transfers.WithLabelValues(metrics.OutcomeSuccess)), 1},
		{"transfers replayed", testutil.ToFloat64(pc.transfers.WithLabelValues(metrics.OutcomeReplayed)), 1},
		{"deposits ok", testutil.ToFloat64(pc.deposits.WithLabelValues(metrics.OutcomeSuccess)), 1},
		{"http", testutil.ToFloat64(pc.httpRequests.WithLabelValues("POST", "/api/v1/account/transfer", "200")), 1},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
