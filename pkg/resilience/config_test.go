package resilience

import (
	"testing"
	"time"
)

func TestDefaultResilientConfig(t *testing.T) {
	config := DefaultResilientConfig()

	if config.Timeout != 250*time.Millisecond {
		t.Errorf("Expected timeout 250ms, got %v", config.Timeout)
	}
	if config.CircuitBreakerConfig.MaxRequests != 1 {
		t.Errorf("Expected MaxRequests 1, got %d", config.CircuitBreakerConfig.MaxRequests)
	}
	if config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Expected CB timeout 10s, got %v", config.CircuitBreakerConfig.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}
	if trip(Counts{ConsecutiveFailures: 4}) {
		t.Error("Should not trip with 4 failures")
	}
	if !trip(Counts{ConsecutiveFailures: 5}) {
		t.Error("Should trip with 5 failures")
	}
}

func TestFailureRatio(t *testing.T) {
	trip := FailureRatio(20, 0.15)

	tests := []struct {
		name   string
		counts Counts
		want   bool
	}{
		{"too few requests", Counts{Requests: 10, TotalFailures: 10}, false},
		{"below ratio", Counts{Requests: 100, TotalFailures: 14}, false},
		{"at ratio", Counts{Requests: 100, TotalFailures: 15}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trip(tt.counts); got != tt.want {
				t.Errorf("FailureRatio(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}

func TestResilientConfig_With(t *testing.T) {
	config := DefaultResilientConfig()

	withTimeout := config.WithTimeout(2 * time.Second)
	if withTimeout.Timeout != 2*time.Second {
		t.Errorf("Expected timeout 2s, got %v", withTimeout.Timeout)
	}

	withCB := config.WithCircuitBreakerTimeout(20 * time.Second)
	if withCB.CircuitBreakerConfig.Timeout != 20*time.Second {
		t.Errorf("Expected CB timeout 20s, got %v", withCB.CircuitBreakerConfig.Timeout)
	}

	if config.Timeout != 250*time.Millisecond || config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Original config changed: %+v", config)
	}
}
