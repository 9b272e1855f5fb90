package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mapLayer is a minimal CacheLayer used by the package tests.
type mapLayer struct {
	mu       sync.Mutex
	name     string
	data     map[string][]byte
	getCalls int
}

func newMapLayer(name string) *mapLayer {
	return &mapLayer{name: name, data: make(map[string][]byte)}
}

func (m *mapLayer) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *mapLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapLayer) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapLayer) Name() string { return m.name }
func (m *mapLayer) Close() error { return nil }

func (m *mapLayer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func TestValidateKey(t *testing.T) {
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"account key", "account:8f14e45f-ceea-467a-9575-0a6a6a9b2c1d", false},
		{"email ident", "ident:asha@example.com", false},
		{"empty", "", true},
		{"whitespace", "ident:asha example", true},
		{"control", "ident:\x00", true},
		{"too long", string(long), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestKeyPattern(t *testing.T) {
	kp := NewKeyPattern("ident", "")

	key := kp.Build("QP12345678")
	if key != "ident:QP12345678" {
		t.Errorf("Expected ident:QP12345678, got %s", key)
	}

	rest, ok := kp.Match("ident:a:b")
	if !ok || rest != "a:b" {
		t.Errorf("Match returned (%q, %v)", rest, ok)
	}

	if _, ok := kp.Match("account:1"); ok {
		t.Error("Expected no match for other prefix")
	}
	if _, ok := kp.Match("ident:"); ok {
		t.Error("Expected no match for empty remainder")
	}
}

func TestLayerConfig_EffectiveTTL(t *testing.T) {
	cfg := LayerConfig{Name: "L1", DefaultTTL: time.Minute, MaxTTL: time.Hour}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Minute},
		{-time.Second, time.Minute},
		{time.Second, time.Second},
		{2 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := cfg.EffectiveTTL(tt.in); got != tt.want {
			t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	bad := LayerConfig{Name: "L1", DefaultTTL: time.Hour, MaxTTL: time.Minute}
	if err := bad.Validate(); err == nil {
		t.Error("Expected validation error for default > max")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrCircuitOpen, "circuit_breaker_open"},
		{WrapError(ErrTimeout, "redis", "get"), "timeout"},
		{ErrKeyNotFound, "key_not_found"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("cache: decode account:1: bad"), "serialization"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestJSONHelpers(t *testing.T) {
	layer := newMapLayer("test")
	ctx := context.Background()

	type profile struct {
		Name    string `json:"name"`
		Balance int64  `json:"balance"`
	}

	if err := SetJSON(ctx, layer, "account:1", profile{"Asha", 90000}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	got, err := GetJSON[profile](ctx, layer, "account:1")
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got.Name != "Asha" || got.Balance != 90000 {
		t.Errorf("Unexpected value: %+v", got)
	}

	if _, err := GetJSON[profile](ctx, layer, "account:2"); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestNegativeCacheLayer_CachesNotFound(t *testing.T) {
	base := newMapLayer("store")
	ncl := NewNegativeCacheLayer(base, time.Minute)
	defer ncl.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ncl.Get(ctx, "ident:nobody"); !IsNotFound(err) {
			t.Fatalf("Expected not found, got %v", err)
		}
	}

	if base.calls() != 1 {
		t.Errorf("Expected 1 underlying Get, got %d", base.calls())
	}
	if ncl.Stats().NegativeCount != 1 {
		t.Errorf("Expected 1 negative entry, got %d", ncl.Stats().NegativeCount)
	}
}

func TestNegativeCacheLayer_SetClearsNegative(t *testing.T) {
	base := newMapLayer("store")
	ncl := NewNegativeCacheLayer(base, time.Minute)
	defer ncl.Close()

	ctx := context.Background()

	_, _ = ncl.Get(ctx, "ident:new-user")

	if err := ncl.Set(ctx, "ident:new-user", []byte(`"id"`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := ncl.Get(ctx, "ident:new-user")
	if err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}
	if string(v) != `"id"` {
		t.Errorf("Unexpected value %s", v)
	}
}

func TestNegativeCacheLayer_DeleteDoesNotCacheAbsence(t *testing.T) {
	base := newMapLayer("store")
	base.data["account:1"] = []byte("{}")
	ncl := NewNegativeCacheLayer(base, time.Minute)
	defer ncl.Close()

	ctx := context.Background()

	if err := ncl.Delete(ctx, "account:other"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := ncl.Delete(ctx, "account:1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	base.data["account:1"] = []byte("{}")

	if _, err := ncl.Get(ctx, "account:1"); err != nil {
		t.Errorf("Expected value after invalidation, got %v", err)
	}
}

func TestNegativeCacheLayer_Expiry(t *testing.T) {
	base := newMapLayer("store")
	ncl := NewNegativeCacheLayer(base, time.Minute)
	defer ncl.Close()

	now := time.Now()
	ncl.now = func() time.Time { return now }

	ctx := context.Background()
	_, _ = ncl.Get(ctx, "ident:late")

	base.data["ident:late"] = []byte(`"x"`)
	if _, err := ncl.Get(ctx, "ident:late"); !IsNotFound(err) {
		t.Fatalf("Expected negative hit before expiry, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := ncl.Get(ctx, "ident:late"); err != nil {
		t.Errorf("Expected fresh lookup after expiry, got %v", err)
	}
}
