package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Getter is the read side of a cache layer or chain.
type Getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Setter is the write side of a cache layer or chain.
type Setter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GetJSON reads key from c and decodes it into a T.
func GetJSON[T any](ctx context.Context, c Getter, key string) (T, error) {
	var out T
	data, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Setter, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
