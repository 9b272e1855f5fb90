package cache

import (
	"fmt"
	"time"
)

// LayerConfig holds the settings shared by every cache layer implementation.
type LayerConfig struct {
	// Name is the identifier for this layer (e.g., "L1", "redis")
	Name string

	// DefaultTTL is used when a Set passes ttl <= 0
	DefaultTTL time.Duration

	// MaxTTL caps requested TTLs; 0 means no cap
	MaxTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *LayerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cache: layer name is required")
	}
	if c.DefaultTTL < 0 || c.MaxTTL < 0 {
		return fmt.Errorf("cache: layer %s: negative ttl", c.Name)
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("cache: layer %s: default ttl %v exceeds max ttl %v", c.Name, c.DefaultTTL, c.MaxTTL)
	}
	return nil
}

// EffectiveTTL returns the TTL to apply for a requested ttl.
// If ttl is <= 0, returns DefaultTTL.
// If ttl exceeds MaxTTL, returns MaxTTL.
func (c *LayerConfig) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}
