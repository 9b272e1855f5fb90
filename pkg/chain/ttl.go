package chain

import (
	"math"
	"time"
)

// TTLStrategy determines TTL for each layer in the chain.
type TTLStrategy interface {
	// GetTTL returns the TTL for layer layerIndex of a chain of numLayers.
	GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration
}

// UniformTTLStrategy uses the same TTL for all layers.
type UniformTTLStrategy struct{}

// GetTTL returns the base TTL for all layers.
func (UniformTTLStrategy) GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// DecayingTTLStrategy gives upper (faster, per-process) layers shorter TTLs
// than the shared layers below them, which bounds how long one instance can
// serve a profile another instance already changed.
type DecayingTTLStrategy struct {
	DecayFactor float64 // 0.5 means each layer keeps half the TTL of the next
}

// GetTTL returns baseTTL * DecayFactor^(numLayers-layerIndex-1).
// With three layers and a factor of 0.5: L1 gets 25%, L2 50%, L3 100%.
func (s DecayingTTLStrategy) GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	if s.DecayFactor <= 0 || s.DecayFactor >= 1 || layerIndex >= numLayers-1 {
		return baseTTL
	}

	exponent := float64(numLayers - layerIndex - 1)
	return time.Duration(float64(baseTTL) * math.Pow(s.DecayFactor, exponent))
}

// CustomTTLStrategy uses explicit TTL values for each layer.
type CustomTTLStrategy struct {
	TTLs []time.Duration
}

// GetTTL returns the custom TTL for a layer, or baseTTL if not specified.
func (s CustomTTLStrategy) GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	if layerIndex < len(s.TTLs) && s.TTLs[layerIndex] > 0 {
		return s.TTLs[layerIndex]
	}
	return baseTTL
}
