// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate is a peak noise gate. While enabled, a block whose peak absolute
// amplitude does not exceed the threshold is replaced by silence, so the
// spectrum bars fall instead of showing room noise.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits
}

func (g *Gate) EnableGate() {
	g.enabled.Store(true)
}

func (g *Gate) DisableGate() {
	g.enabled.Store(false)
}

// GateEnabled reports whether the gate is active.
func (g *Gate) GateEnabled() bool {
	return g.enabled.Load()
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetGateThreshold(threshold float64) {
	if !(threshold >= 0.0) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// GetGateThreshold returns the current noise gate threshold.
func (g *Gate) GetGateThreshold() float64 {
	return float64(math.Float32frombits(g.threshold.Load()))
}

// apply zeroes block when the gate is closed and reports whether the
// block passed.
func (g *Gate) apply(block []float32) bool {
	if !g.enabled.Load() {
		return true
	}
	threshold := math.Float32frombits(g.threshold.Load())
	if peak(block) > threshold || (threshold == 0 && len(block) > 0) {
		return true
	}
	clear(block)
	return false
}

// peak returns the largest absolute sample value.
func peak(block []float32) float32 {
	var m float32
	for _, s := range block {
		// Clear the sign bit instead of branching.
		a := math.Float32frombits(math.Float32bits(s) &^ (1 << 31))
		if a > m {
			m = a
		}
	}
	return m
}
