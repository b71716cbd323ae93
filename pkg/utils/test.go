// Package utils holds signal generators and test doubles shared by the
// analyzer, capture and transport tests.
package utils

import (
	"math"
	"sync"
)

// MockSink records the blocks handed to it, standing in for the analyzer
// behind a capture source.
type MockSink struct {
	mu     sync.Mutex
	Blocks [][]float32
}

// ProcessAudioBlock stores a copy of block, since capture sources reuse
// their buffers between callbacks.
func (m *MockSink) ProcessAudioBlock(block []float32) {
	cp := make([]float32, len(block))
	copy(cp, block)
	m.mu.Lock()
	m.Blocks = append(m.Blocks, cp)
	m.mu.Unlock()
}

// Samples returns every recorded sample in arrival order.
func (m *MockSink) Samples() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float32
	for _, b := range m.Blocks {
		out = append(out, b...)
	}
	return out
}

// GenerateComplexWave returns a 440Hz tone with its second and third
// harmonics, peaking at 0.9 full scale.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine at frequency Hz with
// the given peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// Interleave spreads a mono signal over channels, scaling channel c by
// gains[c] (1.0 when gains is short).
func Interleave(mono []float32, channels int, gains ...float32) []float32 {
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			g := float32(1)
			if c < len(gains) {
				g = gains[c]
			}
			out[i*channels+c] = s * g
		}
	}
	return out
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1], clamping the range to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
