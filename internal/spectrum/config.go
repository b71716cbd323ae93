// SPDX-License-Identifier: MIT
package spectrum

import (
	"errors"
	"fmt"

	"micscope/pkg/bitint"
)

// Defaults used when no configuration is supplied.
const (
	DefaultFFTSize    = 1024  // ~23ms window at 44.1kHz
	DefaultBinCount   = 32    // Display bars
	DefaultSampleRate = 44100 // CD-quality audio
)

// Validation errors. Errors returned by Config.Validate and New wrap one
// of these, so callers can test with errors.Is.
var (
	ErrFFTSize    = errors.New("spectrum: fft size must be a power of two")
	ErrBinCount   = errors.New("spectrum: invalid bin count")
	ErrSampleRate = errors.New("spectrum: sample rate must be positive")
)

// Config is fixed at construction. Changing any field means building a
// new Analyzer, since the FFT plan and window table depend on FFTSize.
type Config struct {
	FFTSize    int     // Window length in samples, power of two.
	BinCount   int     // Number of output display bins.
	SampleRate float64 // Capture sample rate in Hz.
}

// DefaultConfig returns the 1024 / 32 / 44100 configuration.
func DefaultConfig() Config {
	return Config{
		FFTSize:    DefaultFFTSize,
		BinCount:   DefaultBinCount,
		SampleRate: DefaultSampleRate,
	}
}

// Validate checks the construction preconditions.
func (c Config) Validate() error {
	if !bitint.IsPowerOfTwo(c.FFTSize) {
		return fmt.Errorf("%w: got %d (nearest valid: %d)", ErrFFTSize, c.FFTSize, bitint.NextPowerOfTwo(c.FFTSize))
	}
	if c.BinCount <= 0 {
		return fmt.Errorf("%w: got %d, must be positive", ErrBinCount, c.BinCount)
	}
	if c.BinCount > c.FFTSize/2 {
		return fmt.Errorf("%w: got %d, must not exceed fft size / 2 (%d)", ErrBinCount, c.BinCount, c.FFTSize/2)
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("%w: got %f", ErrSampleRate, c.SampleRate)
	}
	return nil
}

// Resolution returns the width of one FFT bin in Hz.
func (c Config) Resolution() float64 {
	return c.SampleRate / float64(c.FFTSize)
}
