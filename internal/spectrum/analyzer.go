// SPDX-License-Identifier: MIT
/*
Package spectrum turns a live stream of mono audio blocks into display
ready spectrum frames.

Each call to ProcessAudioBlock runs the full pipeline on the most recent
FFTSize samples:

	slide -> Hann window -> real FFT -> power -> dB -> min-max normalize
	      -> average into BinCount bars -> publish Snapshot

Thread Safety:
  - ProcessAudioBlock must only be called from one goroutine (the capture
    callback). The FFT plan, window table and work buffers are owned by it.
  - Snapshot, State, StartAnalysis and StopAnalysis are safe from any
    goroutine. The latest frame is handed over through an atomic pointer,
    so a reader sees either a complete frame or nil, never a partial one.
  - Every buffer is allocated in New. The steady state allocates only the
    published Snapshot itself.
*/
package spectrum

import (
	"math"
	"sync/atomic"
	"time"

	applog "micscope/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Power values are clamped into this range before the log so the dB
// vector stays finite.
const (
	minPower = math.SmallestNonzeroFloat64
	maxPower = math.MaxFloat64
)

// Pre-allocated buffers for one analysis pass.
type workspace struct {
	windowed []float64    // Windowed copy of the sliding buffer.
	coeffs   []complex128 // FFT output, fftSize/2 + 1 values.
	decibels []float64    // Power in dB, fftSize/2 values, normalized in place.
	window   []float64    // Hann coefficients.
}

// Analyzer is a real-time spectrum analyzer. Create one with New.
type Analyzer struct {
	config Config
	fft    *fourier.FFT
	buffer *slidingBuffer
	ws     workspace

	// binStarts[i] is the first FFT bin averaged into display bin i and
	// binStarts[BinCount] is fftSize/2.
	binStarts   []int
	frequencies []float64

	state   atomic.Uint32
	current atomic.Pointer[Snapshot]
	frames  atomic.Uint64
	updated chan struct{}

	now func() time.Time
}

// New validates cfg and precomputes the FFT plan, window table and every
// work buffer. The returned analyzer is Idle.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	half := cfg.FFTSize / 2

	coeffs := make([]float64, cfg.FFTSize)
	floats.AddConst(1, coeffs)
	window.Hann(coeffs)

	a := &Analyzer{
		config: cfg,
		fft:    fourier.NewFFT(cfg.FFTSize),
		buffer: newSlidingBuffer(cfg.FFTSize),
		ws: workspace{
			windowed: make([]float64, cfg.FFTSize),
			coeffs:   make([]complex128, half+1),
			decibels: make([]float64, half),
			window:   coeffs,
		},
		binStarts:   make([]int, cfg.BinCount+1),
		frequencies: make([]float64, cfg.BinCount),
		updated:     make(chan struct{}, 1),
		now:         time.Now,
	}

	// Equal-width ranges; the last one absorbs the division remainder.
	width := half / cfg.BinCount
	for i := range cfg.BinCount {
		a.binStarts[i] = i * width
		a.frequencies[i] = (float64(a.binStarts[i]) + float64(width)/2) * cfg.SampleRate / float64(cfg.FFTSize)
	}
	a.binStarts[cfg.BinCount] = half

	applog.Infof("Analyzer: Initializing (FFT: %d, Bins: %d, SampleRate: %.1f Hz, Resolution: %.2f Hz)",
		cfg.FFTSize, cfg.BinCount, cfg.SampleRate, cfg.Resolution())

	return a, nil
}

// ProcessAudioBlock slides samples into the analysis window, computes a
// new frame from the window contents and, while analyzing, publishes it.
// An empty block is ignored.
//
// Performance Critical (Hot Path):
//   - Called from the capture callback
//   - No locks, no I/O, no logging
//   - Allocates only the published Snapshot
func (a *Analyzer) ProcessAudioBlock(samples []float32) {
	if !a.buffer.push(samples) {
		return
	}

	// --- 1. Window into a copy, the raw buffer keeps sliding ---
	floats.MulTo(a.ws.windowed, a.buffer.samples, a.ws.window)

	// --- 2. Forward FFT ---
	a.fft.Coefficients(a.ws.coeffs, a.ws.windowed)

	// --- 3. Power in dB ---
	for i := range a.ws.decibels {
		c := a.ws.coeffs[i]
		a.ws.decibels[i] = decibels(real(c)*real(c) + imag(c)*imag(c))
	}

	// --- 4. Normalize to [0, 1] ---
	normalize(a.ws.decibels)

	// --- 5. Average into display bins ---
	snap := newSnapshot(a.frequencies, a.now())
	a.downsample(snap.Magnitudes)

	a.frames.Add(1)
	a.publish(snap)
}

// decibels converts a power value with a 1.0 reference. Zero, negative
// and NaN power are floored so the log stays finite.
func decibels(power float64) float64 {
	if !(power >= minPower) {
		power = minPower
	} else if power > maxPower {
		power = maxPower
	}
	return 10 * math.Log10(power)
}

// normalize applies min-max scaling in place. A zero range (silence or a
// constant signal) leaves the values as they are.
func normalize(v []float64) {
	lo, hi := floats.Min(v), floats.Max(v)
	span := hi - lo
	if !(span > 0) {
		return
	}
	floats.AddConst(-lo, v)
	floats.Scale(1/span, v)
}

// downsample writes the arithmetic mean of each bin range into dst,
// clamped to [0, 1].
func (a *Analyzer) downsample(dst []float64) {
	for i := range dst {
		lo, hi := a.binStarts[i], a.binStarts[i+1]
		mean := floats.Sum(a.ws.decibels[lo:hi]) / float64(hi-lo)
		dst[i] = math.Min(1, math.Max(0, mean))
	}
}

// publish swaps s in as the current frame if the analyzer is running. A
// StopAnalysis that lands between the state check and the store is
// caught by the second check, so a stopped analyzer never keeps a frame.
func (a *Analyzer) publish(s *Snapshot) {
	if a.State() != Analyzing {
		return
	}
	a.current.Store(s)
	if a.State() != Analyzing {
		a.current.CompareAndSwap(s, nil)
		return
	}
	a.notify()
}

// notify wakes a subscriber without blocking. Pending wake-ups collapse
// into one.
func (a *Analyzer) notify() {
	select {
	case a.updated <- struct{}{}:
	default:
	}
}

// StartAnalysis enables publication. Buffered audio is kept.
func (a *Analyzer) StartAnalysis() {
	if State(a.state.Swap(uint32(Analyzing))) != Analyzing {
		applog.Infof("Analyzer: Analysis started")
	}
}

// StopAnalysis disables publication and clears the current frame, so
// renderers drop their bars instead of freezing on the last frame. A
// block already being processed completes but is not published.
func (a *Analyzer) StopAnalysis() {
	wasAnalyzing := State(a.state.Swap(uint32(Idle))) == Analyzing
	a.current.Store(nil)
	a.notify()
	if wasAnalyzing {
		applog.Infof("Analyzer: Analysis stopped after %d frames", a.frames.Load())
	}
}

// State returns the current lifecycle state.
func (a *Analyzer) State() State {
	return State(a.state.Load())
}

// Snapshot returns the most recent published frame, or nil when idle or
// before the first frame.
func (a *Analyzer) Snapshot() *Snapshot {
	return a.current.Load()
}

// Updated returns a channel that receives a value after each publication
// and after StopAnalysis. Wake-ups are coalesced: a slow reader sees one
// pending signal and should then call Snapshot for the latest frame.
func (a *Analyzer) Updated() <-chan struct{} {
	return a.updated
}

// Config returns the configuration the analyzer was built with.
func (a *Analyzer) Config() Config {
	return a.config
}

// Frames returns the number of blocks processed since construction.
func (a *Analyzer) Frames() uint64 {
	return a.frames.Load()
}
