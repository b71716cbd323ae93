// SPDX-License-Identifier: MIT
package spectrum

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"
	"testing"
	"time"

	"micscope/pkg/utils"

	"github.com/mjibson/go-dsp/fft"
)

const (
	testFFTSize    = 1024
	testBinCount   = 32
	testSampleRate = 44100
)

func newTestAnalyzer(t testing.TB, cfg Config) *Analyzer {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) error = %v", cfg, err)
	}
	return a
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"Default", DefaultConfig(), nil},
		{"Smallest", Config{FFTSize: 2, BinCount: 1, SampleRate: 8000}, nil},
		{"All bins", Config{FFTSize: 256, BinCount: 128, SampleRate: 48000}, nil},
		{"Not power of two", Config{FFTSize: 1000, BinCount: 32, SampleRate: 44100}, ErrFFTSize},
		{"Zero size", Config{FFTSize: 0, BinCount: 32, SampleRate: 44100}, ErrFFTSize},
		{"Size one", Config{FFTSize: 1, BinCount: 1, SampleRate: 44100}, ErrBinCount},
		{"Zero bins", Config{FFTSize: 1024, BinCount: 0, SampleRate: 44100}, ErrBinCount},
		{"Negative bins", Config{FFTSize: 1024, BinCount: -4, SampleRate: 44100}, ErrBinCount},
		{"Too many bins", Config{FFTSize: 1024, BinCount: 513, SampleRate: 44100}, ErrBinCount},
		{"Zero sample rate", Config{FFTSize: 1024, BinCount: 32, SampleRate: 0}, ErrSampleRate},
		{"NaN sample rate", Config{FFTSize: 1024, BinCount: 32, SampleRate: math.NaN()}, ErrSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("New() unexpected error: %v", err)
				}
				if a.State() != Idle {
					t.Errorf("new analyzer state = %s, want idle", a.State())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
			if a != nil {
				t.Error("New() returned an analyzer alongside an error")
			}
		})
	}
}

func TestHannWindow(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	n := float64(testFFTSize)

	for i, w := range a.ws.window {
		want := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/(n-1)))
		if math.Abs(w-want) > 1e-12 {
			t.Fatalf("window[%d] = %v, want %v", i, w, want)
		}
	}
	if a.ws.window[0] != 0 {
		t.Errorf("window[0] = %v, want 0", a.ws.window[0])
	}
	// Symmetric: first and last coefficients match.
	if math.Abs(a.ws.window[testFFTSize-1]) > 1e-12 {
		t.Errorf("window[N-1] = %v, want 0", a.ws.window[testFFTSize-1])
	}
}

func TestSlidingBuffer(t *testing.T) {
	const size = 8
	seq := func(start, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(start + i)
		}
		return out
	}

	tests := []struct {
		name   string
		blocks [][]float32
		want   []float64
	}{
		{
			"Two halves",
			[][]float32{seq(1, 4), seq(5, 4)},
			[]float64{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			"Three halves keep the newest window",
			[][]float32{seq(1, 4), seq(5, 4), seq(9, 4)},
			[]float64{5, 6, 7, 8, 9, 10, 11, 12},
		},
		{
			"Partial fill keeps leading zeros",
			[][]float32{seq(1, 3)},
			[]float64{0, 0, 0, 0, 0, 1, 2, 3},
		},
		{
			"Oversized block keeps its tail",
			[][]float32{seq(1, 3), seq(100, 11)},
			[]float64{103, 104, 105, 106, 107, 108, 109, 110},
		},
		{
			"Uneven chunks",
			[][]float32{seq(1, 5), seq(6, 1), seq(7, 3), seq(10, 2)},
			[]float64{4, 5, 6, 7, 8, 9, 10, 11},
		},
		{
			"Empty block is ignored",
			[][]float32{seq(1, 8), {}},
			[]float64{1, 2, 3, 4, 5, 6, 7, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newSlidingBuffer(size)
			for _, block := range tt.blocks {
				b.push(block)
			}
			if len(b.samples) != size {
				t.Fatalf("buffer length = %d, want %d", len(b.samples), size)
			}
			for i := range tt.want {
				if b.samples[i] != tt.want[i] {
					t.Fatalf("buffer = %v, want %v", b.samples, tt.want)
				}
			}
		})
	}
}

func TestSlidingHalfBlocks(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	blockA := utils.GenerateSineWave(testFFTSize/2, testSampleRate, 300, 0.5)
	blockB := utils.GenerateComplexWave(testFFTSize/2, testSampleRate)

	a.ProcessAudioBlock(blockA)
	a.ProcessAudioBlock(blockB)

	// A half block shifts A into the front half and leaves B at the tail.
	// The window step must not have touched the raw samples.
	for i := range testFFTSize / 2 {
		if a.buffer.samples[i] != float64(blockA[i]) {
			t.Fatalf("samples[%d] = %v, want block A %v", i, a.buffer.samples[i], blockA[i])
		}
		if a.buffer.samples[testFFTSize/2+i] != float64(blockB[i]) {
			t.Fatalf("samples[%d] = %v, want block B %v", testFFTSize/2+i, a.buffer.samples[testFFTSize/2+i], blockB[i])
		}
	}
}

func TestShapeAndRange(t *testing.T) {
	configs := []Config{
		DefaultConfig(),
		{FFTSize: 512, BinCount: 7, SampleRate: 48000},
		{FFTSize: 2048, BinCount: 64, SampleRate: 16000},
		{FFTSize: 64, BinCount: 32, SampleRate: 8000},
	}
	signals := map[string][]float32{
		"complex": utils.GenerateComplexWave(3000, testSampleRate),
		"sine":    utils.GenerateSineWave(700, testSampleRate, 5000, 0.25),
		"short":   utils.GenerateSineWave(37, testSampleRate, 100, 1.0),
	}

	for _, cfg := range configs {
		for name, signal := range signals {
			a := newTestAnalyzer(t, cfg)
			a.StartAnalysis()
			a.ProcessAudioBlock(signal)

			snap := a.Snapshot()
			if snap == nil {
				t.Fatalf("%+v/%s: no snapshot published", cfg, name)
			}
			if len(snap.Magnitudes) != cfg.BinCount || len(snap.Frequencies) != cfg.BinCount {
				t.Fatalf("%+v/%s: lengths = (%d, %d), want %d",
					cfg, name, len(snap.Magnitudes), len(snap.Frequencies), cfg.BinCount)
			}
			for i, m := range snap.Magnitudes {
				if math.IsNaN(m) || m < 0 || m > 1 {
					t.Errorf("%+v/%s: magnitude[%d] = %v outside [0, 1]", cfg, name, i, m)
				}
			}
		}
	}
}

func TestSilenceIsDeterministic(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()
	silence := make([]float32, testFFTSize)

	var first []float64
	for run := range 5 {
		a.ProcessAudioBlock(silence)
		snap := a.Snapshot()
		if snap == nil {
			t.Fatal("no snapshot published for silence")
		}
		for i, m := range snap.Magnitudes {
			if math.IsNaN(m) || math.IsInf(m, 0) {
				t.Fatalf("run %d: magnitude[%d] = %v", run, i, m)
			}
			if m != 0 {
				t.Errorf("run %d: magnitude[%d] = %v, want 0", run, i, m)
			}
		}
		if first == nil {
			first = append([]float64(nil), snap.Magnitudes...)
			continue
		}
		for i := range first {
			if snap.Magnitudes[i] != first[i] {
				t.Fatalf("run %d: magnitude[%d] = %v, first run had %v", run, i, snap.Magnitudes[i], first[i])
			}
		}
	}
}

func TestConstantSignal(t *testing.T) {
	a := newTestAnalyzer(t, Config{FFTSize: 256, BinCount: 16, SampleRate: 8000})
	a.StartAnalysis()

	// A DC block after silence still has a finite, bounded spectrum.
	dc := make([]float32, 256)
	for i := range dc {
		dc[i] = 0.5
	}
	a.ProcessAudioBlock(dc)

	snap := a.Snapshot()
	for i, m := range snap.Magnitudes {
		if math.IsNaN(m) || m < 0 || m > 1 {
			t.Errorf("magnitude[%d] = %v outside [0, 1]", i, m)
		}
	}
	if idx, _, _ := snap.Peak(); idx != 0 {
		t.Errorf("DC peak bin = %d, want 0", idx)
	}
}

func TestFrequencyLayout(t *testing.T) {
	configs := []Config{
		DefaultConfig(),
		{FFTSize: 1024, BinCount: 7, SampleRate: 44100},
		{FFTSize: 4096, BinCount: 100, SampleRate: 48000},
		{FFTSize: 8, BinCount: 4, SampleRate: 8000},
	}

	for _, cfg := range configs {
		a := newTestAnalyzer(t, cfg)
		width := float64((cfg.FFTSize/2)/cfg.BinCount) * cfg.Resolution()

		freqs := a.frequencies
		for i := 1; i < len(freqs); i++ {
			if freqs[i] < freqs[i-1] {
				t.Errorf("%+v: frequencies not monotonic at %d: %v < %v", cfg, i, freqs[i], freqs[i-1])
			}
		}
		if freqs[0] < 0 || freqs[0] > width {
			t.Errorf("%+v: frequencies[0] = %v, want within %v of 0", cfg, freqs[0], width)
		}
		// The last range absorbs the remainder, so it may be wider.
		lastWidth := float64(cfg.FFTSize/2-a.binStarts[cfg.BinCount-1]) * cfg.Resolution()
		nyquist := cfg.SampleRate / 2
		if last := freqs[len(freqs)-1]; math.Abs(nyquist-last) > lastWidth {
			t.Errorf("%+v: last frequency = %v, want within %v of %v", cfg, last, lastWidth, nyquist)
		}

		// Ranges cover every FFT bin exactly once.
		if a.binStarts[0] != 0 || a.binStarts[cfg.BinCount] != cfg.FFTSize/2 {
			t.Errorf("%+v: bin ranges = %v, want 0..%d", cfg, a.binStarts, cfg.FFTSize/2)
		}
		for i := 1; i <= cfg.BinCount; i++ {
			if a.binStarts[i] <= a.binStarts[i-1] {
				t.Errorf("%+v: empty or overlapping range at %d: %v", cfg, i, a.binStarts)
			}
		}
	}
}

func TestSine1kHz(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()

	a.ProcessAudioBlock(utils.GenerateSineWave(testFFTSize, testSampleRate, 1000, 1.0))

	snap := a.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot published")
	}

	width := (testFFTSize / 2) / testBinCount
	resolution := float64(testSampleRate) / testFFTSize
	wantBin := int(1000/resolution) / width

	idx, freq, mag := snap.Peak()
	if idx != wantBin {
		t.Errorf("peak bin = %d, want %d (magnitudes %v)", idx, wantBin, snap.Magnitudes)
	}
	// Averaging normalized dB over the bin pulls the peak below 1 (about 0.78).
	if mag < 0.5 || mag > 1 {
		t.Errorf("peak magnitude = %v, want in [0.5, 1]", mag)
	}
	binWidthHz := float64(width) * testSampleRate / testFFTSize
	if math.Abs(freq-1000) > binWidthHz {
		t.Errorf("peak frequency = %v, want within %v of 1000", freq, binWidthHz)
	}
}

// referenceMagnitudes runs the same pipeline with an independent FFT.
func referenceMagnitudes(samples []float64, binCount int) []float64 {
	n := len(samples)
	windowed := make([]float64, n)
	for i, s := range samples {
		windowed[i] = s * 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	coeffs := fft.FFTReal(windowed)

	db := make([]float64, n/2)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range db {
		p := math.Pow(cmplx.Abs(coeffs[i]), 2)
		db[i] = 10 * math.Log10(math.Max(p, math.SmallestNonzeroFloat64))
		lo, hi = math.Min(lo, db[i]), math.Max(hi, db[i])
	}
	if hi > lo {
		for i := range db {
			db[i] = (db[i] - lo) / (hi - lo)
		}
	}

	width := len(db) / binCount
	out := make([]float64, binCount)
	for b := range out {
		start, end := b*width, (b+1)*width
		if b == binCount-1 {
			end = len(db)
		}
		var sum float64
		for _, v := range db[start:end] {
			sum += v
		}
		out[b] = math.Min(1, math.Max(0, sum/float64(end-start)))
	}
	return out
}

func TestMatchesReferenceFFT(t *testing.T) {
	cfg := Config{FFTSize: 1024, BinCount: 24, SampleRate: testSampleRate}
	a := newTestAnalyzer(t, cfg)
	a.StartAnalysis()

	signal := utils.GenerateComplexWave(1500, testSampleRate)
	for start := 0; start < len(signal); start += 300 {
		a.ProcessAudioBlock(signal[start:min(start+300, len(signal))])
	}

	window := make([]float64, cfg.FFTSize)
	for i, s := range signal[len(signal)-cfg.FFTSize:] {
		window[i] = float64(s)
	}
	want := referenceMagnitudes(window, cfg.BinCount)

	got := a.Snapshot().Magnitudes
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("magnitude[%d] = %.9f, reference %.9f", i, got[i], want[i])
		}
	}
}

func TestEmptyBlockIsNoop(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()
	a.ProcessAudioBlock(utils.GenerateComplexWave(testFFTSize, testSampleRate))

	before := a.Snapshot()
	frames := a.Frames()
	<-a.Updated()

	a.ProcessAudioBlock(nil)
	a.ProcessAudioBlock([]float32{})

	if a.Snapshot() != before {
		t.Error("empty block replaced the snapshot")
	}
	if a.Frames() != frames {
		t.Errorf("frames = %d, want %d", a.Frames(), frames)
	}
	select {
	case <-a.Updated():
		t.Error("empty block signalled an update")
	default:
	}
}

func TestStopClearsSnapshot(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	// Idle analyzers compute but never publish.
	a.ProcessAudioBlock(block)
	if a.Snapshot() != nil {
		t.Fatal("idle analyzer published a snapshot")
	}
	if a.Frames() != 1 {
		t.Errorf("frames = %d, want 1", a.Frames())
	}

	a.StartAnalysis()
	if a.Snapshot() != nil {
		t.Error("StartAnalysis published a snapshot without new audio")
	}
	a.ProcessAudioBlock(block)
	if a.Snapshot() == nil {
		t.Fatal("analyzing analyzer did not publish")
	}

	a.StopAnalysis()
	if a.State() != Idle {
		t.Errorf("state = %s, want idle", a.State())
	}
	if a.Snapshot() != nil {
		t.Error("snapshot survived StopAnalysis")
	}

	a.ProcessAudioBlock(block)
	if a.Snapshot() != nil {
		t.Error("snapshot published after StopAnalysis")
	}

	// Stop is idempotent.
	a.StopAnalysis()
	if a.Snapshot() != nil || a.State() != Idle {
		t.Error("second StopAnalysis changed state")
	}
}

func TestUpdatedSignals(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()

	block := utils.GenerateComplexWave(256, testSampleRate)
	for range 3 {
		a.ProcessAudioBlock(block)
	}

	// Three publications collapse into one pending signal.
	select {
	case <-a.Updated():
	case <-time.After(time.Second):
		t.Fatal("no update signal after publishing")
	}
	select {
	case <-a.Updated():
		t.Error("update signals were not coalesced")
	default:
	}

	a.StopAnalysis()
	select {
	case <-a.Updated():
	default:
		t.Error("StopAnalysis did not signal subscribers")
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()

	a.ProcessAudioBlock(utils.GenerateSineWave(testFFTSize, testSampleRate, 200, 1.0))
	first := a.Snapshot()
	saved := append([]float64(nil), first.Magnitudes...)

	a.ProcessAudioBlock(utils.GenerateSineWave(testFFTSize, testSampleRate, 9000, 1.0))
	second := a.Snapshot()

	if first == second {
		t.Fatal("analyzer reused the snapshot")
	}
	for i := range saved {
		if first.Magnitudes[i] != saved[i] {
			t.Fatalf("earlier snapshot changed at bin %d", i)
		}
	}
	second.Frequencies[0] = -1
	if a.frequencies[0] == -1 {
		t.Error("snapshot shares frequency storage with the analyzer")
	}
}

func TestConcurrentReaders(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()

	block := utils.GenerateComplexWave(512, testSampleRate)
	done := make(chan struct{})
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if s := a.Snapshot(); s != nil {
					if len(s.Magnitudes) != testBinCount || len(s.Frequencies) != testBinCount {
						t.Errorf("torn snapshot: %d magnitudes, %d frequencies", len(s.Magnitudes), len(s.Frequencies))
						return
					}
				}
			}
		}()
	}

	for i := range 200 {
		a.ProcessAudioBlock(block)
		if i == 100 {
			a.StopAnalysis()
			a.StartAnalysis()
		}
	}
	close(done)
	wg.Wait()
}

func TestIndependentInstances(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	b := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()
	b.StartAnalysis()

	a.ProcessAudioBlock(utils.GenerateSineWave(testFFTSize, testSampleRate, 150, 1.0))
	b.ProcessAudioBlock(utils.GenerateSineWave(testFFTSize, testSampleRate, 15000, 1.0))

	ia, _, _ := a.Snapshot().Peak()
	ib, _, _ := b.Snapshot().Peak()
	if ia == ib {
		t.Errorf("instances share state: both peak at bin %d", ia)
	}

	b.StopAnalysis()
	if a.Snapshot() == nil {
		t.Error("stopping one analyzer cleared another")
	}
}

func TestProcessHotPathAllocations(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	a.StartAnalysis()
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	// Warm-up call so one-time costs are not counted.
	a.ProcessAudioBlock(block)
	allocs := testing.AllocsPerRun(100, func() {
		a.ProcessAudioBlock(block)
		select {
		case <-a.Updated():
		default:
		}
	})

	// The published snapshot: its struct and one backing array.
	if allocs > 2 {
		t.Errorf("ProcessAudioBlock allocations = %.1f, want <= 2", allocs)
	}

	// Idle still computes; nothing but the discarded snapshot is allocated.
	a.StopAnalysis()
	allocs = testing.AllocsPerRun(100, func() {
		a.ProcessAudioBlock(block)
	})
	if allocs > 2 {
		t.Errorf("idle ProcessAudioBlock allocations = %.1f, want <= 2", allocs)
	}
}

func BenchmarkProcessAudioBlock(b *testing.B) {
	benchmarks := []struct {
		name  string
		cfg   Config
		block int
	}{
		{"1024/32", DefaultConfig(), 1024},
		{"1024/32 half blocks", DefaultConfig(), 512},
		{"4096/64", Config{FFTSize: 4096, BinCount: 64, SampleRate: 48000}, 1024},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			a := newTestAnalyzer(b, bm.cfg)
			a.StartAnalysis()
			block := utils.GenerateComplexWave(bm.block, bm.cfg.SampleRate)

			b.ReportAllocs()
			for b.Loop() {
				a.ProcessAudioBlock(block)
			}
		})
	}
}
