package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	applog "micscope/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// MaxConsecutiveWriteFailures stops a recording whose encoder keeps failing.
const MaxConsecutiveWriteFailures = 5

var ErrAlreadyRecording = errors.New("already recording")

// Recorder writes the captured mono stream to a PCM WAV file. Write is
// called from the capture callback; Start and Stop from any goroutine.
type Recorder struct {
	sampleRate int
	bitDepth   int
	maxSamples int // 0 for unlimited

	isRecording atomic.Bool

	mu         sync.Mutex
	filename   string
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // Reusable buffer for format conversion
	written    int
	failures   int
	lastErr    error
}

// NewRecorder prepares a recorder for blocks of up to maxBlock samples.
// maxDuration of zero records until Stop.
func NewRecorder(sampleRate, bitDepth, maxBlock int, maxDuration time.Duration) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if sampleRate <= 0 || maxBlock <= 0 {
		return nil, fmt.Errorf("invalid recorder format: sample rate %d, block %d", sampleRate, maxBlock)
	}
	return &Recorder{
		sampleRate: sampleRate,
		bitDepth:   bitDepth,
		maxSamples: int(maxDuration.Seconds() * float64(sampleRate)),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: 1,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
			Data:           make([]int, maxBlock),
		},
	}, nil
}

// DefaultFilename returns dir/recording-DD-MM-YYYY-HHMMSS.wav for t.
func DefaultFilename(dir string, t time.Time) string {
	return filepath.Join(dir, "recording-"+t.UTC().Format("02-01-2006-150405")+".wav")
}

// StartRecording creates filename (and its directory) and begins
// accepting blocks.
func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outputFile != nil {
		return ErrAlreadyRecording
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	r.outputFile = file
	r.filename = filename
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, 1, 1)
	r.written = 0
	r.failures = 0
	r.lastErr = nil

	r.isRecording.Store(true)
	applog.Infof("Recorder: Recording to %s (%d Hz, %d-bit)", filename, r.sampleRate, r.bitDepth)

	return nil
}

// Write converts block to integer PCM and appends it to the file. Blocks
// arriving while not recording are dropped.
func (r *Recorder) Write(block []float32) {
	if !r.isRecording.Load() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wavEncoder == nil {
		return
	}

	if r.maxSamples > 0 {
		block = block[:min(len(block), r.maxSamples-r.written)]
	}
	if len(block) > len(r.sampleBuf.Data) {
		block = block[:len(r.sampleBuf.Data)]
	}

	scale := float64(int64(1)<<(r.bitDepth-1) - 1)
	data := r.sampleBuf.Data[:len(block)]
	for i, s := range block {
		v := math.Max(-1, math.Min(1, float64(s)))
		if math.IsNaN(v) {
			v = 0
		}
		data[i] = int(math.Round(v * scale))
	}

	full := r.sampleBuf.Data
	r.sampleBuf.Data = data
	err := r.wavEncoder.Write(r.sampleBuf)
	r.sampleBuf.Data = full

	if err != nil {
		r.failures++
		r.lastErr = err
		if r.failures >= MaxConsecutiveWriteFailures {
			r.isRecording.Store(false)
			applog.Errorf("Recorder: Giving up after %d write failures: %v", r.failures, err)
		}
		return
	}
	r.failures = 0
	r.written += len(block)

	if r.maxSamples > 0 && r.written >= r.maxSamples {
		r.isRecording.Store(false)
	}
}

// StopRecording finalizes the WAV header and closes the file. It is a
// no-op when not recording.
func (r *Recorder) StopRecording() error {
	r.isRecording.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outputFile == nil {
		return nil
	}

	var errs []error
	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to finalize wav: %w", err))
		}
		r.wavEncoder = nil
	}
	if err := r.outputFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recording: %w", err))
	}
	r.outputFile = nil

	applog.Infof("Recorder: Saved %s (%.2fs)", r.filename, float64(r.written)/float64(r.sampleRate))
	return errors.Join(errs...)
}

// IsRecording reports whether blocks are currently being written.
func (r *Recorder) IsRecording() bool {
	return r.isRecording.Load()
}

// Written returns the number of samples written to the current or last
// recording.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Err returns the most recent encoder error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Filename returns the path of the current or last recording.
func (r *Recorder) Filename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filename
}
