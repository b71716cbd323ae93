package transport

import (
	"errors"
	"time"

	"micscope/internal/spectrum"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport delivers spectrum frames to an out of process renderer.
// Implementations must be safe for concurrent use and must not block for
// long: slow consumers drop frames instead.
type Transport interface {
	Send(frame *Frame) error
	Close() error
}

// SnapshotSource is the read side of the analyzer.
type SnapshotSource interface {
	Snapshot() *spectrum.Snapshot
}

// FrameType tells renderers whether bars should be drawn.
type FrameType string

const (
	FrameSpectrum FrameType = "spectrum"
	FrameIdle     FrameType = "idle" // Analyzer stopped, clear the bars.
)

// Frame is the wire form of one published snapshot. The slices are shared
// with the snapshot and must not be modified.
type Frame struct {
	Type        FrameType `json:"type"`
	Sequence    uint32    `json:"seq"`
	Timestamp   int64     `json:"ts"` // Unix nanoseconds
	Magnitudes  []float64 `json:"magnitudes,omitempty"`
	Frequencies []float64 `json:"frequencies,omitempty"`
}

// NewFrame wraps s for sending. A nil snapshot becomes an idle frame
// stamped with now.
func NewFrame(seq uint32, s *spectrum.Snapshot, now time.Time) *Frame {
	if s == nil {
		return &Frame{Type: FrameIdle, Sequence: seq, Timestamp: now.UnixNano()}
	}
	return &Frame{
		Type:        FrameSpectrum,
		Sequence:    seq,
		Timestamp:   s.Timestamp.UnixNano(),
		Magnitudes:  s.Magnitudes,
		Frequencies: s.Frequencies,
	}
}

// Peak returns the loudest bin of the frame, or -1 for an idle frame.
func (f *Frame) Peak() (index int, freq, mag float64) {
	index = -1
	for i, m := range f.Magnitudes {
		if index < 0 || m > mag {
			index, mag = i, m
		}
	}
	if index >= 0 && index < len(f.Frequencies) {
		freq = f.Frequencies[index]
	}
	return index, freq, mag
}
