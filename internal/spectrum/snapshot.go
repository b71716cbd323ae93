// SPDX-License-Identifier: MIT
package spectrum

import "time"

// Snapshot is one analysis frame. It is never modified after the analyzer
// publishes it; readers may keep the reference for as long as they like
// but must treat both slices as read-only.
//
// A nil *Snapshot is the "no signal" value returned while the analyzer
// is idle.
type Snapshot struct {
	Magnitudes  []float64 // Normalized intensity per display bin, in [0, 1].
	Frequencies []float64 // Center frequency per display bin, in Hz.
	Timestamp   time.Time // When the frame was computed.
}

// newSnapshot allocates a snapshot whose two slices share one backing
// array, copying the bin center frequencies in.
func newSnapshot(frequencies []float64, now time.Time) *Snapshot {
	n := len(frequencies)
	data := make([]float64, 2*n)
	copy(data[n:], frequencies)
	return &Snapshot{
		Magnitudes:  data[:n:n],
		Frequencies: data[n:],
		Timestamp:   now,
	}
}

// Len returns the number of display bins.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Magnitudes)
}

// Peak returns the index, center frequency and magnitude of the loudest
// bin. Ties resolve to the lowest index. A nil or empty snapshot returns
// index -1.
func (s *Snapshot) Peak() (index int, freq, mag float64) {
	if s.Len() == 0 {
		return -1, 0, 0
	}
	for i, m := range s.Magnitudes {
		if i == 0 || m > mag {
			index, mag = i, m
		}
	}
	return index, s.Frequencies[index], mag
}

// Age returns how old the snapshot is at now. Renderers use it to drop
// frames that have gone stale.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.Timestamp)
}
