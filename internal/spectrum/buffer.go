// SPDX-License-Identifier: MIT
package spectrum

// slidingBuffer always holds exactly len(samples) of the most recent input
// samples, oldest first. It is owned by the capture goroutine.
type slidingBuffer struct {
	samples []float64
}

func newSlidingBuffer(size int) *slidingBuffer {
	return &slidingBuffer{samples: make([]float64, size)}
}

// push appends block at the tail, evicting len(block) of the oldest
// samples. A block at least as long as the buffer replaces it with the
// block's most recent samples. Returns false for an empty block, which
// leaves the buffer untouched.
func (b *slidingBuffer) push(block []float32) bool {
	if len(block) == 0 {
		return false
	}
	n := len(b.samples)
	if len(block) >= n {
		block = block[len(block)-n:]
		for i, s := range block {
			b.samples[i] = float64(s)
		}
		return true
	}

	copy(b.samples, b.samples[len(block):])
	tail := b.samples[n-len(block):]
	for i, s := range block {
		tail[i] = float64(s)
	}
	return true
}
