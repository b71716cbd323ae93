/*
Package bitint provides the power-of-two helpers used when sizing FFT
windows and capture buffers.

All functions are constant time, allocation free and safe to call from
the audio callback.

Usage:

	// Reject an analyzer window that the FFT plan cannot use
	if !bitint.IsPowerOfTwo(fftSize) {
		return fmt.Errorf("fft size %d (try %d)", fftSize, bitint.NextPowerOfTwo(fftSize))
	}

	// Number of radix-2 stages for a window
	stages := bitint.Log2(1024) // 10

NextPowerOfTwo subtracts one before measuring the bit length, so exact
powers of two map to themselves:

	size 8: bits.Len(7) = 3, 1<<3 = 8
	size 9: bits.Len(8) = 4, 1<<4 = 16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Zero and negative sizes return 1.
//
//	Input  Output
//	4      4
//	5      8
//	1000   1024
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// PrevPowerOfTwo returns the largest power of two <= size, or 0 when
// size is not positive.
func PrevPowerOfTwo(size int) int {
	if size <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(size)) - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two. A power
// of two has a single bit set, so clearing the lowest set bit leaves 0.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns log2(n) for a power of two n, and -1 for anything else.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
