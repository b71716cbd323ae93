// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"

	"micscope/pkg/utils"
)

const (
	testSampleRate = 44100
	testFrameSize  = 256

	lowThreshold  = 0.001
	highThreshold = 0.999
)

var (
	testBuffer  = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.5)
	quietBuffer = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.01)
	loudBuffer  = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.95)
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func absFloat(f float64) float64 {
	return math.Abs(f)
}
