package tui

import (
	"math"
	"strconv"
	"strings"
)

// sparkRunes are the eight block heights used for single-line rendering.
var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// eighths are partial cells for vertical bars, indexed by filled eighths.
var eighths = []rune(" ▁▂▃▄▅▆▇█")

// clampUnit maps v into [0, 1]; NaN maps to 0.
func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sparkline renders one rune per magnitude. Magnitudes are expected in
// [0, 1]; anything outside is clamped.
func Sparkline(magnitudes []float64) string {
	var sb strings.Builder
	sb.Grow(len(magnitudes) * 3)
	top := float64(len(sparkRunes) - 1)
	for _, m := range magnitudes {
		sb.WriteRune(sparkRunes[int(math.Round(clampUnit(m)*top))])
	}
	return sb.String()
}

// renderBars draws magnitudes as vertical bars height rows tall, each
// column colWidth cells wide. Rows are returned top first, joined by
// newlines, without styling.
func renderBars(magnitudes []float64, height, colWidth int) string {
	if height < 1 || len(magnitudes) == 0 {
		return ""
	}
	if colWidth < 1 {
		colWidth = 1
	}

	levels := make([]int, len(magnitudes))
	for i, m := range magnitudes {
		levels[i] = int(math.Round(clampUnit(m) * float64(height*8)))
	}

	rows := make([]string, height)
	var sb strings.Builder
	for r := 0; r < height; r++ {
		row := height - 1 - r
		sb.Reset()
		for _, level := range levels {
			fill := min(max(level-row*8, 0), 8)
			cell := string(eighths[fill])
			sb.WriteString(strings.Repeat(cell, colWidth))
		}
		rows[r] = sb.String()
	}
	return strings.Join(rows, "\n")
}

// axisLabel formats a frequency for the bar axis.
func axisLabel(hz float64) string {
	if hz >= 1000 {
		return strings.TrimSuffix(strings.TrimSuffix(formatFixed(hz/1000, 1), "0"), ".") + "k"
	}
	return formatFixed(hz, 0)
}

func formatFixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
