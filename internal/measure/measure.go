// Package measure estimates text metrics without a font rasterizer.
package measure

import (
	"strings"

	"golang.org/x/text/width"

	"github.com/starford/sketchmark/internal/scene"
)

const (
	advanceRatio    = 0.6
	lineHeightRatio = 1.25
	descentRatio    = 0.25
	defaultFontSize = 20
)

// Heuristic approximates glyph advances as a fixed fraction of the font
// size; East Asian wide and fullwidth runes count double.
type Heuristic struct{}

// Measure implements scene.Measurer.
func (Heuristic) Measure(text string, fontSize float64, _ int) scene.Metrics {
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}
	lines := strings.Split(text, "\n")
	widest := 0
	for _, line := range lines {
		widest = max(widest, Advance(line))
	}
	height := float64(len(lines)) * fontSize * lineHeightRatio
	return scene.Metrics{
		Width:    float64(widest) * fontSize * advanceRatio,
		Height:   height,
		Baseline: height - descentRatio*fontSize,
	}
}

// Advance returns the width of line in narrow cells.
func Advance(line string) int {
	n := 0
	for _, r := range line {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
