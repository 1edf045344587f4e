package scene

// Metrics are the measured dimensions of a block of text.
type Metrics struct {
	Width    float64
	Height   float64
	Baseline float64
}

// Measurer computes text metrics for a font.
type Measurer interface {
	Measure(text string, fontSize float64, fontFamily int) Metrics
}

// SetText replaces the element's text and, when m is non-nil, recomputes
// its size so the bounding box fits the new text.
func (e *Element) SetText(text string, m Measurer) {
	e.Text = text
	if m == nil {
		return
	}
	mt := m.Measure(text, e.FontSize, e.FontFamily)
	e.Width = mt.Width
	e.Height = mt.Height
	e.Baseline = mt.Baseline
}
