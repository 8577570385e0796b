package perception

import "encoding/json"

// BoundingBox is an element's box in screen pixel space.
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Center returns the box midpoint using integer division.
func (b BoundingBox) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// MarshalJSON includes the derived center so callers can click it directly.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	cx, cy := b.Center()
	return json.Marshal(struct {
		X       int `json:"x"`
		Y       int `json:"y"`
		Width   int `json:"width"`
		Height  int `json:"height"`
		CenterX int `json:"center_x"`
		CenterY int `json:"center_y"`
	}{b.X, b.Y, b.Width, b.Height, cx, cy})
}

// Match is one recognized element: an OCR token or a template hit.
// Text is nil for template hits.
type Match struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Text       *string     `json:"text"`
}

// TextOrEmpty returns the recognized text, or "" for template hits.
func (m Match) TextOrEmpty() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

func textMatch(text string, conf float64, box BoundingBox) Match {
	return Match{BBox: box, Confidence: conf, Text: &text}
}
