package model

import (
	"math"
	"time"
)

// Box is an axis-aligned bounding box [x1, y1, x2, y2] in absolute pixels.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether all coordinates are finite and the box has positive extent.
func (b Box) Valid() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Midpoint returns the center of the box in its own coordinate space.
func (b Box) Midpoint() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Point is a position in viewport pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection represents one recognized object in a single frame.
type Detection struct {
	Box             Box     `json:"box"`
	Label           string  `json:"label"`
	TranslatedLabel string  `json:"translated_label,omitempty"`
	Confidence      float64 `json:"confidence"`
	Center          Point   `json:"center"`
}

// DisplayLabel prefers the translated label when the backend supplied one.
func (d Detection) DisplayLabel() string {
	if d.TranslatedLabel != "" {
		return d.TranslatedLabel
	}
	return d.Label
}

// Snapshot is the current set of detections the overlay should render.
type Snapshot struct {
	SessionID  string      `json:"session_id"`
	Seq        uint64      `json:"seq"`
	Detections []Detection `json:"detections"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Empty reports whether the snapshot carries no detections.
func (s Snapshot) Empty() bool {
	return len(s.Detections) == 0
}

// Clone returns a copy that shares no detection storage with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Detections != nil {
		out.Detections = make([]Detection, len(s.Detections))
		copy(out.Detections, s.Detections)
	}
	return out
}
