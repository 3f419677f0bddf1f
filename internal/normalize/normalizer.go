// Package normalize maps detection boxes from the backend's fixed reference
// resolution into the live viewport.
package normalize

import (
	"errors"
	"math"
	"sync"

	"livedetect/internal/model"
)

// ErrViewportUnknown is returned while the viewport has not been measured.
var ErrViewportUnknown = errors.New("viewport not measured")

// Resolution is a width/height pair in pixels.
type Resolution struct {
	Width  float64
	Height float64
}

// DefaultReference is the processing resolution the detection backend reports boxes in.
var DefaultReference = Resolution{Width: 640, Height: 480}

// Known reports whether both dimensions are positive and finite.
func (r Resolution) Known() bool {
	return r.Width > 0 && r.Height > 0 && !math.IsInf(r.Width, 0) && !math.IsInf(r.Height, 0)
}

// Normalizer rescales reference-space boxes into viewport pixels. The viewport
// may be updated at any time (rotation, resize); reads are goroutine-safe.
type Normalizer struct {
	reference Resolution
	viewport  Resolution
	mu        sync.RWMutex
}

// New creates a Normalizer for the given reference resolution. An unusable
// reference falls back to DefaultReference.
func New(reference Resolution) *Normalizer {
	if !reference.Known() {
		reference = DefaultReference
	}
	return &Normalizer{reference: reference}
}

// Reference returns the reference resolution boxes arrive in.
func (n *Normalizer) Reference() Resolution {
	return n.reference
}

// SetViewport records the measured on-screen camera viewport.
func (n *Normalizer) SetViewport(width, height float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.viewport = Resolution{Width: width, Height: height}
}

// Viewport returns the last measured viewport.
func (n *Normalizer) Viewport() Resolution {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.viewport
}

// Scale returns the per-axis factors; ok is false until a viewport is known.
func (n *Normalizer) Scale() (scaleX, scaleY float64, ok bool) {
	n.mu.RLock()
	viewport := n.viewport
	n.mu.RUnlock()

	if !viewport.Known() {
		return 0, 0, false
	}
	return viewport.Width / n.reference.Width, viewport.Height / n.reference.Height, true
}

// Center returns the box midpoint in viewport pixels.
func (n *Normalizer) Center(box model.Box) (model.Point, bool) {
	scaleX, scaleY, ok := n.Scale()
	if !ok {
		return model.Point{}, false
	}
	return ScalePoint(box.Midpoint(), scaleX, scaleY), true
}

// ScaleBox scales all four corners with the same per-axis factors as Center,
// for consumers that draw rectangles instead of point markers.
func (n *Normalizer) ScaleBox(box model.Box) (model.Box, bool) {
	scaleX, scaleY, ok := n.Scale()
	if !ok {
		return model.Box{}, false
	}
	return model.Box{
		X1: box.X1 * scaleX,
		Y1: box.Y1 * scaleY,
		X2: box.X2 * scaleX,
		Y2: box.Y2 * scaleY,
	}, true
}

// Apply returns a copy of detections with Center filled in viewport
// coordinates. Boxes stay in reference space. The input is left untouched.
func (n *Normalizer) Apply(detections []model.Detection) ([]model.Detection, error) {
	scaleX, scaleY, ok := n.Scale()
	if !ok {
		return nil, ErrViewportUnknown
	}

	out := make([]model.Detection, len(detections))
	for i, det := range detections {
		det.Center = ScalePoint(det.Box.Midpoint(), scaleX, scaleY)
		out[i] = det
	}
	return out, nil
}

// ScalePoint applies a linear per-axis scale to a point.
func ScalePoint(p model.Point, scaleX, scaleY float64) model.Point {
	return model.Point{X: p.X * scaleX, Y: p.Y * scaleY}
}
