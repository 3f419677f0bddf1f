// Package overlay draws detection markers onto captured frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"livedetect/internal/model"
	"livedetect/internal/normalize"

	"gocv.io/x/gocv"
)

const markerRadius = 8

var (
	markerColor = color.RGBA{R: 0, G: 220, B: 90, A: 0}
	boxColor    = color.RGBA{R: 255, G: 200, B: 0, A: 0}
)

// Renderer draws the point markers the mobile overlay shows, plus the
// rescaled boxes, onto a JPEG frame.
type Renderer struct {
	normalizer *normalize.Normalizer
	drawBoxes  bool
}

// NewRenderer creates a Renderer that scales through n.
func NewRenderer(n *normalize.Normalizer, drawBoxes bool) *Renderer {
	return &Renderer{normalizer: n, drawBoxes: drawBoxes}
}

// Draw decodes frame, draws every detection and re-encodes it as JPEG.
// Detection centers are in viewport pixels; they are mapped onto the frame
// when the frame size differs from the viewport.
func (r *Renderer) Draw(frame []byte, detections []model.Detection) ([]byte, error) {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %v", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	viewport := r.normalizer.Viewport()
	fx, fy := 1.0, 1.0
	if viewport.Known() {
		fx = float64(mat.Cols()) / viewport.Width
		fy = float64(mat.Rows()) / viewport.Height
	}

	for _, det := range detections {
		center := normalize.ScalePoint(det.Center, fx, fy)
		pt := image.Pt(int(center.X), int(center.Y))

		if r.drawBoxes {
			if box, ok := r.normalizer.ScaleBox(det.Box); ok {
				rect := image.Rect(int(box.X1*fx), int(box.Y1*fy), int(box.X2*fx), int(box.Y2*fy))
				if err := gocv.Rectangle(&mat, rect, boxColor, 1); err != nil {
					return nil, fmt.Errorf("failed to draw rectangle: %v", err)
				}
			}
		}

		if err := gocv.Circle(&mat, pt, markerRadius, markerColor, -1); err != nil {
			return nil, fmt.Errorf("failed to draw marker: %v", err)
		}

		label := fmt.Sprintf("%s (%.0f%%)", det.DisplayLabel(), det.Confidence*100)
		if err := gocv.PutText(&mat, label, image.Pt(pt.X+markerRadius+4, pt.Y+5), gocv.FontHersheySimplex, 0.5, markerColor, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
