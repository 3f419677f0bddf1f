// Package camera captures frames from a local video device with OpenCV.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"livedetect/internal/capture"

	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("camera returned an empty frame")

// Camera implements capture.Source for a V4L/AVFoundation/DirectShow device.
type Camera struct {
	webcam  *gocv.VideoCapture
	img     gocv.Mat
	width   int
	height  int
	quality int
	mu      sync.Mutex
}

// Open opens device deviceID and requests the given resolution. Frames
// are resized to exactly width x height before JPEG encoding.
func Open(deviceID, width, height, quality int) (*Camera, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))

	if quality <= 0 || quality > 100 {
		quality = 80
	}

	return &Camera{
		webcam:  webcam,
		img:     gocv.NewMat(),
		width:   width,
		height:  height,
		quality: quality,
	}, nil
}

// Capture grabs and encodes one frame.
func (c *Camera) Capture(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.webcam.Read(&c.img); !ok || c.img.Empty() {
		return capture.Frame{}, ErrEmptyFrame
	}
	capturedAt := time.Now()

	if c.width > 0 && c.height > 0 && (c.img.Cols() != c.width || c.img.Rows() != c.height) {
		gocv.Resize(c.img, &c.img, image.Point{X: c.width, Y: c.height}, 0, 0, gocv.InterpolationDefault)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img, []int{gocv.IMWriteJpegQuality, c.quality})
	if err != nil {
		return capture.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return capture.Frame{
		JPEG:       data,
		CapturedAt: capturedAt,
		Width:      c.img.Cols(),
		Height:     c.img.Rows(),
	}, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img.Close()
	return c.webcam.Close()
}
