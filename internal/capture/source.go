// Package capture produces JPEG frames for the streaming client.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNoFrames = errors.New("no JPEG frames found")

// Frame is one captured camera image.
type Frame struct {
	JPEG       []byte
	CapturedAt time.Time
	Width      int
	Height     int
}

// Source produces frames on demand.
type Source interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// FileSource replays JPEG files from a file or directory in name order,
// looping forever. Useful for headless runs against a recorded scene.
type FileSource struct {
	paths []string
	next  int
	mu    sync.Mutex
}

// NewFileSource collects *.jpg/*.jpeg files under path (or path itself).
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame source: %w", err)
	}

	var paths []string
	if !info.IsDir() {
		paths = []string{path}
	} else {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isJPEG(entry.Name()) {
				continue
			}
			paths = append(paths, filepath.Join(path, entry.Name()))
		}
		sort.Strings(paths)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, path)
	}
	return &FileSource{paths: paths}, nil
}

func isJPEG(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}

// Capture reads the next file and reports its dimensions.
func (s *FileSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	return FrameFromJPEG(data, time.Now())
}

// Close implements Source.
func (s *FileSource) Close() error {
	return nil
}

// FrameFromJPEG wraps encoded bytes, reading the dimensions from the header.
func FrameFromJPEG(data []byte, capturedAt time.Time) (Frame, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("invalid JPEG frame: %w", err)
	}
	return Frame{
		JPEG:       data,
		CapturedAt: capturedAt,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}
