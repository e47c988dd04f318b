package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Synthetic is a Device that renders a moving test pattern.
// Used for development on machines without a camera, and in tests.
type Synthetic struct {
	info   Info
	format Format

	mu        sync.Mutex
	streaming bool
	frames    int
	gen       int
	stop      context.CancelFunc
}

// NewSynthetic creates a synthetic device.
func NewSynthetic(s Settings, format Format) *Synthetic {
	return &Synthetic{
		info:   Info{ID: s.ID, Facing: s.Facing, Path: "synthetic"},
		format: format,
	}
}

func (s *Synthetic) Info() Info { return s.info }

func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return fmt.Errorf("camera %s is already streaming", s.info.ID)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.streaming = true
	s.gen++
	gen := s.gen
	debug.Verbose("Camera %s: synthetic stream started (%dx%d)", s.info.ID, s.format.Width, s.format.Height)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.gen == gen {
			s.streaming = false
		}
		s.mu.Unlock()
	}()
	return nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.streaming = false
	return nil
}

func (s *Synthetic) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Frame renders a new pattern frame on every call.
func (s *Synthetic) Frame() (Frame, error) {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return Frame{}, ErrNotStreaming
	}
	s.frames++
	n := s.frames
	s.mu.Unlock()

	data, err := renderPattern(s.format.Width, s.format.Height, n)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Width: s.format.Width, Height: s.format.Height, Time: time.Now()}, nil
}

// renderPattern draws a gradient whose red channel shifts with n.
func renderPattern(width, height, n int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shade := byte(n % 256)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / width)
			img.Pix[offset+2] = byte((y * 255) / height)
			img.Pix[offset+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
