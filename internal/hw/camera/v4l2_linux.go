//go:build linux && cgo

package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// V4L2 is a Device for a Video4Linux camera (USB webcam, Pi camera through
// the V4L2 compatibility layer) streaming MJPEG.
type V4L2 struct {
	info   Info
	format Format
	store  frameStore

	mu     sync.Mutex
	dev    *device.Device
	cancel context.CancelFunc
}

// NewV4L2 creates a V4L2 device. The node is only opened by Start.
func NewV4L2(s Settings, format Format) (*V4L2, error) {
	path := s.Path
	if path == "" {
		path = "/dev/video0"
	}
	return &V4L2{
		info:   Info{ID: s.ID, Facing: s.Facing, Path: path},
		format: format,
	}, nil
}

func (c *V4L2) Info() Info { return c.info }

func (c *V4L2) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		return fmt.Errorf("camera %s is already streaming", c.info.ID)
	}

	dev, err := device.Open(
		c.info.Path,
		device.WithBufferSize(2),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(c.format.Width),
			Height:      uint32(c.format.Height),
		}),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.info.Path, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		return fmt.Errorf("start %s: %w", c.info.Path, err)
	}
	c.dev = dev
	c.cancel = cancel
	c.store.reset()
	debug.Verbose("Camera %s: V4L2 stream started on %s", c.info.ID, c.info.Path)

	out := dev.GetOutput()
	go func() {
		for {
			select {
			case <-streamCtx.Done():
				return
			case frame, ok := <-out:
				if !ok {
					debug.Verbose("Camera %s: V4L2 stream closed", c.info.ID)
					return
				}
				data := make([]byte, len(frame))
				copy(data, frame)
				c.store.set(data)
			}
		}
	}()
	return nil
}

func (c *V4L2) Stop() error {
	c.mu.Lock()
	dev, cancel := c.dev, c.cancel
	c.dev, c.cancel = nil, nil
	c.mu.Unlock()

	if dev == nil {
		return nil
	}
	cancel()
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.info.Path, err)
	}
	return nil
}

func (c *V4L2) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev != nil
}

func (c *V4L2) Frame() (Frame, error) {
	if !c.IsStreaming() {
		return Frame{}, ErrNotStreaming
	}
	return c.store.get()
}
