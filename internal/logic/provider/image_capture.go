package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
	"github.com/cjeanneret/StillGo/internal/media"
)

const (
	defaultCaptureTimeout = 5 * time.Second
	framePollInterval     = 10 * time.Millisecond
)

// ImageProxy is a captured image handed to an in-memory callback. The
// callback must Close it when done.
type ImageProxy struct {
	Format string // "JPEG"
	Width  int
	Height int
	Time   time.Time

	mu   sync.Mutex
	data []byte
}

// Data returns the encoded image, or nil once the proxy is closed.
func (p *ImageProxy) Data() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// Close releases the image buffer.
func (p *ImageProxy) Close() {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
}

// ImageCapturedCallback receives an in-memory capture.
type ImageCapturedCallback struct {
	OnSuccess func(img *ImageProxy)
	OnError   func(err error)
}

// Saver persists captured images.
type Saver interface {
	Save(collection media.Collection, values media.ContentValues, data []byte) (media.Location, error)
}

// OutputFileOptions describe where TakePictureToFile writes the image.
type OutputFileOptions struct {
	Saver      Saver
	Collection media.Collection
	Values     media.ContentValues
}

// OutputFileResults is the outcome of a successful file capture.
type OutputFileResults struct {
	Location media.Location
}

// ImageSavedCallback receives a file capture outcome.
type ImageSavedCallback struct {
	OnSaved func(res OutputFileResults)
	OnError func(err error)
}

// ImageCapture takes still pictures from the bound camera. Captures run on
// the camera worker, one at a time; callbacks are delivered on the executor
// given to each call.
type ImageCapture struct {
	worker  async.Executor
	timeout time.Duration

	mu  sync.Mutex
	dev camera.Device
	ctx context.Context
}

// NewImageCapture returns an unbound capture use case. A capture waits up to
// timeout for a frame (5s when timeout is not positive).
func NewImageCapture(worker async.Executor, timeout time.Duration) *ImageCapture {
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	return &ImageCapture{worker: worker, timeout: timeout}
}

func (c *ImageCapture) Name() string { return "image-capture" }

func (c *ImageCapture) attach(ctx context.Context, dev camera.Device) {
	c.mu.Lock()
	c.dev, c.ctx = dev, ctx
	c.mu.Unlock()
}

func (c *ImageCapture) detach() {
	c.mu.Lock()
	c.dev, c.ctx = nil, nil
	c.mu.Unlock()
}

func (c *ImageCapture) bound() (camera.Device, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev, c.ctx
}

// TakePicture captures an image into memory.
func (c *ImageCapture) TakePicture(ex async.Executor, cb ImageCapturedCallback) {
	c.submit(ex, cb.OnError, func(f camera.Frame) func() {
		img := &ImageProxy{Format: "JPEG", Width: f.Width, Height: f.Height, Time: f.Time, data: f.Data}
		return func() { cb.OnSuccess(img) }
	})
}

// TakePictureToFile captures an image and saves it as described by opts.
func (c *ImageCapture) TakePictureToFile(opts OutputFileOptions, ex async.Executor, cb ImageSavedCallback) {
	c.submit(ex, cb.OnError, func(f camera.Frame) func() {
		loc, err := opts.Saver.Save(opts.Collection, opts.Values, f.Data)
		if err != nil {
			return func() { cb.OnError(fmt.Errorf("save image: %w", err)) }
		}
		return func() { cb.OnSaved(OutputFileResults{Location: loc}) }
	})
}

// submit grabs a frame on the worker and posts handle's result to ex.
func (c *ImageCapture) submit(ex async.Executor, onError func(error), handle func(camera.Frame) func()) {
	deliver := func(fn func()) {
		if !ex.Execute(fn) {
			debug.Verbose("ImageCapture: result dropped, executor is shut down")
		}
	}

	dev, ctx := c.bound()
	if dev == nil {
		deliver(func() { onError(ErrNotBound) })
		return
	}

	accepted := c.worker.Execute(func() {
		frame, err := c.grab(ctx, dev)
		if err != nil {
			deliver(func() { onError(err) })
			return
		}
		deliver(handle(frame))
	})
	if !accepted {
		deliver(func() { onError(fmt.Errorf("camera worker: %w", async.ErrShutdown)) })
	}
}

// grab waits for a frame from dev until the capture timeout.
func (c *ImageCapture) grab(ctx context.Context, dev camera.Device) (camera.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(framePollInterval)
	defer ticker.Stop()
	for {
		frame, err := dev.Frame()
		if err == nil {
			debug.Frame(dev.Info().ID, len(frame.Data), frame.Width, frame.Height)
			return frame, nil
		}
		if !errors.Is(err, camera.ErrNoFrame) {
			return camera.Frame{}, fmt.Errorf("camera %s: %w", dev.Info().ID, err)
		}
		select {
		case <-ctx.Done():
			return camera.Frame{}, fmt.Errorf("camera %s: %w: %w", dev.Info().ID, camera.ErrNoFrame, ctx.Err())
		case <-ticker.C:
		}
	}
}
