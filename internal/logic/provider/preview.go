package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
)

// Surface displays preview frames.
type Surface interface {
	Render(f camera.Frame)
	// Clear is called when the preview stops feeding the surface.
	Clear()
}

// Preview feeds frames from the bound camera to a Surface at a fixed rate.
type Preview struct {
	interval time.Duration

	mu      sync.Mutex
	surface Surface
	stop    context.CancelFunc
	done    chan struct{}
	frames  int
}

// NewPreview returns a preview rendering one frame per interval
// (33ms when interval is not positive).
func NewPreview(interval time.Duration) *Preview {
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return &Preview{interval: interval}
}

func (p *Preview) Name() string { return "preview" }

// SetSurface sets the surface frames are rendered to. nil detaches it.
func (p *Preview) SetSurface(s Surface) {
	p.mu.Lock()
	old := p.surface
	p.surface = s
	p.mu.Unlock()
	if old != nil && old != s {
		old.Clear()
	}
}

// Frames returns how many frames were rendered so far.
func (p *Preview) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *Preview) attach(ctx context.Context, dev camera.Device) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.stop = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, dev, done)
}

func (p *Preview) detach() {
	p.mu.Lock()
	stop, done, surface := p.stop, p.done, p.surface
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	if surface != nil {
		surface.Clear()
	}
}

func (p *Preview) run(ctx context.Context, dev camera.Device, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	id := dev.Info().ID
	for {
		select {
		case <-ctx.Done():
			debug.Trace("Preview: camera %s stopped", id)
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		surface := p.surface
		p.mu.Unlock()
		if surface == nil {
			continue
		}

		frame, err := dev.Frame()
		if err != nil {
			if !errors.Is(err, camera.ErrNoFrame) {
				debug.Trace("Preview: camera %s: %v", id, err)
			}
			continue
		}
		surface.Render(frame)

		p.mu.Lock()
		p.frames++
		p.mu.Unlock()
		debug.Trace("Preview: camera %s frame %d bytes", id, len(frame.Data))
	}
}
