package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
)

// ErrCaptureFailed wraps every failure reported on the capture paths.
var ErrCaptureFailed = errors.New("photo capture failed")

// Reporter receives the outcome of the persisting path. Report runs on the
// main executor.
type Reporter interface {
	Report(o Outcome)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(o Outcome)

func (f ReporterFunc) Report(o Outcome) { f(o) }

// HandleSource provides the current still-capture handle (nil if none).
type HandleSource interface {
	ImageCapture() *provider.ImageCapture
}

// Config configures a Pipeline.
type Config struct {
	Handles  HandleSource
	Saver    provider.Saver
	Main     async.Executor
	Reporter Reporter

	Subfolder string
	// InMemory also issues the decode-only capture alongside the file capture.
	InMemory bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline turns shutter presses into photo captures.
type Pipeline struct {
	cfg Config
}

// NewPipeline returns a pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}
}

// TakePhoto issues a capture against the current handle. It is a no-op,
// returning false, when no handle is bound. Outcomes are delivered to the
// Reporter on the main executor unless ctx is done by then.
func (p *Pipeline) TakePhoto(ctx context.Context) bool {
	ic := p.cfg.Handles.ImageCapture()
	if ic == nil {
		debug.Verbose("Capture: no still-capture handle, ignoring request")
		return false
	}

	req := NewRequest(p.cfg.Now(), p.cfg.Subfolder)

	if p.cfg.InMemory {
		debug.Capture(req.Name, "memory")
		ic.TakePicture(p.cfg.Main, provider.ImageCapturedCallback{
			OnSuccess: func(img *provider.ImageProxy) {
				defer img.Close()
				if ctx.Err() != nil {
					return
				}
				p.inspect(req, img)
			},
			OnError: func(err error) {
				if ctx.Err() != nil {
					return
				}
				debug.Errorf("in-memory capture %s: %v", req.Name, fmt.Errorf("%w: %w", ErrCaptureFailed, err))
			},
		})
	}

	debug.Capture(req.Name, "file")
	ic.TakePictureToFile(provider.OutputFileOptions{
		Saver:      p.cfg.Saver,
		Collection: req.Collection,
		Values:     req.Values(),
	}, p.cfg.Main, provider.ImageSavedCallback{
		OnSaved: func(res provider.OutputFileResults) {
			p.deliver(ctx, Outcome{Request: req, Location: res.Location})
		},
		OnError: func(err error) {
			p.deliver(ctx, Outcome{Request: req, Err: fmt.Errorf("%w: %w", ErrCaptureFailed, err)})
		},
	})
	return true
}

// inspect reads the captured image header and logs its dimensions.
func (p *Pipeline) inspect(req Request, img *provider.ImageProxy) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img.Data()))
	if err != nil {
		debug.Errorf("in-memory capture %s: decode: %v", req.Name, err)
		return
	}
	debug.Live("Capture %s in memory: %dx%d %s", req.Name, cfg.Width, cfg.Height, img.Format)
}

func (p *Pipeline) deliver(ctx context.Context, o Outcome) {
	if ctx.Err() != nil {
		debug.Verbose("Capture %s: outcome dropped, screen is gone (%v)", o.Request.Name, o)
		return
	}
	if o.Err != nil {
		debug.Errorf("Photo capture failed: %v", o.Err)
	}
	if p.cfg.Reporter != nil {
		p.cfg.Reporter.Report(o)
	}
}
