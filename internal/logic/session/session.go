package session

import (
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/logic/lifecycle"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
)

// Config configures a Session.
type Config struct {
	Backend provider.Backend
	Worker  async.Executor // camera worker
	Main    async.Executor // interaction executor
	Surface provider.Surface

	Selector        provider.Selector
	PreviewInterval time.Duration
	CaptureTimeout  time.Duration
}

// Session owns the preview and still-capture use cases of one screen.
type Session struct {
	cfg Config

	mu           sync.Mutex
	acquisition  *async.Future[*provider.Provider]
	provider     *provider.Provider
	preview      *provider.Preview
	imageCapture *provider.ImageCapture
}

// New returns an unbound session. A zero Selector means the back camera.
func New(cfg Config) *Session {
	if cfg.Selector == (provider.Selector{}) {
		cfg.Selector = provider.DefaultBackCamera
	}
	return &Session{cfg: cfg}
}

// Start acquires the camera provider and binds a preview and an image
// capture to owner. The returned future resolves on the main executor with
// the bound camera, or is rejected when acquisition or binding fails. The
// provider is acquired once and shared by later starts.
func (s *Session) Start(owner *lifecycle.Owner) *async.Future[*provider.Camera] {
	result := async.NewFuture[*provider.Camera]()
	acquisition := s.acquire(owner)

	acquisition.AddListener(func() {
		prov, _, err := acquisition.TryGet()
		if err != nil {
			debug.Errorf("session: %v", err)
			result.Reject(err)
			return
		}

		preview := provider.NewPreview(s.cfg.PreviewInterval)
		preview.SetSurface(s.cfg.Surface)
		imageCapture := provider.NewImageCapture(s.cfg.Worker, s.cfg.CaptureTimeout)

		prov.UnbindAll()
		cam, err := prov.BindToLifecycle(owner, s.cfg.Selector, preview, imageCapture)
		if err != nil {
			debug.Errorf("session: use case binding failed: %v", err)
			result.Reject(err)
			return
		}

		s.mu.Lock()
		s.provider = prov
		s.preview = preview
		s.imageCapture = imageCapture
		s.mu.Unlock()

		debug.Live("Session: camera %s (%s) bound to %s", cam.Info().ID, cam.Info().Facing, owner.Name())
		result.Resolve(cam)
	}, s.cfg.Main)

	return result
}

func (s *Session) acquire(owner *lifecycle.Owner) *async.Future[*provider.Provider] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquisition != nil {
		if _, done, err := s.acquisition.TryGet(); !done || err == nil {
			return s.acquisition
		}
	}
	s.acquisition = provider.Acquire(owner.Context(), s.cfg.Backend, s.cfg.Worker)
	return s.acquisition
}

// ImageCapture returns the still-capture handle, or nil before a bind or
// after Release.
func (s *Session) ImageCapture() *provider.ImageCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageCapture
}

// Preview returns the bound preview, or nil.
func (s *Session) Preview() *provider.Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Bound reports whether the session's capture use case is bound.
func (s *Session) Bound() bool {
	s.mu.Lock()
	prov, ic := s.provider, s.imageCapture
	s.mu.Unlock()
	return prov != nil && ic != nil && prov.IsBound(ic)
}

// Release drops the session's use case references. Unbinding is left to
// the lifecycle owner.
func (s *Session) Release() {
	s.mu.Lock()
	s.imageCapture = nil
	s.preview = nil
	s.mu.Unlock()
}
