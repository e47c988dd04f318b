package app

import (
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/logic/capture"
	"github.com/cjeanneret/StillGo/internal/logic/lifecycle"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
	"github.com/cjeanneret/StillGo/internal/logic/session"
	"github.com/cjeanneret/StillGo/internal/permission"
)

// Messages shown to the user.
const (
	MsgPermissionDenied = "Camera permission is required to use StillGo."
	MsgSavedPrefix      = "Photo saved: "
)

// Shell is the presentation side of the screen.
type Shell interface {
	// Toast shows a short transient message.
	Toast(msg string)
	// Finish closes the screen.
	Finish(reason string)
}

// Config wires a Screen.
type Config struct {
	Name     string
	Platform permission.Platform
	Backend  provider.Backend
	Surface  provider.Surface
	Saver    provider.Saver
	Shell    Shell
	Main     async.Executor

	Selector        provider.Selector
	PreviewInterval time.Duration
	CaptureTimeout  time.Duration
	Subfolder       string
	InMemory        bool

	// OnBound runs on Main once the camera is bound. Optional.
	OnBound func(cam *provider.Camera)
	// OnOutcome runs on Main after each reported capture outcome. Optional.
	OnOutcome func(o capture.Outcome)
}

// Status is a snapshot of the screen state.
type Status struct {
	Lifecycle  string `json:"lifecycle"`
	Permission string `json:"permission"`
	Bound      bool   `json:"bound"`
	Frames     int    `json:"frames"`
	Saved      int    `json:"saved"`
}

// Screen is the single camera screen: it gates on the camera permission,
// binds the capture session to its lifetime and turns shutter presses into
// photos. Lifecycle methods are called on Main.
type Screen struct {
	cfg      Config
	owner    *lifecycle.Owner
	worker   *async.Serial
	gate     *permission.Gate
	session  *session.Session
	pipeline *capture.Pipeline

	mu         sync.Mutex
	permission permission.State
	saved      int
}

// NewScreen builds a screen with its own camera worker.
func NewScreen(cfg Config) *Screen {
	if cfg.Name == "" {
		cfg.Name = "camera"
	}
	s := &Screen{
		cfg:    cfg,
		owner:  lifecycle.NewOwner(cfg.Name),
		worker: async.NewSerial("camera"),
	}
	s.gate = permission.NewGate(cfg.Platform, cfg.Main)
	s.session = session.New(session.Config{
		Backend:         cfg.Backend,
		Worker:          s.worker,
		Main:            cfg.Main,
		Surface:         cfg.Surface,
		Selector:        cfg.Selector,
		PreviewInterval: cfg.PreviewInterval,
		CaptureTimeout:  cfg.CaptureTimeout,
	})
	s.pipeline = capture.NewPipeline(capture.Config{
		Handles:   s.session,
		Saver:     cfg.Saver,
		Main:      cfg.Main,
		Reporter:  capture.ReporterFunc(s.report),
		Subfolder: cfg.Subfolder,
		InMemory:  cfg.InMemory,
	})
	return s
}

// OnCreate starts the screen: the camera starts right away when the
// permission is already granted, after the consent flow otherwise.
func (s *Screen) OnCreate() {
	debug.Section("Screen " + s.cfg.Name)
	if err := s.owner.Create(); err != nil {
		debug.Error(err)
		return
	}

	if s.gate.IsGranted(permission.Required...) {
		s.setPermission(permission.Granted)
		s.startCamera()
		return
	}

	err := s.gate.RequestGrant(s.owner.Context(), permission.Required, func(granted bool) {
		if s.owner.IsDestroyed() {
			return
		}
		if !granted {
			s.setPermission(permission.Denied)
			debug.Error(permission.ErrDenied)
			s.cfg.Shell.Toast(MsgPermissionDenied)
			s.cfg.Shell.Finish(permission.ErrDenied.Error())
			return
		}
		s.setPermission(permission.Granted)
		s.startCamera()
	})
	if err != nil {
		debug.Error(err)
	}
}

func (s *Screen) startCamera() {
	debug.Step(1, "start camera")
	started := s.session.Start(s.owner)
	started.AddListener(func() {
		cam, _, err := started.TryGet()
		if err != nil {
			// Already logged by the session; the screen stays unbound.
			return
		}
		if s.cfg.OnBound != nil {
			s.cfg.OnBound(cam)
		}
	}, s.cfg.Main)
}

// OnCaptureButton handles a shutter press. It reports whether a capture
// was issued.
func (s *Screen) OnCaptureButton() bool {
	if s.owner.IsDestroyed() {
		return false
	}
	return s.pipeline.TakePhoto(s.owner.Context())
}

// PressShutter posts a shutter press to Main. Safe from any goroutine.
func (s *Screen) PressShutter() {
	if !s.cfg.Main.Execute(func() { s.OnCaptureButton() }) {
		debug.Verbose("Screen: shutter press dropped, main executor is shut down")
	}
}

func (s *Screen) report(o capture.Outcome) {
	if o.OK() {
		s.mu.Lock()
		s.saved++
		s.mu.Unlock()
		s.cfg.Shell.Toast(MsgSavedPrefix + o.Location.URI)
	}
	if s.cfg.OnOutcome != nil {
		s.cfg.OnOutcome(o)
	}
}

// OnDestroy tears the screen down: drops the capture handle, stops the
// camera worker and ends the owner lifetime, which unbinds the camera.
func (s *Screen) OnDestroy() {
	if s.owner.IsDestroyed() {
		return
	}
	s.session.Release()
	s.worker.Shutdown()
	s.owner.Destroy()
	debug.Verbose("Screen %s destroyed", s.cfg.Name)
}

// Status returns a snapshot of the screen state.
func (s *Screen) Status() Status {
	s.mu.Lock()
	st := Status{Permission: s.permission.String(), Saved: s.saved}
	s.mu.Unlock()

	st.Lifecycle = s.owner.State()
	st.Bound = s.session.Bound()
	if p := s.session.Preview(); p != nil {
		st.Frames = p.Frames()
	}
	return st
}

func (s *Screen) setPermission(state permission.State) {
	s.mu.Lock()
	s.permission = state
	s.mu.Unlock()
}
