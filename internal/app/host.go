package app

import (
	"context"
	"sync"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Host owns the current Screen. A finished screen stays gone until
// Restart builds a new one, with a new permission gate.
type Host struct {
	cfg Config

	mu     sync.Mutex
	screen *Screen
}

// NewHost returns a host building screens from cfg. cfg.Shell receives the
// toasts and finish notices of every screen.
func NewHost(cfg Config) *Host {
	return &Host{cfg: cfg}
}

type hostShell struct {
	h      *Host
	screen **Screen
}

func (s hostShell) Toast(msg string) { s.h.cfg.Shell.Toast(msg) }

func (s hostShell) Finish(reason string) {
	s.h.cfg.Shell.Finish(reason)
	s.h.finish(*s.screen)
}

// Start creates the first screen on the main executor.
func (h *Host) Start() {
	h.cfg.Main.Execute(h.create)
}

// Restart destroys the current screen, if any, and creates a new one.
func (h *Host) Restart() {
	h.cfg.Main.Execute(func() {
		h.destroy()
		h.create()
	})
}

// Stop destroys the current screen and waits for it, or for ctx.
func (h *Host) Stop(ctx context.Context) error {
	done := make(chan struct{})
	if !h.cfg.Main.Execute(func() {
		h.destroy()
		close(done)
	}) {
		h.destroy()
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PressShutter forwards a shutter press to the current screen. It reports
// false when there is no live screen.
func (h *Host) PressShutter() bool {
	s := h.current()
	if s == nil {
		return false
	}
	s.PressShutter()
	return true
}

// Status returns the current screen status.
func (h *Host) Status() Status {
	s := h.current()
	if s == nil {
		return Status{Lifecycle: "none", Permission: "unknown"}
	}
	return s.Status()
}

func (h *Host) current() *Screen {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.screen
}

// create runs on Main.
func (h *Host) create() {
	cfg := h.cfg
	var s *Screen
	cfg.Shell = hostShell{h: h, screen: &s}
	s = NewScreen(cfg)

	h.mu.Lock()
	h.screen = s
	h.mu.Unlock()
	s.OnCreate()
}

// destroy runs on Main.
func (h *Host) destroy() {
	h.mu.Lock()
	s := h.screen
	h.screen = nil
	h.mu.Unlock()
	if s != nil {
		s.OnDestroy()
	}
}

func (h *Host) finish(s *Screen) {
	h.mu.Lock()
	if h.screen == s {
		h.screen = nil
	}
	h.mu.Unlock()
	debug.Verbose("Host: screen finished")
	s.OnDestroy()
}
