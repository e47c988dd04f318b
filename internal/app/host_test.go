package app

import (
	"context"
	"testing"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
	"github.com/cjeanneret/StillGo/internal/media"
	"github.com/cjeanneret/StillGo/internal/permission"
)

func newTestHost(t *testing.T, platform permission.Platform) (*Host, *fakeShell, chan *provider.Camera) {
	t.Helper()
	main := async.NewSerial("main")
	shell := newFakeShell()
	bound := make(chan *provider.Camera, 4)
	h := NewHost(Config{
		Platform:        platform,
		Backend:         &countingBackend{},
		Surface:         nopSurface{},
		Saver:           media.NewStore(t.TempDir()),
		Shell:           shell,
		Main:            main,
		PreviewInterval: time.Millisecond,
		Subfolder:       "StillGo",
		OnBound:         func(c *provider.Camera) { bound <- c },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Stop(ctx)
		main.Shutdown()
	})
	return h, shell, bound
}

func waitStatus(t *testing.T, h *Host, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := h.Status(); cond(st) {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	st := h.Status()
	t.Fatalf("status condition not met, last status %+v", st)
	return st
}

func TestHost_NoScreenBeforeStart(t *testing.T) {
	h, _, _ := newTestHost(t, permission.GrantAll{})
	if h.PressShutter() {
		t.Error("PressShutter without a screen returned true")
	}
	if st := h.Status(); st.Lifecycle != "none" {
		t.Errorf("lifecycle = %q, want none", st.Lifecycle)
	}
}

func TestHost_StartAndRestart(t *testing.T) {
	h, _, bound := newTestHost(t, permission.GrantAll{})
	h.Start()
	<-bound
	first := h.current()

	h.Restart()
	<-bound
	if h.current() == first {
		t.Error("Restart kept the old screen")
	}
	if first.Status().Lifecycle != "destroyed" {
		t.Errorf("old screen lifecycle = %q, want destroyed", first.Status().Lifecycle)
	}
	waitStatus(t, h, func(st Status) bool { return st.Bound })
}

func TestHost_DeniedFinishesScreen(t *testing.T) {
	h, shell, _ := newTestHost(t, fixedPlatform{answer: permission.Denied})
	h.Start()

	if e := shell.next(t); e != "toast:"+MsgPermissionDenied {
		t.Errorf("event = %q, want denial toast", e)
	}
	waitStatus(t, h, func(st Status) bool { return st.Lifecycle == "none" })
	if h.PressShutter() {
		t.Error("PressShutter after finish returned true")
	}
}
