package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
	"github.com/cjeanneret/StillGo/internal/logic/lifecycle"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
)

type nopSurface struct{}

func (nopSurface) Render(camera.Frame) {}
func (nopSurface) Clear()              {}

type countingBackend struct {
	calls atomic.Int32
	devs  []camera.Device
	err   error
}

func (b *countingBackend) Devices(context.Context) ([]camera.Device, error) {
	b.calls.Add(1)
	return b.devs, b.err
}

func newBackend() *countingBackend {
	return &countingBackend{devs: []camera.Device{
		camera.NewSynthetic(camera.Settings{ID: "0", Facing: camera.FacingBack}, camera.Format{Width: 8, Height: 8}),
	}}
}

func newSession(t *testing.T, backend provider.Backend) *Session {
	t.Helper()
	main := async.NewSerial("main")
	worker := async.NewSerial("camera")
	t.Cleanup(func() {
		worker.Shutdown()
		main.Shutdown()
	})
	return New(Config{
		Backend:         backend,
		Worker:          worker,
		Main:            main,
		Surface:         nopSurface{},
		PreviewInterval: time.Millisecond,
		CaptureTimeout:  time.Second,
	})
}

func createdOwner(t *testing.T) *lifecycle.Owner {
	t.Helper()
	o := lifecycle.NewOwner("screen")
	if err := o.Create(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(o.Destroy)
	return o
}

func wait[T any](t *testing.T, f *async.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not resolve")
	}
	return v, err
}

func TestStart_BindsPreviewAndCapture(t *testing.T) {
	s := newSession(t, newBackend())
	if s.ImageCapture() != nil {
		t.Fatal("ImageCapture before start should be nil")
	}

	cam, err := wait(t, s.Start(createdOwner(t)))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cam.Info().Facing != camera.FacingBack {
		t.Errorf("bound %s camera, want back", cam.Info().Facing)
	}
	if s.ImageCapture() == nil || s.Preview() == nil {
		t.Error("use cases missing after bind")
	}
	if !s.Bound() {
		t.Error("Bound = false after bind")
	}
}

func TestStart_TwiceLeavesOnePair(t *testing.T) {
	backend := newBackend()
	s := newSession(t, backend)
	owner := createdOwner(t)

	if _, err := wait(t, s.Start(owner)); err != nil {
		t.Fatal(err)
	}
	first := s.ImageCapture()
	if _, err := wait(t, s.Start(owner)); err != nil {
		t.Fatal(err)
	}
	second := s.ImageCapture()

	if first == second {
		t.Fatal("second start should build a new capture use case")
	}
	if s.provider.IsBound(first) {
		t.Error("first capture use case still bound")
	}
	if n := len(s.provider.BoundUseCases()); n != 2 {
		t.Errorf("bound use cases = %d, want 2 (one preview, one capture)", n)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("provider acquired %d times, want 1", n)
	}
}

func TestStart_AcquisitionFailureStaysUnbound(t *testing.T) {
	backend := &countingBackend{err: errors.New("no v4l2 here")}
	s := newSession(t, backend)

	_, err := wait(t, s.Start(createdOwner(t)))
	if !errors.Is(err, provider.ErrAcquisition) {
		t.Errorf("err = %v, want ErrAcquisition", err)
	}
	if s.ImageCapture() != nil || s.Bound() {
		t.Error("session bound after acquisition failure")
	}
}

func TestStart_NoBackCamera(t *testing.T) {
	backend := &countingBackend{devs: []camera.Device{
		camera.NewSynthetic(camera.Settings{ID: "1", Facing: camera.FacingFront}, camera.Format{Width: 8, Height: 8}),
	}}
	s := newSession(t, backend)
	if _, err := wait(t, s.Start(createdOwner(t))); !errors.Is(err, provider.ErrNoCamera) {
		t.Errorf("err = %v, want ErrNoCamera", err)
	}
	if s.ImageCapture() != nil {
		t.Error("capture handle set without a bind")
	}
}

func TestStart_OwnerDestroyedBeforeAcquisition(t *testing.T) {
	s := newSession(t, newBackend())
	owner := lifecycle.NewOwner("screen")
	_ = owner.Create()
	owner.Destroy()

	if _, err := wait(t, s.Start(owner)); err == nil {
		t.Error("Start on destroyed owner should fail")
	}
	if s.ImageCapture() != nil {
		t.Error("capture handle set for destroyed owner")
	}
}

func TestRelease(t *testing.T) {
	s := newSession(t, newBackend())
	if _, err := wait(t, s.Start(createdOwner(t))); err != nil {
		t.Fatal(err)
	}
	s.Release()
	if s.ImageCapture() != nil || s.Preview() != nil {
		t.Error("use cases kept after Release")
	}
}
