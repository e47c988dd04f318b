package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
	"github.com/cjeanneret/StillGo/internal/logic/lifecycle"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
	"github.com/cjeanneret/StillGo/internal/media"
)

func TestFileName(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC), "2024-01-02-03-04-05-006"},
		{time.Date(2023, 12, 31, 23, 59, 59, 999*int(time.Millisecond)+999, time.UTC), "2023-12-31-23-59-59-999"},
		{time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC), "2025-06-07-08-09-10-000"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			if got := FileName(tc.in); got != tc.want {
				t.Errorf("FileName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRequest(now, "StillGo")
	if r.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q", r.MIMEType)
	}
	if r.RelativePath != "Pictures/StillGo" {
		t.Errorf("RelativePath = %q", r.RelativePath)
	}
	if r.Collection != media.ImagesExternal {
		t.Errorf("Collection = %q", r.Collection)
	}
	if r.Values().DisplayName != r.Name {
		t.Error("Values().DisplayName differs from Name")
	}
}

func TestNewRequest_DistinctMillis(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewRequest(base, "x")
	b := NewRequest(base.Add(time.Millisecond), "x")
	if a.Name == b.Name {
		t.Errorf("names collide: %q", a.Name)
	}
}

// ---------- Pipeline ----------

type handle struct{ ic *provider.ImageCapture }

func (h handle) ImageCapture() *provider.ImageCapture { return h.ic }

type recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	got      chan Outcome
}

func newRecorder() *recorder { return &recorder{got: make(chan Outcome, 8)} }

func (r *recorder) Report(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	r.got <- o
}

func (r *recorder) next(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-r.got:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome reported")
		return Outcome{}
	}
}

type fixture struct {
	owner  *lifecycle.Owner
	main   *async.Serial
	worker *async.Serial
	ic     *provider.ImageCapture
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		owner:  lifecycle.NewOwner("screen"),
		main:   async.NewSerial("main"),
		worker: async.NewSerial("camera"),
	}
	_ = f.owner.Create()
	f.ic = provider.NewImageCapture(f.worker, time.Second)
	dev := camera.NewSynthetic(camera.Settings{ID: "0", Facing: camera.FacingBack}, camera.Format{Width: 20, Height: 10})
	if _, err := provider.New([]camera.Device{dev}).BindToLifecycle(f.owner, provider.DefaultBackCamera, f.ic); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		f.owner.Destroy()
		f.worker.Shutdown()
		f.main.Shutdown()
	})
	return f
}

func TestTakePhoto_NoHandle(t *testing.T) {
	rec := newRecorder()
	p := NewPipeline(Config{Handles: handle{}, Main: async.Inline{}, Reporter: rec})
	if p.TakePhoto(context.Background()) {
		t.Error("TakePhoto without handle reported a capture")
	}
	select {
	case o := <-rec.got:
		t.Errorf("unexpected outcome %v", o)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTakePhoto_SavesFile(t *testing.T) {
	for _, inMemory := range []bool{true, false} {
		name := "file only"
		if inMemory {
			name = "dual callbacks"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			root := t.TempDir()
			rec := newRecorder()
			now := time.Date(2024, 5, 6, 7, 8, 9, 10*int(time.Millisecond), time.Local)
			p := NewPipeline(Config{
				Handles:   handle{f.ic},
				Saver:     media.NewStore(root),
				Main:      f.main,
				Reporter:  rec,
				Subfolder: "StillGo",
				InMemory:  inMemory,
				Now:       func() time.Time { return now },
			})

			if !p.TakePhoto(f.owner.Context()) {
				t.Fatal("TakePhoto returned false with a bound handle")
			}
			o := rec.next(t)
			if !o.OK() {
				t.Fatalf("outcome failed: %v", o.Err)
			}
			want := filepath.Join(root, "Pictures", "StillGo", "2024-05-06-07-08-09-010.jpg")
			if o.Location.Path != want {
				t.Errorf("saved to %q, want %q", o.Location.Path, want)
			}
			if _, err := os.Stat(want); err != nil {
				t.Errorf("photo not on disk: %v", err)
			}

			// Exactly one outcome per request.
			select {
			case extra := <-rec.got:
				t.Errorf("second outcome %v", extra)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

type failingSaver struct{}

func (failingSaver) Save(media.Collection, media.ContentValues, []byte) (media.Location, error) {
	return media.Location{}, errors.New("read-only file system")
}

func TestTakePhoto_Failure(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	p := NewPipeline(Config{Handles: handle{f.ic}, Saver: failingSaver{}, Main: f.main, Reporter: rec})

	p.TakePhoto(f.owner.Context())
	o := rec.next(t)
	if o.OK() || !errors.Is(o.Err, ErrCaptureFailed) {
		t.Errorf("outcome = %v, want ErrCaptureFailed", o)
	}
}

func TestTakePhoto_UnboundHandleFails(t *testing.T) {
	worker := async.NewSerial("camera")
	defer worker.Shutdown()
	rec := newRecorder()
	p := NewPipeline(Config{
		Handles:  handle{provider.NewImageCapture(worker, 0)},
		Saver:    failingSaver{},
		Main:     async.Inline{},
		Reporter: rec,
	})

	p.TakePhoto(context.Background())
	o := rec.next(t)
	if !errors.Is(o.Err, provider.ErrNotBound) || !errors.Is(o.Err, ErrCaptureFailed) {
		t.Errorf("err = %v, want ErrCaptureFailed wrapping ErrNotBound", o.Err)
	}
}

func TestTakePhoto_DropsOutcomeAfterCancel(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	p := NewPipeline(Config{Handles: handle{f.ic}, Saver: media.NewStore(t.TempDir()), Main: f.main, Reporter: rec})

	// Hold the worker so the capture is still queued when ctx ends.
	release := make(chan struct{})
	f.worker.Execute(func() { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	p.TakePhoto(ctx)
	cancel()
	close(release)

	select {
	case o := <-rec.got:
		t.Errorf("outcome delivered after cancel: %v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTakePhoto_DistinctNames(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	tick := 0
	p := NewPipeline(Config{
		Handles:  handle{f.ic},
		Saver:    media.NewStore(t.TempDir()),
		Main:     f.main,
		Reporter: rec,
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	})

	p.TakePhoto(f.owner.Context())
	p.TakePhoto(f.owner.Context())
	a, b := rec.next(t), rec.next(t)
	if a.Request.Name == b.Request.Name {
		t.Errorf("both captures named %q", a.Request.Name)
	}
	if a.Location.Path == b.Location.Path {
		t.Errorf("both captures saved to %q", a.Location.Path)
	}
}
