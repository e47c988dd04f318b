package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"testing"
	"testing/iotest"
)

func TestParseFacing(t *testing.T) {
	cases := []struct {
		in   string
		want Facing
		ok   bool
	}{
		{"back", FacingBack, true},
		{"rear", FacingBack, true},
		{" Front ", FacingFront, true},
		{"external", FacingExternal, true},
		{"sideways", FacingUnknown, false},
		{"", FacingUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFacing(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("ParseFacing(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			}
			if got != tc.want {
				t.Errorf("ParseFacing(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSynthetic_FrameRequiresStart(t *testing.T) {
	cam := NewSynthetic(Settings{ID: "0", Facing: FacingBack}, Format{Width: 32, Height: 24})
	if _, err := cam.Frame(); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Frame before Start: err = %v, want ErrNotStreaming", err)
	}
}

func TestSynthetic_FrameIsJPEG(t *testing.T) {
	cam := NewSynthetic(Settings{ID: "0", Facing: FacingBack}, Format{Width: 32, Height: 24})
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cam.Stop()

	f, err := cam.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("frame is not a JPEG: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 24 {
		t.Errorf("frame size = %dx%d, want 32x24", cfg.Width, cfg.Height)
	}
	if f.Width != 32 || f.Height != 24 {
		t.Errorf("Frame dims = %dx%d, want 32x24", f.Width, f.Height)
	}
}

func TestSynthetic_DoubleStartFails(t *testing.T) {
	cam := NewSynthetic(Settings{ID: "0"}, Format{Width: 8, Height: 8})
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cam.Stop()
	if err := cam.Start(context.Background()); err == nil {
		t.Error("second Start should fail while streaming")
	}
}

func TestSynthetic_StopAndRestart(t *testing.T) {
	cam := NewSynthetic(Settings{ID: "0"}, Format{Width: 8, Height: 8})
	_ = cam.Start(context.Background())
	_ = cam.Stop()
	if cam.IsStreaming() {
		t.Fatal("IsStreaming = true after Stop")
	}
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !cam.IsStreaming() {
		t.Error("IsStreaming = false after restart")
	}
	_ = cam.Stop()
}

func TestNewDevices_UnknownBackend(t *testing.T) {
	if _, err := NewDevices("carrier-pigeon", Format{}, []Settings{{ID: "0"}}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewDevices_Synthetic(t *testing.T) {
	devs, err := NewDevices("synthetic", Format{}, []Settings{
		{ID: "0", Facing: FacingBack},
		{ID: "1", Facing: FacingFront},
	})
	if err != nil {
		t.Fatalf("NewDevices: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devs))
	}
	if devs[1].Info().Facing != FacingFront {
		t.Errorf("devices[1] facing = %v, want front", devs[1].Info().Facing)
	}
}

func TestNewExec_ExpandsPlaceholders(t *testing.T) {
	e, err := NewExec(Settings{
		ID:      "0",
		Path:    "/dev/video2",
		Command: []string{"ffmpeg", "-video_size", "{width}x{height}", "-framerate", "{fps}", "-i", "{device}"},
	}, Format{Width: 640, Height: 480, FPS: 15})
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	want := []string{"ffmpeg", "-video_size", "640x480", "-framerate", "15", "-i", "/dev/video2"}
	got := e.Command()
	if len(got) != len(want) {
		t.Fatalf("command = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// ---------- MJPEG pump ----------

func testJPEG(t *testing.T, n int) []byte {
	t.Helper()
	data, err := renderPattern(4, 4, n)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestPumpMJPEG_SplitsFrames(t *testing.T) {
	first := testJPEG(t, 1)
	second := testJPEG(t, 2)

	var stream bytes.Buffer
	stream.WriteString("garbage before the first frame")
	stream.Write(first)
	stream.Write(second)

	var store frameStore
	// One byte at a time exercises markers split across reads.
	err := pumpMJPEG(iotest.OneByteReader(&stream), &store)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("pump err = %v, want EOF", err)
	}

	f, err := store.get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(f.Data, second) {
		t.Errorf("latest frame is not the second frame (len %d, want %d)", len(f.Data), len(second))
	}
	if f.Width != 4 || f.Height != 4 {
		t.Errorf("frame dims = %dx%d, want 4x4", f.Width, f.Height)
	}
}

func TestFrameStore_EmptyHasNoFrame(t *testing.T) {
	var store frameStore
	if _, err := store.get(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
}

func TestFrameStore_ReturnsCopy(t *testing.T) {
	var store frameStore
	store.set(testJPEG(t, 1))
	a, _ := store.get()
	a.Data[0] = 0
	b, _ := store.get()
	if b.Data[0] == 0 {
		t.Error("get should return a copy of the frame")
	}
}
