package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/StillGo/internal/app"
	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/config"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/gpio"
	"github.com/cjeanneret/StillGo/internal/logic/capture"
	"github.com/cjeanneret/StillGo/internal/media"
	"github.com/cjeanneret/StillGo/internal/permission"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_AllEmpty(t *testing.T) {
	if err := validateCLIOverrides(cliOverrides{}); err != nil {
		t.Errorf("empty overrides should be valid (use config values), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []cliOverrides{
		{Backend: "synthetic"},
		{Backend: "exec"},
		{Backend: "v4l2"},
		{Permission: "prompt"},
		{Permission: "device"},
		{Permission: "grant_all"},
		{Subfolder: "Holidays"},
		{Subfolder: "2026/October"},
	}
	for _, o := range cases {
		if err := validateCLIOverrides(o); err != nil {
			t.Errorf("validateCLIOverrides(%+v) unexpected error: %v", o, err)
		}
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name string
		o    cliOverrides
	}{
		{"unknown backend", cliOverrides{Backend: "gopro"}},
		{"unknown permission", cliOverrides{Permission: "always"}},
		{"subfolder traversal", cliOverrides{Subfolder: "../etc"}},
		{"absolute subfolder", cliOverrides{Subfolder: "/tmp"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err == nil {
				t.Errorf("validateCLIOverrides(%+v) should fail", tc.o)
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyOverrides ----------

func newTestConfig() *config.Config {
	return &config.Config{
		Camera:     config.CameraConfig{Backend: config.BackendV4L2},
		Storage:    config.StorageConfig{Root: "media", Subfolder: "StillGo"},
		Permission: config.PermissionConfig{Mode: config.PermissionPrompt},
	}
}

func TestApplyOverrides_Empty(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, cliOverrides{})
	if cfg.Camera.Backend != config.BackendV4L2 {
		t.Errorf("Backend changed to %q", cfg.Camera.Backend)
	}
	if cfg.Permission.Mode != config.PermissionPrompt {
		t.Errorf("Mode changed to %q", cfg.Permission.Mode)
	}
	if cfg.Storage.Subfolder != "StillGo" {
		t.Errorf("Subfolder changed to %q", cfg.Storage.Subfolder)
	}
}

func TestApplyOverrides_All(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, cliOverrides{
		Backend:    config.BackendSynthetic,
		Permission: config.PermissionGrantAll,
		Subfolder:  "Tests",
	})
	if cfg.Camera.Backend != config.BackendSynthetic {
		t.Errorf("Backend = %q, want synthetic", cfg.Camera.Backend)
	}
	if cfg.Permission.Mode != config.PermissionGrantAll {
		t.Errorf("Mode = %q, want grant_all", cfg.Permission.Mode)
	}
	if cfg.Storage.Subfolder != "Tests" {
		t.Errorf("Subfolder = %q, want Tests", cfg.Storage.Subfolder)
	}
}

// ---------- newPlatform ----------

func TestNewPlatform(t *testing.T) {
	cfg := newTestConfig()

	cfg.Permission.Mode = config.PermissionGrantAll
	if _, ok := newPlatform(cfg, nil).(permission.GrantAll); !ok {
		t.Error("grant_all should select permission.GrantAll")
	}
	cfg.Permission.Mode = config.PermissionDevice
	if _, ok := newPlatform(cfg, nil).(*permission.Device); !ok {
		t.Error("device should select *permission.Device")
	}
	cfg.Permission.Mode = config.PermissionPrompt
	if _, ok := newPlatform(cfg, refusePrompter{}).(*permission.Consent); !ok {
		t.Error("prompt should select *permission.Consent")
	}
}

// ---------- runOnce ----------

type refusePrompter struct{}

func (refusePrompter) Ask(context.Context, []permission.Capability) (bool, error) { return false, nil }

// lockedBuffer is a bytes.Buffer safe for the main executor and the test
// goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func loadTestConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.yaml")
	content := `
camera:
  backend: synthetic
  width: 64
  height: 48
  capture_timeout_ms: 2000
storage:
  root: ` + filepath.Join(t.TempDir(), "media") + `
  subfolder: Tests
permission:
  mode: ` + mode + `
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func newTestBase(t *testing.T, cfg *config.Config) (app.Config, *media.Store) {
	t.Helper()
	mainExec := async.NewSerial("main")
	t.Cleanup(mainExec.Shutdown)
	store := media.NewStore(cfg.Storage.Root)
	return screenConfig(cfg, mainExec, store), store
}

func TestRunOnce_SavesPhoto(t *testing.T) {
	cfg := loadTestConfig(t, config.PermissionGrantAll)
	base, store := newTestBase(t, cfg)
	base.Platform = newPlatform(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out lockedBuffer
	o, err := runOnce(ctx, base, &out)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if !strings.HasSuffix(o.Location.Path, ".jpg") {
		t.Errorf("saved path = %q, want a .jpg file", o.Location.Path)
	}
	if !strings.Contains(o.Location.Path, filepath.Join("Pictures", "Tests")) {
		t.Errorf("saved path = %q, want it under Pictures/Tests", o.Location.Path)
	}
	if _, err := os.Stat(o.Location.Path); err != nil {
		t.Errorf("saved file: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
	if !strings.Contains(out.String(), app.MsgSavedPrefix+o.Location.URI) {
		t.Errorf("output %q does not report the saved location", out.String())
	}
}

func TestRunOnce_PermissionDenied(t *testing.T) {
	cfg := loadTestConfig(t, config.PermissionPrompt)
	base, store := newTestBase(t, cfg)
	base.Platform = newPlatform(cfg, refusePrompter{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out lockedBuffer
	_, err := runOnce(ctx, base, &out)
	if err == nil {
		t.Fatal("runOnce should fail when the permission is refused")
	}
	if !strings.Contains(err.Error(), permission.ErrDenied.Error()) {
		t.Errorf("err = %v, want the denial reason", err)
	}
	if !strings.Contains(out.String(), app.MsgPermissionDenied) {
		t.Errorf("output %q does not show the denial message", out.String())
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}
}

// captureDebug routes debug output at level into a buffer for the test.
func captureDebug(t *testing.T, level int) *lockedBuffer {
	t.Helper()
	var buf lockedBuffer
	debug.SetOutput(&buf)
	debug.Init(level)
	t.Cleanup(func() {
		debug.Init(debug.LevelOff)
		debug.SetOutput(os.Stdout)
	})
	return &buf
}

func TestRunOnce_LogsSummary(t *testing.T) {
	buf := captureDebug(t, debug.LevelInfo)
	cfg := loadTestConfig(t, config.PermissionGrantAll)
	base, _ := newTestBase(t, cfg)
	base.Platform = newPlatform(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out lockedBuffer
	o, err := runOnce(ctx, base, &out)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	logged := buf.String()
	for _, want := range []string{"Capture Summary", o.Request.Name, o.Location.URI} {
		if !strings.Contains(logged, want) {
			t.Errorf("debug output missing %q:\n%s", want, logged)
		}
	}
}

func TestSummarize_Failure(t *testing.T) {
	buf := captureDebug(t, debug.LevelInfo)
	summarize(capture.Outcome{Request: capture.Request{Name: "IMG_1"}, Err: errors.New("disk full")})
	logged := buf.String()
	if !strings.Contains(logged, "Capture Summary") || !strings.Contains(logged, "disk full") {
		t.Errorf("debug output = %q, want summary with the error", logged)
	}
	if strings.Contains(logged, "Saved to") {
		t.Errorf("failed outcome should not report a location: %q", logged)
	}
}

func TestSummarize_SilentWhenDebugOff(t *testing.T) {
	buf := captureDebug(t, debug.LevelOff)
	summarize(capture.Outcome{Request: capture.Request{Name: "IMG_1"}})
	if buf.String() != "" {
		t.Errorf("debug off should log nothing, got %q", buf.String())
	}
}

func TestTerminalShell_FinishDoesNotBlock(t *testing.T) {
	finished := make(chan string, 1)
	var out bytes.Buffer
	s := terminalShell{out: &out, finished: finished}
	s.Finish("first")
	s.Finish("second")
	if got := <-finished; got != "first" {
		t.Errorf("finished = %q, want first", got)
	}
	if !strings.Contains(out.String(), "screen finished: second") {
		t.Errorf("output %q misses the second notice", out.String())
	}
}

// ---------- hardware ----------

type countingShutter struct{ presses atomic.Int32 }

func (c *countingShutter) PressShutter() bool {
	c.presses.Add(1)
	return true
}

func TestOpenHardware_DisabledOpensNothing(t *testing.T) {
	hw, err := openHardware(newTestConfig())
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	defer hw.Close()
	if hw.driver != nil {
		t.Error("no GPIO driver expected when button and lamp are disabled")
	}
	// No-ops without peripherals.
	hw.report(capture.Outcome{})
	hw.watchButton(&countingShutter{})
}

func TestHardware_ButtonPressesShutter(t *testing.T) {
	cfg := newTestConfig()
	cfg.Defaults.MockGPIO = true
	cfg.Button = config.ButtonConfig{Enabled: true, Pin: 17, ActiveLow: true, DebounceMs: 5}

	hw, err := openHardware(cfg)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	defer hw.Close()

	s := &countingShutter{}
	hw.watchButton(s)
	hw.driver.(*gpio.MockDriver).Set(17, gpio.Low)

	deadline := time.Now().Add(2 * time.Second)
	for s.presses.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.presses.Load(); got != 1 {
		t.Errorf("presses = %d, want 1", got)
	}
}

func TestHardware_CloseSwitchesLampOff(t *testing.T) {
	cfg := newTestConfig()
	cfg.Defaults.MockGPIO = true
	cfg.Lamp = config.LampConfig{Enabled: true, Pin: 27, HoldMs: 60_000}

	hw, err := openHardware(cfg)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	drv := hw.driver.(*gpio.MockDriver)

	hw.report(capture.Outcome{Err: errors.New("boom")})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lvl, _ := drv.ReadPin(27); lvl == gpio.High {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if lvl, _ := drv.ReadPin(27); lvl != gpio.High {
		t.Fatal("lamp did not switch on")
	}

	hw.Close()
	if lvl, _ := drv.ReadPin(27); lvl != gpio.Low {
		t.Errorf("lamp level after Close = %v, want LOW (off)", lvl)
	}
}
