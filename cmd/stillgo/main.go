package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/StillGo/internal/app"
	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/config"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
	"github.com/cjeanneret/StillGo/internal/logic/capture"
	"github.com/cjeanneret/StillGo/internal/logic/provider"
	"github.com/cjeanneret/StillGo/internal/media"
	"github.com/cjeanneret/StillGo/internal/permission"
	"github.com/cjeanneret/StillGo/internal/web"
)

const (
	stopTimeout = 5 * time.Second
	bindTimeout = 10 * time.Second
)

// cliOverrides holds the config values that can be set from the command line.
// Empty fields mean "use config value".
type cliOverrides struct {
	Backend    string
	Permission string
	Subfolder  string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	backend := flag.String("backend", "", "override camera backend (synthetic, exec, v4l2)")
	permissionMode := flag.String("permission", "", "override permission mode (prompt, device, grant_all)")
	subfolder := flag.String("subfolder", "", "override the Pictures/ subfolder photos are saved to")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{Backend: *backend, Permission: *permissionMode, Subfolder: *subfolder}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Camera backend", cfg.Camera.Backend)
	debug.Value("Permission mode", cfg.Permission.Mode)
	debug.Value("Media root", cfg.Storage.Root)
	debug.PrintStruct("Camera config", cfg.Camera)

	mainExec := async.NewSerial("main")
	defer mainExec.Shutdown()

	hw, err := openHardware(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer hw.Close()

	store := media.NewStore(cfg.Storage.Root)
	base := screenConfig(cfg, mainExec, store)
	base.OnOutcome = hw.report

	if port := webPort.port(); port > 0 {
		if err := serve(ctx, cfg, base, store, hw, port); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	base.Platform = newPlatform(cfg, permission.NewTerminalPrompter(os.Stdin, os.Stdout))
	o, err := runOnce(ctx, base, os.Stdout)
	if err != nil {
		log.Fatalf("capture failed: %v", err)
	}
	fmt.Println(o)
}

// screenConfig returns the screen settings shared by every run mode.
// Platform, Shell and Surface are left to the caller.
func screenConfig(cfg *config.Config, main async.Executor, store *media.Store) app.Config {
	return app.Config{
		Name:            "camera",
		Backend:         newBackend(cfg),
		Saver:           store,
		Main:            main,
		PreviewInterval: cfg.PreviewInterval(),
		CaptureTimeout:  cfg.CaptureTimeout(),
		Subfolder:       cfg.Storage.Subfolder,
		InMemory:        cfg.InMemoryCallback(),
	}
}

// newBackend opens the configured camera devices on each provider acquisition.
func newBackend(cfg *config.Config) provider.Backend {
	name, format, settings := cfg.Camera.Backend, cfg.CameraFormat(), cfg.CameraSettings()
	return provider.BackendFunc(func(ctx context.Context) ([]camera.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return camera.NewDevices(name, format, settings)
	})
}

// newPlatform selects the permission platform for the configured mode.
// prompter is only used in prompt mode.
func newPlatform(cfg *config.Config, prompter permission.Prompter) permission.Platform {
	switch cfg.Permission.Mode {
	case config.PermissionDevice:
		return permission.NewDevice(map[permission.Capability][]string{
			permission.Camera: cfg.DevicePaths(),
		})
	case config.PermissionGrantAll:
		return permission.GrantAll{}
	default:
		return permission.NewConsent(prompter)
	}
}

// serve runs the web UI until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, base app.Config, store *media.Store, hw *hardware, port int) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	surface := web.NewSurface()
	prompter := web.NewConsentPrompter(broadcaster)
	base.Platform = newPlatform(cfg, prompter)
	base.Surface = surface
	base.Shell = web.NewShell(broadcaster)

	host := app.NewHost(base)
	host.Start()
	defer stopHost(host)

	hw.watchButton(host)

	deps := web.Deps{
		Broadcaster: broadcaster,
		Host:        host,
		Surface:     surface,
		Media:       store,
	}
	if cfg.Permission.Mode == config.PermissionPrompt {
		deps.Prompter = prompter
	}
	srv := web.NewServer(fmt.Sprintf(":%d", port), deps)
	return srv.Run(ctx)
}

// runOnce opens the screen, takes one photo once the camera is bound and
// closes the screen again. base.OnOutcome, if set, still sees the outcome.
func runOnce(ctx context.Context, base app.Config, out io.Writer) (capture.Outcome, error) {
	bound := make(chan struct{}, 1)
	outcome := make(chan capture.Outcome, 1)
	finished := make(chan string, 1)

	var host *app.Host
	base.Shell = terminalShell{out: out, finished: finished}
	base.OnBound = func(*provider.Camera) {
		select {
		case bound <- struct{}{}:
		default:
		}
		host.PressShutter()
	}
	next := base.OnOutcome
	base.OnOutcome = func(o capture.Outcome) {
		if next != nil {
			next(o)
		}
		select {
		case outcome <- o:
		default:
		}
	}
	host = app.NewHost(base)
	host.Start()
	defer stopHost(host)

	timer := time.NewTimer(bindTimeout)
	defer timer.Stop()
	for {
		select {
		case <-bound:
			timer.Stop()
		case <-timer.C:
			return capture.Outcome{}, fmt.Errorf("camera not bound after %v", bindTimeout)
		case o := <-outcome:
			summarize(o)
			return o, o.Err
		case reason := <-finished:
			return capture.Outcome{}, errors.New(reason)
		case <-ctx.Done():
			return capture.Outcome{}, ctx.Err()
		}
	}
}

// summarize logs the result of a headless capture.
func summarize(o capture.Outcome) {
	debug.Summary("Capture Summary")
	debug.Value("Photo", o.Request.Name)
	if !o.OK() {
		debug.Errorf("capture failed: %v", o.Err)
		return
	}
	debug.Value("Saved to", o.Location.URI)
	debug.Value("File", o.Location.Path)
}

func stopHost(host *app.Host) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := host.Stop(ctx); err != nil {
		log.Printf("closing screen failed: %v", err)
	}
}

// terminalShell prints screen feedback on a terminal.
type terminalShell struct {
	out      io.Writer
	finished chan<- string
}

func (s terminalShell) Toast(msg string) {
	fmt.Fprintln(s.out, msg)
}

func (s terminalShell) Finish(reason string) {
	fmt.Fprintf(s.out, "screen finished: %s\n", reason)
	select {
	case s.finished <- reason:
	default:
	}
}

// validateCLIOverrides checks the non-empty CLI overrides.
// Empty values are ignored (they mean "use config value").
func validateCLIOverrides(o cliOverrides) error {
	switch o.Backend {
	case "", config.BackendSynthetic, config.BackendExec, config.BackendV4L2:
	default:
		return fmt.Errorf("backend must be one of synthetic, exec, v4l2, got %q", o.Backend)
	}
	switch o.Permission {
	case "", config.PermissionPrompt, config.PermissionDevice, config.PermissionGrantAll:
	default:
		return fmt.Errorf("permission must be one of prompt, device, grant_all, got %q", o.Permission)
	}
	if o.Subfolder != "" {
		if err := config.ValidateSubfolder(o.Subfolder); err != nil {
			return fmt.Errorf("subfolder: %w", err)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Backend != "" {
		cfg.Camera.Backend = o.Backend
	}
	if o.Permission != "" {
		cfg.Permission.Mode = o.Permission
	}
	if o.Subfolder != "" {
		cfg.Storage.Subfolder = o.Subfolder
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
