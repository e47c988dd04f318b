package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/StillGo/internal/hw/camera"
)

// MaxConfigFileBytes is the largest config file Load accepts.
const MaxConfigFileBytes = 1 << 20

// Camera backends.
const (
	BackendSynthetic = "synthetic"
	BackendExec      = "exec"
	BackendV4L2      = "v4l2"
)

// Permission modes.
const (
	PermissionPrompt   = "prompt"
	PermissionDevice   = "device"
	PermissionGrantAll = "grant_all"
)

// DeviceConfig describes one camera device.
type DeviceConfig struct {
	ID      string   `yaml:"id"`
	Facing  string   `yaml:"facing"`  // back, front, external
	Path    string   `yaml:"path"`    // e.g., /dev/video0
	Command []string `yaml:"command"` // exec backend only; {width} {height} {fps} {device} are expanded
}

// CameraConfig selects the camera backend and stream format.
type CameraConfig struct {
	Backend          string         `yaml:"backend"` // synthetic, exec, v4l2
	Width            int            `yaml:"width"`
	Height           int            `yaml:"height"`
	PreviewFPS       int            `yaml:"preview_fps"`
	CaptureTimeoutMs int            `yaml:"capture_timeout_ms"` // max wait for a frame when capturing
	Devices          []DeviceConfig `yaml:"devices"`
}

// StorageConfig places the media store on disk.
type StorageConfig struct {
	Root      string `yaml:"root"`      // media store root directory
	Subfolder string `yaml:"subfolder"` // photos go to <root>/Pictures/<subfolder>
}

// PermissionConfig selects how the camera permission is granted.
type PermissionConfig struct {
	Mode string `yaml:"mode"` // prompt, device, grant_all
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	InMemoryCallback *bool `yaml:"in_memory_callback"` // default true
}

// ButtonConfig describes the optional GPIO shutter button.
type ButtonConfig struct {
	Enabled    bool `yaml:"enabled"`
	Pin        int  `yaml:"pin"` // BCM numbering
	DebounceMs int  `yaml:"debounce_ms"`
	ActiveLow  bool `yaml:"active_low"` // wired to GND with pull-up
}

// LampConfig holds the capture lamp wiring. The lamp blinks once per saved
// photo and three times per failed capture.
type LampConfig struct {
	Enabled   bool `yaml:"enabled"`
	Pin       int  `yaml:"pin"` // BCM numbering
	ActiveLow bool `yaml:"active_low"`
	HoldMs    int  `yaml:"hold_ms"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Storage    StorageConfig    `yaml:"storage"`
	Permission PermissionConfig `yaml:"permission"`
	Capture    CaptureConfig    `yaml:"capture"`
	Button     ButtonConfig     `yaml:"button"`
	Lamp       LampConfig       `yaml:"lamp"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	// Camera
	switch c.Camera.Backend {
	case "":
		c.Camera.Backend = BackendSynthetic
	case BackendSynthetic, BackendExec, BackendV4L2:
	default:
		return fmt.Errorf("camera.backend must be one of synthetic, exec, v4l2, got %q", c.Camera.Backend)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.PreviewFPS < 0 || c.Camera.PreviewFPS > 60 {
		return fmt.Errorf("camera.preview_fps must be between 1 and 60, got %d", c.Camera.PreviewFPS)
	}
	if c.Camera.PreviewFPS == 0 {
		c.Camera.PreviewFPS = 15
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 5000
	}
	if len(c.Camera.Devices) == 0 {
		c.Camera.Devices = []DeviceConfig{{ID: "0", Facing: "back", Path: "/dev/video0"}}
	}
	for i := range c.Camera.Devices {
		d := &c.Camera.Devices[i]
		if d.ID == "" {
			d.ID = fmt.Sprint(i)
		}
		if d.Facing == "" {
			d.Facing = "back"
		}
		if _, err := camera.ParseFacing(d.Facing); err != nil {
			return fmt.Errorf("camera.devices[%d]: %w", i, err)
		}
	}

	// Storage
	if c.Storage.Root == "" {
		c.Storage.Root = "media"
	}
	if c.Storage.Subfolder == "" {
		c.Storage.Subfolder = "StillGo"
	}
	if err := ValidateSubfolder(c.Storage.Subfolder); err != nil {
		return err
	}

	// Permission
	switch c.Permission.Mode {
	case "":
		c.Permission.Mode = PermissionPrompt
	case PermissionPrompt, PermissionDevice, PermissionGrantAll:
	default:
		return fmt.Errorf("permission.mode must be one of prompt, device, grant_all, got %q", c.Permission.Mode)
	}

	// Button
	if c.Button.Enabled && c.Button.Pin <= 0 {
		return fmt.Errorf("button.pin must be > 0 when the button is enabled")
	}
	if c.Button.DebounceMs <= 0 {
		c.Button.DebounceMs = 50 // 50ms debounce
	}

	// Lamp
	if c.Lamp.Enabled && c.Lamp.Pin <= 0 {
		return fmt.Errorf("lamp.pin must be > 0 when the lamp is enabled")
	}
	if c.Lamp.Enabled && c.Button.Enabled && c.Lamp.Pin == c.Button.Pin {
		return fmt.Errorf("lamp.pin and button.pin must differ, both are %d", c.Lamp.Pin)
	}
	if c.Lamp.HoldMs <= 0 {
		c.Lamp.HoldMs = 100
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ValidateSubfolder checks a Pictures/ subfolder name: relative, no '..'.
func ValidateSubfolder(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("storage.subfolder is empty")
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, `\`) {
		return fmt.Errorf("storage.subfolder %q must be relative", s)
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("storage.subfolder %q must not contain '..'", s)
		}
	}
	return nil
}

// PreviewInterval returns the delay between two preview frames.
func (c *Config) PreviewInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.PreviewFPS)
}

// CaptureTimeout returns how long a capture waits for a frame.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// ButtonDebounce returns the shutter button debounce window.
func (c *Config) ButtonDebounce() time.Duration {
	return time.Duration(c.Button.DebounceMs) * time.Millisecond
}

// LampHold returns how long the capture lamp stays on per blink.
func (c *Config) LampHold() time.Duration {
	return time.Duration(c.Lamp.HoldMs) * time.Millisecond
}

// InMemoryCallback reports whether captures also issue the decode-only callback.
func (c *Config) InMemoryCallback() bool {
	return c.Capture.InMemoryCallback == nil || *c.Capture.InMemoryCallback
}

// CameraFormat returns the requested stream format.
func (c *Config) CameraFormat() camera.Format {
	return camera.Format{Width: c.Camera.Width, Height: c.Camera.Height, FPS: c.Camera.PreviewFPS}
}

// CameraSettings returns the configured devices.
func (c *Config) CameraSettings() []camera.Settings {
	settings := make([]camera.Settings, 0, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		facing, _ := camera.ParseFacing(d.Facing) // validated by Load
		settings = append(settings, camera.Settings{ID: d.ID, Facing: facing, Path: d.Path, Command: d.Command})
	}
	return settings
}

// DevicePaths returns the device nodes of the configured cameras.
func (c *Config) DevicePaths() []string {
	var paths []string
	for _, d := range c.Camera.Devices {
		if d.Path != "" {
			paths = append(paths, d.Path)
		}
	}
	return paths
}
