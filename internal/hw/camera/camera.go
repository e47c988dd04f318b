package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoFrame is returned when a device has no frame to hand out yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrNotStreaming is returned when a frame is requested from a stopped device.
	ErrNotStreaming = errors.New("camera is not streaming")
)

// Facing is the direction a camera lens points to.
type Facing int

const (
	FacingUnknown Facing = iota
	FacingBack
	FacingFront
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseFacing converts a config value ("back", "front", "external").
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "rear":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	case "external":
		return FacingExternal, nil
	default:
		return FacingUnknown, fmt.Errorf("unknown camera facing: %q", s)
	}
}

// Info describes a camera device.
type Info struct {
	ID     string
	Facing Facing
	Path   string // device node or command, informational
}

// Frame is a single encoded image.
type Frame struct {
	Data   []byte // JPEG bytes
	Width  int
	Height int
	Time   time.Time
}

// Device is the high-level interface used by the camera framework.
// It represents an abstract streaming camera, regardless of how it's
// driven (V4L2, external process, synthetic).
type Device interface {
	Info() Info
	// Start begins streaming. ctx bounds the stream's lifetime.
	Start(ctx context.Context) error
	// Frame returns the latest frame. Safe for concurrent use.
	Frame() (Frame, error)
	// Stop ends streaming. Stopping a stopped device is a no-op.
	Stop() error
	IsStreaming() bool
}

// Settings is the configuration of a single device.
type Settings struct {
	ID      string
	Facing  Facing
	Path    string
	Command []string
}

// Format is the requested stream format.
type Format struct {
	Width  int
	Height int
	FPS    int
}

// NewDevices builds the devices for a backend ("synthetic", "exec", "v4l2").
func NewDevices(backend string, format Format, settings []Settings) ([]Device, error) {
	if format.Width <= 0 {
		format.Width = 640
	}
	if format.Height <= 0 {
		format.Height = 480
	}
	if format.FPS <= 0 {
		format.FPS = 30
	}

	devices := make([]Device, 0, len(settings))
	for _, s := range settings {
		switch backend {
		case "synthetic":
			devices = append(devices, NewSynthetic(s, format))
		case "exec":
			d, err := NewExec(s, format)
			if err != nil {
				return nil, err
			}
			devices = append(devices, d)
		case "v4l2":
			d, err := NewV4L2(s, format)
			if err != nil {
				return nil, err
			}
			devices = append(devices, d)
		default:
			return nil, fmt.Errorf("unsupported camera backend: %s", backend)
		}
	}
	return devices, nil
}

func copyFrame(f Frame) Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}
