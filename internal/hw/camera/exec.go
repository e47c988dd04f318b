package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Exec is a Device backed by an external process writing an MJPEG stream
// to stdout (rpicam-vid, libcamera-vid, ffmpeg). A persistent process
// avoids restarting the camera hardware for every frame.
type Exec struct {
	info    Info
	command []string
	store   frameStore

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExec creates an exec-backed device. An empty Command picks
// rpicam-vid (or libcamera-vid on older systems) with the given format.
// "{width}", "{height}", "{fps}" and "{device}" placeholders in the command
// are substituted.
func NewExec(s Settings, format Format) (*Exec, error) {
	command := s.Command
	if len(command) == 0 {
		name, err := findLibcameraVid()
		if err != nil {
			return nil, err
		}
		command = []string{
			name,
			"--width", "{width}",
			"--height", "{height}",
			"--timeout", "0", // run indefinitely
			"--nopreview",
			"--codec", "mjpeg",
			"--output", "-",
			"--framerate", "{fps}",
		}
	}

	r := strings.NewReplacer(
		"{width}", strconv.Itoa(format.Width),
		"{height}", strconv.Itoa(format.Height),
		"{fps}", strconv.Itoa(format.FPS),
		"{device}", s.Path,
	)
	expanded := make([]string, len(command))
	for i, arg := range command {
		expanded[i] = r.Replace(arg)
	}

	return &Exec{
		info:    Info{ID: s.ID, Facing: s.Facing, Path: expanded[0]},
		command: expanded,
	}, nil
}

// findLibcameraVid picks rpicam-vid on newer OS images, libcamera-vid on older ones.
func findLibcameraVid() (string, error) {
	for _, name := range []string{"rpicam-vid", "libcamera-vid"} {
		if _, err := exec.LookPath(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("neither rpicam-vid nor libcamera-vid found")
}

func (e *Exec) Info() Info { return e.info }

// Command returns the expanded command line.
func (e *Exec) Command() []string { return append([]string(nil), e.command...) }

func (e *Exec) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return fmt.Errorf("camera %s is already streaming", e.info.ID)
	}

	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", e.command[0], err)
	}
	e.cmd = cmd
	e.store.reset()
	debug.Verbose("Camera %s: started streaming process %v", e.info.ID, e.command)

	go func() {
		if err := pumpMJPEG(stdout, &e.store); err != nil {
			debug.Trace("Camera %s: stream read ended: %v", e.info.ID, err)
		}
	}()

	go func() {
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			debug.Errorf("camera %s: streaming process exited: %v, stderr: %s", e.info.ID, err, stderr.String())
		} else {
			debug.Verbose("Camera %s: streaming process exited", e.info.ID)
		}
		e.mu.Lock()
		if e.cmd == cmd {
			e.cmd = nil
		}
		e.mu.Unlock()
	}()
	return nil
}

func (e *Exec) Stop() error {
	e.mu.Lock()
	cmd := e.cmd
	e.cmd = nil
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop camera %s: %w", e.info.ID, err)
	}
	return nil
}

func (e *Exec) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd != nil
}

func (e *Exec) Frame() (Frame, error) {
	if !e.IsStreaming() {
		return Frame{}, ErrNotStreaming
	}
	return e.store.get()
}
