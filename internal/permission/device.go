package permission

import (
	"context"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Device is a Platform backed by file permissions: a capability is granted
// iff every node mapped to it is readable and writable by the process.
// There is no dialog; Request reports the current status.
type Device struct {
	nodes map[Capability][]string
}

// NewDevice maps capabilities to device nodes.
func NewDevice(nodes map[Capability][]string) *Device {
	return &Device{nodes: nodes}
}

func (d *Device) Status(c Capability) State {
	paths, ok := d.nodes[c]
	if !ok || len(paths) == 0 {
		return Denied
	}
	for _, p := range paths {
		if err := accessible(p); err != nil {
			debug.Verbose("Permission: %s not accessible: %v", p, err)
			return Denied
		}
	}
	return Granted
}

func (d *Device) Request(ctx context.Context, caps []Capability, done func(map[Capability]State)) {
	go func() {
		states := make(map[Capability]State, len(caps))
		for _, c := range caps {
			states[c] = d.Status(c)
		}
		if ctx.Err() == nil {
			done(states)
		}
	}()
}
