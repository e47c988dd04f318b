package permission

import (
	"context"
	"errors"
	"sync"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
)

var (
	// ErrDenied reports that at least one required capability was refused.
	ErrDenied = errors.New("permission denied")
	// ErrAlreadyRequested is returned by a second RequestGrant on the same gate.
	ErrAlreadyRequested = errors.New("permission already requested")
)

// Capability is a runtime capability the process must be granted.
type Capability string

// Camera is access to the camera device.
const Camera Capability = "camera"

// Required lists the capabilities the camera screen needs.
var Required = []Capability{Camera}

// State is the grant state of a capability.
type State int

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Platform answers capability checks and runs the consent flow.
type Platform interface {
	// Status returns the current grant state without prompting.
	Status(c Capability) State
	// Request asks for caps and calls done once with the resulting states.
	// done is not called when ctx is cancelled first.
	Request(ctx context.Context, caps []Capability, done func(map[Capability]State))
}

// Gate checks and requests capabilities for one screen start. A gate
// requests at most once; a new screen builds a new gate.
type Gate struct {
	platform Platform
	main     async.Executor

	mu        sync.Mutex
	requested bool
}

// NewGate returns a gate delivering results on main.
func NewGate(p Platform, main async.Executor) *Gate {
	return &Gate{platform: p, main: main}
}

// IsGranted reports whether every capability is granted. An empty set is granted.
func (g *Gate) IsGranted(caps ...Capability) bool {
	for _, c := range caps {
		state := g.platform.Status(c)
		debug.Permission(string(c), state)
		if state != Granted {
			return false
		}
	}
	return true
}

// RequestGrant starts the consent flow for caps. onResult runs once on the
// main executor with true iff every capability ended up granted.
func (g *Gate) RequestGrant(ctx context.Context, caps []Capability, onResult func(granted bool)) error {
	g.mu.Lock()
	if g.requested {
		g.mu.Unlock()
		return ErrAlreadyRequested
	}
	g.requested = true
	g.mu.Unlock()

	debug.Verbose("Permission: requesting %v", caps)
	g.platform.Request(ctx, caps, func(states map[Capability]State) {
		granted := true
		for _, c := range caps {
			debug.Permission(string(c), states[c])
			if states[c] != Granted {
				granted = false
			}
		}
		if !g.main.Execute(func() { onResult(granted) }) {
			debug.Verbose("Permission: result dropped, main executor is shut down")
		}
	})
	return nil
}

// GrantAll grants every capability. Used headless and in development.
type GrantAll struct{}

func (GrantAll) Status(Capability) State { return Granted }

func (GrantAll) Request(ctx context.Context, caps []Capability, done func(map[Capability]State)) {
	states := make(map[Capability]State, len(caps))
	for _, c := range caps {
		states[c] = Granted
	}
	go func() {
		if ctx.Err() == nil {
			done(states)
		}
	}()
}
