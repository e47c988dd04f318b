package web

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cjeanneret/StillGo/internal/permission"
)

// ErrNoPendingQuestion is returned by Answer when nothing is being asked.
var ErrNoPendingQuestion = errors.New("no pending permission question")

// ConsentPrompter asks for permissions through the page: the question goes
// out as a "permission" event and the answer comes back on POST /permission.
type ConsentPrompter struct {
	broadcaster *StatusBroadcaster

	mu      sync.Mutex
	pending chan bool
	caps    []permission.Capability
}

// NewConsentPrompter returns a prompter publishing on b.
func NewConsentPrompter(b *StatusBroadcaster) *ConsentPrompter {
	return &ConsentPrompter{broadcaster: b}
}

// Ask publishes the question and waits for an answer or ctx.
func (p *ConsentPrompter) Ask(ctx context.Context, caps []permission.Capability) (bool, error) {
	answer := make(chan bool, 1)
	p.mu.Lock()
	p.pending = answer
	p.caps = caps
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == answer {
			p.pending = nil
			p.caps = nil
		}
		p.mu.Unlock()
	}()

	p.broadcaster.Emit(KindPermission, "info", "Allow StillGo to access: "+joinCaps(caps))

	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Answer resolves the pending question.
func (p *ConsentPrompter) Answer(granted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return ErrNoPendingQuestion
	}
	p.pending <- granted
	p.pending = nil
	p.caps = nil
	return nil
}

// Pending returns the capabilities being asked for, or nil.
func (p *ConsentPrompter) Pending() []permission.Capability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]permission.Capability(nil), p.caps...)
}

func joinCaps(caps []permission.Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
