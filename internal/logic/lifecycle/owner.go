package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Lifecycle states of an Owner.
const (
	StateInitialized = "initialized"
	StateCreated     = "created"
	StateDestroyed   = "destroyed"
)

const (
	eventCreate  = "create"
	eventDestroy = "destroy"
)

// Owner is the lifetime a resource can be bound to (a screen). Its Context
// is the lifetime token: cancelled when the owner is destroyed. Observers
// registered with OnDestroy run exactly once, in reverse registration order.
type Owner struct {
	name string
	fsm  *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	nextID    int
	observers map[int]func()
	order     []int
}

// NewOwner returns an owner in the initialized state.
func NewOwner(name string) *Owner {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Owner{
		name:      name,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func()),
	}
	o.fsm = fsm.NewFSM(
		StateInitialized,
		fsm.Events{
			{Name: eventCreate, Src: []string{StateInitialized}, Dst: StateCreated},
			{Name: eventDestroy, Src: []string{StateInitialized, StateCreated}, Dst: StateDestroyed},
		},
		fsm.Callbacks{
			"enter_" + StateDestroyed: func(_ context.Context, _ *fsm.Event) {
				o.cancel()
				o.notifyDestroyed()
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				debug.Verbose("Lifecycle %s: %s -> %s", o.name, e.Src, e.Dst)
			},
		},
	)
	return o
}

// Name returns the owner name.
func (o *Owner) Name() string { return o.name }

// State returns the current lifecycle state.
func (o *Owner) State() string { return o.fsm.Current() }

// Context returns the lifetime token.
func (o *Owner) Context() context.Context { return o.ctx }

// IsDestroyed reports whether Destroy ran.
func (o *Owner) IsDestroyed() bool { return o.fsm.Is(StateDestroyed) }

// Create moves the owner to the created state.
func (o *Owner) Create() error {
	if err := o.fsm.Event(context.Background(), eventCreate); err != nil {
		return fmt.Errorf("lifecycle %s: create: %w", o.name, err)
	}
	return nil
}

// Destroy ends the owner's lifetime. Destroying twice is a no-op.
func (o *Owner) Destroy() {
	err := o.fsm.Event(context.Background(), eventDestroy)
	if err == nil {
		return
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return // already destroyed
	}
	debug.Errorf("lifecycle %s: destroy: %v", o.name, err)
}

// OnDestroy registers fn to run when the owner is destroyed. If the owner
// is already destroyed fn runs immediately. The returned function removes
// the registration.
func (o *Owner) OnDestroy(fn func()) (remove func()) {
	o.mu.Lock()
	if o.IsDestroyed() {
		o.mu.Unlock()
		fn()
		return func() {}
	}
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.order = append(o.order, id)
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

func (o *Owner) notifyDestroyed() {
	o.mu.Lock()
	var fns []func()
	for i := len(o.order) - 1; i >= 0; i-- {
		if fn, ok := o.observers[o.order[i]]; ok {
			fns = append(fns, fn)
		}
	}
	o.observers = make(map[int]func())
	o.order = nil
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
