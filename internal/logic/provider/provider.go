package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/StillGo/internal/async"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/camera"
	"github.com/cjeanneret/StillGo/internal/logic/lifecycle"
)

var (
	// ErrAcquisition wraps every failure to obtain a provider.
	ErrAcquisition = errors.New("camera provider acquisition failed")
	// ErrNoCamera is returned when no device matches (or none exists).
	ErrNoCamera = errors.New("no camera available")
	// ErrNotBound is returned by captures on a use case that is not bound.
	ErrNotBound = errors.New("use case not bound to a camera")
	// ErrOwnerDestroyed is returned when binding to a destroyed lifecycle owner.
	ErrOwnerDestroyed = errors.New("lifecycle owner destroyed")
)

// Backend enumerates the camera devices.
type Backend interface {
	Devices(ctx context.Context) ([]camera.Device, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context) ([]camera.Device, error)

func (f BackendFunc) Devices(ctx context.Context) ([]camera.Device, error) { return f(ctx) }

// Acquire obtains the process camera provider on worker. The future is
// rejected (wrapping ErrAcquisition) when the backend fails, reports no
// device, the worker is shut down or ctx ends first.
func Acquire(ctx context.Context, backend Backend, worker async.Executor) *async.Future[*Provider] {
	f := async.NewFuture[*Provider]()

	stop := context.AfterFunc(ctx, func() {
		if f.Reject(fmt.Errorf("%w: %w", ErrAcquisition, context.Cause(ctx))) {
			debug.Verbose("Provider: acquisition interrupted")
		}
	})

	accepted := worker.Execute(func() {
		defer stop()
		if ctx.Err() != nil {
			return
		}
		devices, err := backend.Devices(ctx)
		if err != nil {
			f.Reject(fmt.Errorf("%w: %w", ErrAcquisition, err))
			return
		}
		if len(devices) == 0 {
			f.Reject(fmt.Errorf("%w: %w", ErrAcquisition, ErrNoCamera))
			return
		}
		debug.Verbose("Provider: acquired %d camera(s)", len(devices))
		f.Resolve(New(devices))
	})
	if !accepted {
		stop()
		f.Reject(fmt.Errorf("%w: %w", ErrAcquisition, async.ErrShutdown))
	}
	return f
}

// Camera is a device bound to a lifecycle.
type Camera struct {
	device camera.Device
}

// Info describes the bound device.
func (c *Camera) Info() camera.Info { return c.device.Info() }

// UseCase is a stream configuration that can be bound to a camera.
type UseCase interface {
	Name() string
	attach(ctx context.Context, dev camera.Device)
	detach()
}

type binding struct {
	owner    *lifecycle.Owner
	camera   *Camera
	useCases []UseCase
	ctx      context.Context
	cancel   context.CancelFunc
	unwatch  func()
}

func (b *binding) attach(useCases []UseCase) {
	for _, uc := range useCases {
		if !containsUseCase(b.useCases, uc) {
			uc.attach(b.ctx, b.camera.device)
			b.useCases = append(b.useCases, uc)
		}
	}
}

// Provider hands out cameras and binds use cases to lifecycle owners. At
// most one camera is bound at a time.
type Provider struct {
	devices []camera.Device

	mu      sync.Mutex
	current *binding
}

// New returns a provider over devices.
func New(devices []camera.Device) *Provider {
	return &Provider{devices: devices}
}

// Devices returns the info of every known device.
func (p *Provider) Devices() []camera.Info {
	infos := make([]camera.Info, len(p.devices))
	for i, d := range p.devices {
		infos[i] = d.Info()
	}
	return infos
}

// BindToLifecycle selects a camera, starts it and attaches useCases. The
// camera stays bound until UnbindAll or until owner is destroyed. Binding
// more use cases to the same owner and camera adds them to the binding.
func (p *Provider) BindToLifecycle(owner *lifecycle.Owner, selector Selector, useCases ...UseCase) (*Camera, error) {
	if owner.IsDestroyed() {
		return nil, ErrOwnerDestroyed
	}
	dev, err := selector.Select(p.devices)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if b := p.current; b != nil {
		defer p.mu.Unlock()
		if b.owner != owner || b.camera.device != dev {
			return nil, fmt.Errorf("camera %s already bound to %s", b.camera.Info().ID, b.owner.Name())
		}
		b.attach(useCases)
		debug.Bind(dev.Info().ID, len(b.useCases), true)
		return b.camera, nil
	}

	ctx, cancel := context.WithCancel(owner.Context())
	if !dev.IsStreaming() {
		if err := dev.Start(ctx); err != nil {
			p.mu.Unlock()
			cancel()
			return nil, fmt.Errorf("start camera %s: %w", dev.Info().ID, err)
		}
	}
	b := &binding{owner: owner, camera: &Camera{device: dev}, ctx: ctx, cancel: cancel}
	b.attach(useCases)
	p.current = b
	n := len(b.useCases)
	p.mu.Unlock()

	// Registered unlocked: a destroyed owner runs the observer right away.
	unwatch := owner.OnDestroy(func() {
		debug.Verbose("Provider: owner %s destroyed, unbinding", owner.Name())
		p.unbind(b)
	})
	p.mu.Lock()
	bound := p.current == b
	if bound {
		b.unwatch = unwatch
	}
	p.mu.Unlock()
	if !bound {
		unwatch()
		if owner.IsDestroyed() {
			return nil, ErrOwnerDestroyed
		}
	}

	debug.Bind(dev.Info().ID, n, true)
	return b.camera, nil
}

// UnbindAll detaches every bound use case and stops the camera. Calling it
// with nothing bound is a no-op.
func (p *Provider) UnbindAll() {
	p.mu.Lock()
	b := p.current
	p.mu.Unlock()
	if b != nil {
		p.unbind(b)
	}
}

func (p *Provider) unbind(b *binding) {
	p.mu.Lock()
	if p.current != b {
		p.mu.Unlock()
		return
	}
	p.current = nil
	unwatch := b.unwatch
	p.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	for i := len(b.useCases) - 1; i >= 0; i-- {
		b.useCases[i].detach()
	}
	b.cancel()
	if err := b.camera.device.Stop(); err != nil {
		debug.Errorf("provider: stop camera %s: %v", b.camera.Info().ID, err)
	}
	debug.Bind(b.camera.Info().ID, 0, false)
}

// BoundUseCases returns the use cases of the current binding.
func (p *Provider) BoundUseCases() []UseCase {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return append([]UseCase(nil), p.current.useCases...)
}

// IsBound reports whether uc is part of the current binding.
func (p *Provider) IsBound(uc UseCase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && containsUseCase(p.current.useCases, uc)
}

func containsUseCase(list []UseCase, uc UseCase) bool {
	for _, u := range list {
		if u == uc {
			return true
		}
	}
	return false
}
