package button

import (
	"context"
	"time"

	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/gpio"
)

// Config holds the hardware configuration for a push-button.
type Config struct {
	Pin          int
	ActiveLow    bool          // button wired to GND with pull-up: pressed = LOW
	Debounce     time.Duration // level must stay stable this long to count
	PollInterval time.Duration // delay between two pin reads
}

// Button turns a GPIO input into press events.
// A press is reported once per transition to the active level.
type Button struct {
	gpio gpio.Driver
	cfg  Config
}

// New configures the pin as input (with pull-up when active low).
// Zero Debounce defaults to 50ms, zero PollInterval to 10ms.
func New(g gpio.Driver, cfg Config) (*Button, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	if err := g.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, err
	}
	pull := gpio.PullDown
	if cfg.ActiveLow {
		pull = gpio.PullUp
	}
	if err := g.SetPull(cfg.Pin, pull); err != nil {
		return nil, err
	}

	return &Button{gpio: g, cfg: cfg}, nil
}

func (b *Button) activeLevel() gpio.Level {
	if b.cfg.ActiveLow {
		return gpio.Low
	}
	return gpio.High
}

// Watch polls the pin until ctx is done and calls onPress for every
// debounced press. Read errors are logged and polling continues.
func (b *Button) Watch(ctx context.Context, onPress func()) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	active := b.activeLevel()
	pressed := false
	var candidate gpio.Level
	var candidateSince time.Time
	haveCandidate := false

	debug.Verbose("Button: watching pin %d (active %v)", b.cfg.Pin, active)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			level, err := b.gpio.ReadPin(b.cfg.Pin)
			if err != nil {
				debug.Errorf("button: read pin %d: %v", b.cfg.Pin, err)
				continue
			}

			if !haveCandidate || level != candidate {
				candidate = level
				candidateSince = now
				haveCandidate = true
				continue
			}
			if now.Sub(candidateSince) < b.cfg.Debounce {
				continue
			}

			isActive := candidate == active
			if isActive && !pressed {
				pressed = true
				debug.Live("Button: pin %d pressed", b.cfg.Pin)
				onPress()
			} else if !isActive && pressed {
				pressed = false
				debug.Trace("Button: pin %d released", b.cfg.Pin)
			}
		}
	}
}
