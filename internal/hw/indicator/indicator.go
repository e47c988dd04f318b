package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/gpio"
)

// Lamp is a capture lamp (LED, or the trigger line of an external flash)
// on a GPIO output.
//
// Blink sequence, repeated n times:
// 1. line to active level
// 2. hold
// 3. line back to inactive level
// 4. hold
type Lamp struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
	hold      time.Duration

	mu sync.Mutex // one blink sequence at a time
}

// New configures pin as an output and switches the lamp off.
// A zero hold defaults to 100ms.
func New(g gpio.Driver, pin int, activeLow bool, hold time.Duration) (*Lamp, error) {
	if hold <= 0 {
		hold = 100 * time.Millisecond
	}
	l := &Lamp{gpio: g, pin: pin, activeLow: activeLow, hold: hold}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, l.level(false)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lamp) level(on bool) gpio.Level {
	if l.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// Blink flashes the lamp n times. The lamp is left off, also when ctx is
// cancelled mid-sequence.
func (l *Lamp) Blink(ctx context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	debug.Verbose("Lamp: blinking %d time(s) (pin %d)", n, l.pin)
	for i := 0; i < n; i++ {
		if err := l.gpio.WritePin(l.pin, l.level(true)); err != nil {
			return err
		}
		if err := sleep(ctx, l.hold); err != nil {
			_ = l.gpio.WritePin(l.pin, l.level(false))
			return err
		}
		if err := l.gpio.WritePin(l.pin, l.level(false)); err != nil {
			return err
		}
		if i < n-1 {
			if err := sleep(ctx, l.hold); err != nil {
				return err
			}
		}
	}
	return nil
}

// Off switches the lamp off.
func (l *Lamp) Off() error {
	return l.gpio.WritePin(l.pin, l.level(false))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
