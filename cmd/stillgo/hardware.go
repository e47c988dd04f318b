package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cjeanneret/StillGo/internal/config"
	"github.com/cjeanneret/StillGo/internal/debug"
	"github.com/cjeanneret/StillGo/internal/hw/button"
	"github.com/cjeanneret/StillGo/internal/hw/gpio"
	"github.com/cjeanneret/StillGo/internal/hw/indicator"
	"github.com/cjeanneret/StillGo/internal/logic/capture"
)

// shutter is pressed by the GPIO button.
type shutter interface {
	PressShutter() bool
}

// hardware holds the optional GPIO peripherals: the shutter button and the
// capture lamp. The zero set (both disabled) opens no GPIO driver.
type hardware struct {
	driver gpio.Driver
	button *button.Button
	lamp   *indicator.Lamp

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openHardware(cfg *config.Config) (*hardware, error) {
	hw := &hardware{}
	hw.ctx, hw.cancel = context.WithCancel(context.Background())
	if !cfg.Button.Enabled && !cfg.Lamp.Enabled {
		return hw, nil
	}

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO failed: %w", err)
	}
	hw.driver = g

	if cfg.Button.Enabled {
		debug.Step(2, "Initializing shutter button")
		hw.button, err = button.New(g, button.Config{
			Pin:       cfg.Button.Pin,
			ActiveLow: cfg.Button.ActiveLow,
			Debounce:  cfg.ButtonDebounce(),
		})
		if err != nil {
			hw.Close()
			return nil, fmt.Errorf("init button failed: %w", err)
		}
		debug.PrintStruct("Button config", cfg.Button)
	}

	if cfg.Lamp.Enabled {
		debug.Step(3, "Initializing capture lamp")
		hw.lamp, err = indicator.New(g, cfg.Lamp.Pin, cfg.Lamp.ActiveLow, cfg.LampHold())
		if err != nil {
			hw.Close()
			return nil, fmt.Errorf("init lamp failed: %w", err)
		}
		debug.PrintStruct("Lamp config", cfg.Lamp)
	}
	return hw, nil
}

// watchButton presses s on every button press until Close.
func (hw *hardware) watchButton(s shutter) {
	if hw.button == nil {
		return
	}
	hw.wg.Go(func() {
		err := hw.button.Watch(hw.ctx, func() {
			if !s.PressShutter() {
				debug.Verbose("Button: no live screen")
			}
		})
		if err != nil && hw.ctx.Err() == nil {
			debug.Errorf("button watch: %v", err)
		}
	})
}

// report blinks the lamp for a capture outcome: once when saved, three
// times on failure. It does not block.
func (hw *hardware) report(o capture.Outcome) {
	if hw.lamp == nil {
		return
	}
	n := 1
	if !o.OK() {
		n = 3
	}
	hw.wg.Go(func() {
		if err := hw.lamp.Blink(hw.ctx, n); err != nil && hw.ctx.Err() == nil {
			debug.Errorf("lamp: %v", err)
		}
	})
}

// Close stops the button watcher, switches the lamp off and releases the
// GPIO driver.
func (hw *hardware) Close() {
	hw.cancel()
	hw.wg.Wait()
	if hw.lamp != nil {
		if err := hw.lamp.Off(); err != nil {
			log.Printf("switching lamp off failed: %v", err)
		}
	}
	if hw.driver != nil {
		if err := hw.driver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
}
