package main

import (
	"context"
	"log/slog"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	BUTTON_DEBOUNCE_TIME = 50 * time.Millisecond
	LONG_PRESS_TIME      = time.Second
)

type buttonAction int

const (
	actionNone buttonAction = iota
	actionNext
	actionClear
)

// buttonTarget is what a physical button drives.
type buttonTarget interface {
	Next() bool
	Clear() error
}

// pressTracker turns press and release edges into actions. A short press
// skips to the next slide, a long one clears the panels.
type pressTracker struct {
	pressedAt time.Time
	down      bool
}

func (p *pressTracker) press(now time.Time) {
	if p.down {
		return
	}
	p.down = true
	p.pressedAt = now
}

func (p *pressTracker) release(now time.Time) buttonAction {
	if !p.down {
		return actionNone
	}
	p.down = false
	held := now.Sub(p.pressedAt)
	switch {
	case held < BUTTON_DEBOUNCE_TIME:
		return actionNone
	case held >= LONG_PRESS_TIME:
		return actionClear
	default:
		return actionNext
	}
}

func dispatch(target buttonTarget, action buttonAction, source string) {
	switch action {
	case actionNext:
		skipped := target.Next()
		slog.Info("button: next", "source", source, "skipped", skipped)
	case actionClear:
		if err := target.Clear(); err != nil {
			slog.Warn("button: clear failed", "source", source, "error", err)
			return
		}
		slog.Info("button: clear", "source", source)
	}
}

// watchGPIOButton waits for edges on an active-low button wired to pin.
func watchGPIOButton(ctx context.Context, pinName string, target buttonTarget) error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph host init")
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return errors.Errorf("gpio pin %s not found", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return errors.Wrapf(err, "configure %s", pinName)
	}
	slog.Info("watching gpio button", "pin", pin.Name())

	var tracker pressTracker
	for ctx.Err() == nil {
		if !pin.WaitForEdge(500 * time.Millisecond) {
			continue
		}
		now := time.Now()
		if pin.Read() == gpio.Low {
			tracker.press(now)
			continue
		}
		dispatch(target, tracker.release(now), "gpio")
	}
	pin.Halt()
	return nil
}

// watchKeyDevice reads key events from the evdev device called name.
func watchKeyDevice(ctx context.Context, name string, code int, target buttonTarget) error {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return errors.Wrap(err, "list input devices")
	}

	var devPath string
	for _, ip := range paths {
		if ip.Name == name {
			devPath = ip.Path
			break
		}
	}
	if devPath == "" {
		return errors.Errorf("input device %q not found", name)
	}

	dev, err := evdev.Open(devPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", devPath)
	}
	if err := dev.Grab(); err != nil {
		slog.Warn("failed to grab input device", "path", devPath, "error", err)
	}
	stop := context.AfterFunc(ctx, func() {
		dev.Ungrab()
		dev.Close()
	})
	defer stop()

	key := evdev.EvCode(code)
	if code == 0 {
		key = evdev.KEY_ENTER
	}
	slog.Info("watching input device", "path", devPath, "name", name, "code", int(key))

	var tracker pressTracker
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("input read error", "error", err)
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return nil
			}
			continue
		}
		if ev.Type != evdev.EV_KEY || ev.Code != key {
			continue
		}
		switch ev.Value {
		case 1:
			tracker.press(time.Now())
		case 0:
			dispatch(target, tracker.release(time.Now()), "key")
		}
	}
}
