// Package gpio connects schedules to hardware through periph.io: a relay
// output pulsed by an action and a switch input mirrored into an entity.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"ontime/internal/entity"
	appLog "ontime/internal/log"
)

// ErrNoPin is returned by Open when the name does not resolve.
var ErrNoPin = errors.New("gpio: pin not found")

// pollInterval bounds how long Follow blocks in WaitForEdge before checking
// its context.
const pollInterval = 200 * time.Millisecond

var (
	initOnce sync.Once
	initErr  error

	// hostInit is replaced in tests so no drivers are probed.
	hostInit = func() error {
		_, err := host.Init()
		return err
	}
)

// Open initializes periph.io once and resolves a pin by name, e.g.
// "GPIO17" or a header position such as "P1_11".
func Open(name string) (gpio.PinIO, error) {
	initOnce.Do(func() {
		initErr = hostInit()
	})
	if initErr != nil {
		return nil, fmt.Errorf("gpio: periph host init failed: %w", initErr)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPin, name)
	}
	return p, nil
}

// Relay is an action that drives a pin high for Duration and then low
// again. The pin is always released, also when the context ends early.
type Relay struct {
	Pin      gpio.PinOut
	Duration time.Duration
}

func (r Relay) Name() string {
	if r.Pin == nil {
		return "gpio"
	}
	return "gpio:" + r.Pin.Name()
}

func (r Relay) Play(ctx context.Context) error {
	if r.Pin == nil {
		return errors.New("gpio: relay has no pin")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gpio: relay %s: %w", r.Pin.Name(), err)
	}
	if err := r.Pin.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio: relay %s: set high: %w", r.Pin.Name(), err)
	}

	var waitErr error
	if r.Duration > 0 {
		t := time.NewTimer(r.Duration)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			waitErr = ctx.Err()
		}
	}

	if err := r.Pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: relay %s: set low: %w", r.Pin.Name(), err)
	}
	if waitErr != nil {
		return fmt.Errorf("gpio: relay %s cut short: %w", r.Pin.Name(), waitErr)
	}
	return nil
}

// Follow mirrors pin into sw until ctx ends. The pin is configured as a
// pulled-up input, so a switch closing to ground reads Low; with activeLow
// set that Low means "on". The current level is published before the first
// edge is awaited.
func Follow(ctx context.Context, pin gpio.PinIn, sw *entity.Switch, activeLow bool) error {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("gpio: follow %s: %w", pin.Name(), err)
	}

	level := func() bool {
		l := pin.Read()
		if activeLow {
			return l == gpio.Low
		}
		return l == gpio.High
	}

	last := level()
	sw.Publish(last)
	appLog.Debug("gpio follow started", "pin", pin.Name(), "switch", sw.Name(), "on", last)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !pin.WaitForEdge(pollInterval) {
			continue
		}
		cur := level()
		if cur == last {
			continue
		}
		last = cur
		appLog.Info("gpio input changed", "pin", pin.Name(), "switch", sw.Name(), "on", cur)
		sw.Publish(cur)
	}
}
