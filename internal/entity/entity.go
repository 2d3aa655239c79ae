// Package entity provides the user-adjustable input sources a schedule is
// derived from: numeric entities (hour, minute) and boolean switches
// (weekday flags, disable toggle).
//
// Each entity keeps its current state and a list of change callbacks.
// Callbacks for one entity are dispatched serially, in registration order,
// and never while the state lock is held, so a callback may read any
// entity's State.
package entity

import (
	"fmt"
	"math"
	"sync"
)

// NumberSource is a numeric input with change notifications.
type NumberSource interface {
	Name() string
	State() float64
	AddOnStateCallback(func(float64))
}

// BooleanSource is a boolean input with change notifications.
type BooleanSource interface {
	Name() string
	State() bool
	AddOnStateCallback(func(bool))
}

// Traits bound the values a Number accepts.
type Traits struct {
	Min  float64
	Max  float64
	Step float64
}

// Number is an in-memory NumberSource.
type Number struct {
	name   string
	traits Traits

	mu    sync.RWMutex
	state float64

	// dispatchMu serializes publishing so callbacks observe states in order.
	dispatchMu sync.Mutex
	cbMu       sync.Mutex
	callbacks  []func(float64)
}

// NewNumber creates a Number with the initial value clamped to traits.
func NewNumber(name string, traits Traits, initial float64) *Number {
	n := &Number{name: name, traits: traits}
	n.state = n.clamp(initial)
	return n
}

func (n *Number) Name() string { return n.name }

func (n *Number) Traits() Traits { return n.traits }

func (n *Number) State() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Number) AddOnStateCallback(cb func(float64)) {
	if cb == nil {
		return
	}
	n.cbMu.Lock()
	n.callbacks = append(n.callbacks, cb)
	n.cbMu.Unlock()
}

// Validate reports whether Publish would accept v.
func (n *Number) Validate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("entity: %s: value is not finite", n.name)
	}
	if v < n.traits.Min || v > n.traits.Max {
		return fmt.Errorf("entity: %s: value %v outside [%v, %v]", n.name, v, n.traits.Min, n.traits.Max)
	}
	return nil
}

// Publish validates v against the traits, stores it and notifies callbacks.
// Callbacks run even when the value is unchanged.
func (n *Number) Publish(v float64) error {
	if err := n.Validate(v); err != nil {
		return err
	}
	v = n.clamp(v)

	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	n.state = v
	n.mu.Unlock()

	for _, cb := range n.snapshotCallbacks() {
		cb(v)
	}
	return nil
}

func (n *Number) snapshotCallbacks() []func(float64) {
	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	return append([]func(float64){}, n.callbacks...)
}

// clamp bounds v to the traits and snaps it to the step grid.
func (n *Number) clamp(v float64) float64 {
	t := n.traits
	if t.Max < t.Min {
		return v
	}
	if v < t.Min {
		v = t.Min
	}
	if v > t.Max {
		v = t.Max
	}
	if t.Step > 0 {
		v = t.Min + math.Round((v-t.Min)/t.Step)*t.Step
		if v > t.Max {
			v -= t.Step
		}
	}
	return v
}

// Switch is an in-memory BooleanSource.
type Switch struct {
	name string

	mu    sync.RWMutex
	state bool

	dispatchMu sync.Mutex
	cbMu       sync.Mutex
	callbacks  []func(bool)
}

func NewSwitch(name string, initial bool) *Switch {
	return &Switch{name: name, state: initial}
}

func (s *Switch) Name() string { return s.name }

func (s *Switch) State() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Switch) AddOnStateCallback(cb func(bool)) {
	if cb == nil {
		return
	}
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.cbMu.Unlock()
}

// Publish stores v and notifies callbacks.
func (s *Switch) Publish(v bool) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.state = v
	s.mu.Unlock()

	s.cbMu.Lock()
	cbs := append([]func(bool){}, s.callbacks...)
	s.cbMu.Unlock()
	for _, cb := range cbs {
		cb(v)
	}
}

func (s *Switch) TurnOn()  { s.Publish(true) }
func (s *Switch) TurnOff() { s.Publish(false) }

func (s *Switch) Toggle() { s.Publish(!s.State()) }
