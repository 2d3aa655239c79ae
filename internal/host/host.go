// Package host owns the components of a running daemon and drives their
// lifecycle: setup in registration order, then dump_config on request.
package host

import (
	"fmt"
	"sync"

	appLog "ontime/internal/log"
)

// Component is anything the host sets up once and can describe.
type Component interface {
	ID() string
	Setup() error
	DumpConfig()
}

// Registry holds components in registration order.
type Registry struct {
	mu         sync.Mutex
	components []Component
	byID       map[string]Component
	setup      bool
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]Component{}}
}

// Register adds c. IDs must be unique. Components registered after Setup
// are set up immediately.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	if _, dup := r.byID[c.ID()]; dup {
		r.mu.Unlock()
		return fmt.Errorf("host: duplicate component id %q", c.ID())
	}
	r.components = append(r.components, c)
	r.byID[c.ID()] = c
	late := r.setup
	r.mu.Unlock()

	if late {
		return c.Setup()
	}
	return nil
}

// Setup sets up every registered component, stopping at the first error.
func (r *Registry) Setup() error {
	r.mu.Lock()
	comps := append([]Component(nil), r.components...)
	r.setup = true
	r.mu.Unlock()

	for _, c := range comps {
		if err := c.Setup(); err != nil {
			return fmt.Errorf("host: setup %s: %w", c.ID(), err)
		}
		appLog.Debug("component set up", "id", c.ID())
	}
	return nil
}

func (r *Registry) DumpConfig() {
	for _, c := range r.Components() {
		c.DumpConfig()
	}
}

func (r *Registry) Get(id string) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

func (r *Registry) Components() []Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Component(nil), r.components...)
}
