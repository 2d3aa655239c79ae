// Package clock abstracts wall-clock reads so schedule computations can be
// driven deterministically in tests. Production code injects Real with the
// configured timezone; tests inject Fixed.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current wall-clock time in its location.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type realClock struct {
	loc *time.Location
}

// Real returns a Clock backed by time.Now. A nil loc means time.Local.
func Real(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return realClock{loc: loc}
}

func (c realClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c realClock) Location() *time.Location { return c.loc }

// FixedClock always reports the same instant until Set or Advance is called.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// Fixed returns a FixedClock at t. The location of t is the clock location.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Location()
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// LoadLocation resolves an IANA zone name, falling back to time.Local on
// empty or unknown names. The returned error reports the fallback.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}
