// Package history keeps a log of schedule firings for diagnostics.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"ontime/internal/model"
)

var ErrDisabled = errors.New("history disabled")

// DefaultLimit caps Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

// Store is the persistence API used by automations and the web API.
type Store interface {
	Record(ctx context.Context, f model.Firing) error
	// Recent returns the newest firings first. An empty scheduleID matches
	// every schedule.
	Recent(ctx context.Context, scheduleID string, limit int) ([]model.Firing, error)
	// Prune deletes firings older than the cutoff and reports how many went.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open returns the sqlite store at path, or Nop when path is empty.
func Open(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return Nop{}, nil
	}
	return OpenSQLite(path)
}

// Nop discards firings. Reads report ErrDisabled.
type Nop struct{}

func (Nop) Record(context.Context, model.Firing) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]model.Firing, error) {
	return nil, ErrDisabled
}

func (Nop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (Nop) Close() error { return nil }
