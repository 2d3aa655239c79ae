package model

import "time"

// Occurrence is one concrete instant at which a schedule fires.
type Occurrence struct {
	ScheduleID string
	Name       string

	// InstanceKey uniquely identifies the occurrence, derived from the local
	// fire time.
	InstanceKey string

	At time.Time
}

// Firing records one run of a schedule's actions.
type Firing struct {
	ID         int64
	ScheduleID string

	// Rule is the cron expression of the rule that fired.
	Rule string

	FiredAt  time.Time
	Took     time.Duration
	Actions  int
	Failures int
	// Error aggregates action errors; empty on success.
	Error string
}

// OK reports whether every action succeeded.
func (f Firing) OK() bool { return f.Failures == 0 }
