package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"ontime/internal/action"
	"ontime/internal/clock"
	appLog "ontime/internal/log"
	"ontime/internal/model"
)

const defaultActionTimeout = 30 * time.Second

// Binder attaches a job to a schedule and detaches it again. *cron.Cron
// satisfies it.
type Binder interface {
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
	Remove(id cron.EntryID)
}

// Recorder persists firings for diagnostics.
type Recorder interface {
	Record(ctx context.Context, f model.Firing) error
}

// Automation runs a schedule's actions in order each time its rule matches.
// A new Automation is built on every rebuild, carrying the rule it was
// bound to.
type Automation struct {
	scheduleID string
	rule       Rule
	actions    []action.Action
	recorder   Recorder
	clock      clock.Clock
	timeout    time.Duration
}

var _ cron.Job = (*Automation)(nil)

// Rule returns the rule this automation was bound with.
func (a *Automation) Rule() Rule { return a.rule }

// Run implements cron.Job.
func (a *Automation) Run() {
	_ = a.Fire(context.Background())
}

// Fire plays every action, continuing past failures, and records the result.
func (a *Automation) Fire(ctx context.Context) model.Firing {
	timeout := a.timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := a.clock.Now()
	f := model.Firing{
		ScheduleID: a.scheduleID,
		Rule:       a.rule.CronSpec(),
		FiredAt:    start,
		Actions:    len(a.actions),
	}

	var errs []error
	for _, act := range a.actions {
		if err := act.Play(ctx); err != nil {
			f.Failures++
			errs = append(errs, err)
			appLog.Error("action failed", err, "schedule", a.scheduleID, "action", act.Name())
		}
	}
	f.Took = a.clock.Now().Sub(start)
	if err := errors.Join(errs...); err != nil {
		f.Error = err.Error()
	}

	appLog.Info("schedule fired",
		"schedule", a.scheduleID,
		"rule", f.Rule,
		"actions", f.Actions,
		"failures", f.Failures,
	)

	if a.recorder != nil {
		// Actions may have used up the deadline; recording gets its own.
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer rcancel()
		if err := a.recorder.Record(rctx, f); err != nil {
			appLog.Error("failed to record firing", err, "schedule", a.scheduleID)
		}
	}
	return f
}
