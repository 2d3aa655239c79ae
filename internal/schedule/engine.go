// Package schedule turns a sparse weekly description (hour, minute, active
// weekdays, disable flag) into a cron rule bound to a set of actions, and
// answers when that rule fires next.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ontime/internal/action"
	"ontime/internal/clock"
	"ontime/internal/entity"
	appLog "ontime/internal/log"
)

// Config is a snapshot of the schedule inputs.
type Config struct {
	Hour   int
	Minute int
	// Days holds the weekday flags in Monday-first order.
	Days     [7]bool
	Disabled bool
}

// DaysOfWeek translates the weekday flags to internal weekday numbers.
func (c Config) DaysOfWeek() []uint8 {
	d := c.Days
	return FlagsToDaysOfWeek(d[0], d[1], d[2], d[3], d[4], d[5], d[6])
}

// Rule is the normalized recurrence derived from a Config. Second is
// always 0 and every day of month and month is allowed.
type Rule struct {
	Hour       int
	Minute     int
	DaysOfWeek []uint8
	Disabled   bool
}

// Active reports whether the rule can ever fire.
func (r Rule) Active() bool {
	return !r.Disabled && len(r.DaysOfWeek) > 0
}

// CronSpec renders the rule as a six-field robfig expression with seconds,
// or "" when the rule can never fire.
func (r Rule) CronSpec() string {
	if !r.Active() {
		return ""
	}
	parts := make([]string, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		parts = append(parts, strconv.Itoa(int(d)-1))
	}
	return fmt.Sprintf("0 %d %d * * %s", r.Minute, r.Hour, strings.Join(parts, ","))
}

// State is the coarse schedule state reported for diagnostics.
type State int

const (
	StateDisabled State = iota
	StateNoActiveDays
	StateScheduled
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateNoActiveDays:
		return "no_active_days"
	case StateScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// Inputs are the sources a schedule is read from. Disabled is optional.
type Inputs struct {
	Hour   entity.NumberSource
	Minute entity.NumberSource

	Mon, Tue, Wed, Thu, Fri, Sat, Sun entity.BooleanSource

	Disabled entity.BooleanSource
}

func (in Inputs) numbers() []entity.NumberSource {
	return []entity.NumberSource{in.Hour, in.Minute}
}

func (in Inputs) switches() []entity.BooleanSource {
	sw := []entity.BooleanSource{in.Mon, in.Tue, in.Wed, in.Thu, in.Fri, in.Sat, in.Sun}
	if in.Disabled != nil {
		sw = append(sw, in.Disabled)
	}
	return sw
}

func (in Inputs) validate() error {
	if in.Hour == nil || in.Minute == nil {
		return errors.New("schedule: hour and minute sources are required")
	}
	for i, s := range in.switches()[:7] {
		if s == nil {
			return fmt.Errorf("schedule: weekday source %d is required", i)
		}
	}
	return nil
}

func (in Inputs) snapshot() Config {
	c := Config{
		Hour:   int(in.Hour.State()),
		Minute: int(in.Minute.State()),
		Days: [7]bool{
			in.Mon.State(), in.Tue.State(), in.Wed.State(), in.Thu.State(),
			in.Fri.State(), in.Sat.State(), in.Sun.State(),
		},
	}
	if in.Disabled != nil {
		c.Disabled = in.Disabled.State()
	}
	return c
}

// Options configure an Engine.
type Options struct {
	ID   string
	Name string

	Clock  clock.Clock
	Inputs Inputs

	// Matcher defaults to a CronMatcher in the clock's location.
	Matcher Matcher
	// Binder may be nil, in which case no actions are ever bound.
	Binder   Binder
	Actions  []action.Action
	Recorder Recorder

	ActionTimeout time.Duration
}

// Engine owns one schedule's rule, its action binding and the cached next
// occurrence. Update and NextOccurrence are mutually exclusive.
type Engine struct {
	id   string
	name string

	clock    clock.Clock
	inputs   Inputs
	binder   Binder
	actions  []action.Action
	recorder Recorder
	timeout  time.Duration

	setupOnce sync.Once

	mu      sync.Mutex
	matcher Matcher
	cfg     Config
	rule    Rule
	built   bool
	bound   bool
	entryID cron.EntryID

	next    time.Time
	hasNext bool
}

// NewEngine validates opts and returns an Engine. The rule is not built
// until Setup or Update is called.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Clock == nil {
		return nil, errors.New("schedule: clock is required")
	}
	if err := opts.Inputs.validate(); err != nil {
		return nil, err
	}
	m := opts.Matcher
	if m == nil {
		m = NewCronMatcher(opts.Clock.Location())
	}
	name := opts.Name
	if name == "" {
		name = opts.ID
	}
	return &Engine{
		id:       opts.ID,
		name:     name,
		clock:    opts.Clock,
		inputs:   opts.Inputs,
		binder:   opts.Binder,
		actions:  append([]action.Action(nil), opts.Actions...),
		recorder: opts.Recorder,
		timeout:  opts.ActionTimeout,
		matcher:  m,
		rule:     Rule{DaysOfWeek: []uint8{}, Disabled: true},
	}, nil
}

func (e *Engine) ID() string   { return e.id }
func (e *Engine) Name() string { return e.name }

// Setup builds the rule and then subscribes to every input source. The
// initial build happens first so no callback can observe an unbuilt rule.
func (e *Engine) Setup() error {
	e.setupOnce.Do(func() {
		e.Update()
		for _, n := range e.inputs.numbers() {
			n.AddOnStateCallback(func(float64) { e.Update() })
		}
		for _, s := range e.inputs.switches() {
			s.AddOnStateCallback(func(bool) { e.Update() })
		}
	})
	return nil
}

// Update rebuilds the rule from the current inputs, rebinds the actions and
// drops the cached next occurrence. The inputs are read under the engine
// lock so concurrent updates commit in the order they read.
func (e *Engine) Update() {
	e.mu.Lock()
	cfg := e.inputs.snapshot()
	updated := e.built
	e.built = true
	e.cfg = cfg

	e.matcher.Reset()
	if e.bound {
		e.binder.Remove(e.entryID)
		e.bound = false
		e.entryID = 0
	}

	if cfg.Disabled {
		e.rule = Rule{Hour: cfg.Hour, Minute: cfg.Minute, DaysOfWeek: []uint8{}, Disabled: true}
		e.clearCacheLocked()
		e.mu.Unlock()
		appLog.Info("schedule disabled", "schedule", e.id, "updated", yesNo(updated))
		return
	}

	days := cfg.DaysOfWeek()
	e.matcher.AddSecond(0)
	for d := uint8(1); d <= 31; d++ {
		e.matcher.AddDayOfMonth(d)
	}
	for m := uint8(1); m <= 12; m++ {
		e.matcher.AddMonth(m)
	}
	e.matcher.AddHour(uint8(cfg.Hour))
	e.matcher.AddMinute(uint8(cfg.Minute))
	e.matcher.AddDaysOfWeek(days)

	e.rule = Rule{Hour: cfg.Hour, Minute: cfg.Minute, DaysOfWeek: days}
	if e.binder != nil {
		e.entryID = e.binder.Schedule(e.matcher.Schedule(), e.newAutomationLocked())
		e.bound = true
	}
	e.clearCacheLocked()
	rule := e.rule
	e.mu.Unlock()

	appLog.Info("cron trigger details",
		"schedule", e.id,
		"updated", yesNo(updated),
		"hour", rule.Hour,
		"minute", rule.Minute,
		"days", formatDays(rule.DaysOfWeek),
		"cron", rule.CronSpec(),
	)
}

func (e *Engine) newAutomationLocked() *Automation {
	return &Automation{
		scheduleID: e.id,
		rule:       e.rule,
		actions:    e.actions,
		recorder:   e.recorder,
		clock:      e.clock,
		timeout:    e.timeout,
	}
}

func (e *Engine) clearCacheLocked() {
	e.next = time.Time{}
	e.hasNext = false
}

// NextOccurrence returns the first instant strictly after now matching the
// rule, or false when the schedule is disabled or has no active weekday.
// A computed value is reused while now is before it.
func (e *Engine) NextOccurrence(now time.Time) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rule.Active() {
		e.clearCacheLocked()
		return time.Time{}, false
	}
	if e.hasNext && now.Before(e.next) {
		return e.next, true
	}
	now = now.In(e.clock.Location())
	e.next = nextOccurrence(now, e.rule.Hour, e.rule.Minute, e.rule.DaysOfWeek)
	e.hasNext = true
	return e.next, true
}

// NextSchedule is NextOccurrence at the clock's current time.
func (e *Engine) NextSchedule() (time.Time, bool) {
	return e.NextOccurrence(e.clock.Now())
}

// Rule returns a copy of the current rule.
func (e *Engine) Rule() Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.rule
	r.DaysOfWeek = append([]uint8{}, e.rule.DaysOfWeek...)
	return r
}

// Config returns the inputs snapshot taken by the last Update.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.matcher.Empty():
		return StateDisabled
	case len(e.rule.DaysOfWeek) == 0:
		return StateNoActiveDays
	default:
		return StateScheduled
	}
}

// Bound reports whether an action binding currently exists.
func (e *Engine) Bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound
}

// Matches reports whether t satisfies the current rule.
func (e *Engine) Matches(t time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.Matches(t)
}

// DumpConfig logs the current inputs and next schedule.
func (e *Engine) DumpConfig() {
	cfg := e.Config()
	next, ok := e.NextSchedule()
	nextStr := "none"
	if ok {
		nextStr = next.Format("Mon Jan 2 2006 15:04:05 MST")
	}
	// The closed-form search and the bound matcher must agree.
	if ok && !e.Matches(next) {
		appLog.Warn("next schedule does not satisfy the rule", "schedule", e.id, "next", nextStr)
	}
	d := cfg.Days
	appLog.Info("dynamic on-time",
		"schedule", e.id,
		"name", e.name,
		"hour", cfg.Hour,
		"minute", cfg.Minute,
		"mon", yesNo(d[0]),
		"tue", yesNo(d[1]),
		"wed", yesNo(d[2]),
		"thu", yesNo(d[3]),
		"fri", yesNo(d[4]),
		"sat", yesNo(d[5]),
		"sun", yesNo(d[6]),
		"disabled", yesNo(cfg.Disabled),
		"actions", len(e.actions),
		"next", nextStr,
	)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatDays(days []uint8) string {
	if len(days) == 0 {
		return "none"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, DayName(d))
	}
	return strings.Join(names, ",")
}
