// Package app wires configured schedules into a running daemon: input
// entities, engines, the cron runner they bind to, hardware followers and
// the firing history.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	periphgpio "periph.io/x/conn/v3/gpio"

	"ontime/internal/action"
	"ontime/internal/clock"
	"ontime/internal/config"
	"ontime/internal/gpio"
	"ontime/internal/history"
	"ontime/internal/host"
	appLog "ontime/internal/log"
	"ontime/internal/schedule"
)

// PinOpener resolves a hardware pin by name.
type PinOpener func(name string) (periphgpio.PinIO, error)

// Options configure a Daemon.
type Options struct {
	Config *config.Config

	// Clock defaults to the real clock in the configured timezone.
	Clock clock.Clock
	// History defaults to history.Nop.
	History history.Store
	// OpenPin defaults to gpio.Open.
	OpenPin PinOpener
}

// Daemon owns every schedule instance and the cron runner they bind to.
type Daemon struct {
	cfg     *config.Config
	loc     *time.Location
	clock   clock.Clock
	cron    *cron.Cron
	hosts   *host.Registry
	history history.Store
	openPin PinOpener

	instances []*Instance
	byID      map[string]*Instance

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New builds the entities and engines for every configured schedule and
// registers them with the host registry. Nothing is bound until Setup.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	cfg := opts.Config

	clk := opts.Clock
	if clk == nil {
		loc, err := clock.LoadLocation(cfg.Timezone)
		if err != nil {
			appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		}
		clk = clock.Real(loc)
	}
	loc := clk.Location()

	hist := opts.History
	if hist == nil {
		hist = history.Nop{}
	}
	openPin := opts.OpenPin
	if openPin == nil {
		openPin = gpio.Open
	}

	logger := cronLogger{}
	d := &Daemon{
		cfg:     cfg,
		loc:     loc,
		clock:   clk,
		hosts:   host.NewRegistry(),
		history: hist,
		openPin: openPin,
		byID:    map[string]*Instance{},
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	timeout := time.Duration(cfg.ActionTimeoutSeconds) * time.Second
	for _, sc := range cfg.Schedules {
		in, err := d.newInstance(sc, timeout)
		if err != nil {
			return nil, err
		}
		if err := d.hosts.Register(in.Engine); err != nil {
			return nil, err
		}
		d.instances = append(d.instances, in)
		d.byID[in.ID] = in
	}
	return d, nil
}

func (d *Daemon) newInstance(sc config.ScheduleConfig, timeout time.Duration) (*Instance, error) {
	hour, minute, days, disabled := newEntities(sc)
	in := &Instance{
		ID:          sc.ID,
		Name:        sc.Name,
		Hour:        hour,
		Minute:      minute,
		Days:        days,
		Disabled:    disabled,
		Location:    d.loc,
		DisabledPin: sc.DisabledPin,
		actions:     append([]config.ActionConfig(nil), sc.Actions...),
	}

	acts := make([]action.Action, 0, len(sc.Actions))
	for _, ac := range sc.Actions {
		acts = append(acts, d.buildAction(sc.ID, ac))
	}

	eng, err := schedule.NewEngine(schedule.Options{
		ID:            sc.ID,
		Name:          sc.Name,
		Clock:         d.clock,
		Inputs:        in.inputs(),
		Binder:        d.cron,
		Actions:       acts,
		Recorder:      d.history,
		ActionTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: schedule %s: %w", sc.ID, err)
	}
	in.Engine = eng
	return in, nil
}

// buildAction turns an action config into an Action. A pin that cannot be
// opened yields an action that fails on every firing, so the failure shows
// up in the history instead of preventing startup.
func (d *Daemon) buildAction(scheduleID string, ac config.ActionConfig) action.Action {
	switch ac.Type {
	case config.ActionGPIO:
		pin, err := d.openPin(ac.Pin)
		if err != nil {
			appLog.Error("gpio action unavailable", err, "schedule", scheduleID, "pin", ac.Pin)
			return action.Func{
				Label: "gpio:" + ac.Pin,
				Fn: func(context.Context) error {
					return fmt.Errorf("gpio: pin %s unavailable: %w", ac.Pin, err)
				},
			}
		}
		return gpio.Relay{Pin: pin, Duration: time.Duration(ac.DurationMs) * time.Millisecond}
	default:
		msg := ac.Message
		if msg == "" {
			msg = "schedule fired"
		}
		return action.Log{Message: msg, KV: []any{"schedule", scheduleID}}
	}
}

// Setup builds and binds every schedule.
func (d *Daemon) Setup() error {
	return d.hosts.Setup()
}

// Start runs the cron runner, the hardware followers and the history
// pruning job. They stop when ctx ends or Stop is called.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	for _, in := range d.instances {
		if in.DisabledPin == "" {
			continue
		}
		pin, err := d.openPin(in.DisabledPin)
		if err != nil {
			appLog.Error("disable pin unavailable", err, "schedule", in.ID, "pin", in.DisabledPin)
			continue
		}
		d.wg.Add(1)
		go func(in *Instance, pin periphgpio.PinIO) {
			defer d.wg.Done()
			if err := gpio.Follow(ctx, pin, in.Disabled, true); err != nil {
				appLog.Error("disable pin follower stopped", err, "schedule", in.ID, "pin", in.DisabledPin)
			}
		}(in, pin)
	}

	if _, err := d.cron.AddFunc("@daily", func() { d.Prune(context.Background()) }); err != nil {
		appLog.Error("failed to schedule history pruning", err)
	}
	d.cron.Start()
	appLog.Info("scheduler started", "schedules", len(d.instances), "timezone", d.loc.String())
}

// Stop stops the cron runner and waits for running firings and the
// hardware followers. The followers end with the context given to Start.
func (d *Daemon) Stop(ctx context.Context) error {
	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return fmt.Errorf("app: stop: %w", ctx.Err())
	}

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop: %w", ctx.Err())
	}
}

// Prune drops firings older than the configured retention.
func (d *Daemon) Prune(ctx context.Context) {
	days := d.cfg.History.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := d.clock.Now().AddDate(0, 0, -days)
	n, err := d.history.Prune(ctx, cutoff)
	if err != nil {
		appLog.Error("history prune failed", err)
		return
	}
	if n > 0 {
		appLog.Info("history pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// ApplyConfig pushes the inputs of a reloaded config into the running
// instances. Added or removed schedules need a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	seen := make(map[string]struct{}, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		seen[sc.ID] = struct{}{}
		in, ok := d.byID[sc.ID]
		if !ok {
			appLog.Warn("new schedule in config; restart to add it", "schedule", sc.ID)
			continue
		}
		if err := in.ApplyConfig(sc); err != nil {
			appLog.Error("failed to apply reloaded schedule", err, "schedule", sc.ID)
		}
	}
	for _, in := range d.instances {
		if _, ok := seen[in.ID]; !ok {
			appLog.Warn("schedule removed from config; restart to drop it", "schedule", in.ID)
		}
	}
}

// DumpConfig logs the configuration of every component.
func (d *Daemon) DumpConfig() {
	d.hosts.DumpConfig()
}

func (d *Daemon) Instances() []*Instance {
	return append([]*Instance(nil), d.instances...)
}

func (d *Daemon) Instance(id string) (*Instance, bool) {
	in, ok := d.byID[id]
	return in, ok
}

func (d *Daemon) Location() *time.Location { return d.loc }

func (d *Daemon) Clock() clock.Clock { return d.clock }

func (d *Daemon) History() history.Store { return d.history }

// cronLogger routes cron runner messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
