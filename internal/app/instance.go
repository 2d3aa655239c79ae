package app

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"ontime/internal/config"
	"ontime/internal/entity"
	appLog "ontime/internal/log"
	"ontime/internal/schedule"
)

// ErrInvalidInput wraps rejected input patches.
var ErrInvalidInput = errors.New("app: invalid input")

var dayKeys = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// Instance is one configured schedule: its input entities and the engine
// derived from them.
type Instance struct {
	ID   string
	Name string

	Engine *schedule.Engine

	Hour     *entity.Number
	Minute   *entity.Number
	Days     [7]*entity.Switch // Monday first
	Disabled *entity.Switch

	Location *time.Location

	// DisabledPin is the hardware switch mirrored into Disabled, if any.
	DisabledPin string

	mu      sync.Mutex
	actions []config.ActionConfig
}

func newEntities(sc config.ScheduleConfig) (hour, minute *entity.Number, days [7]*entity.Switch, disabled *entity.Switch) {
	hour = entity.NewNumber(sc.ID+".hour", entity.Traits{Min: 0, Max: 23, Step: 1}, float64(sc.Hour))
	minute = entity.NewNumber(sc.ID+".minute", entity.Traits{Min: 0, Max: 59, Step: 1}, float64(sc.Minute))
	flags := sc.Days()
	for i := range days {
		days[i] = entity.NewSwitch(sc.ID+"."+dayKeys[i], flags[i])
	}
	disabled = entity.NewSwitch(sc.ID+".disabled", sc.Disabled)
	return hour, minute, days, disabled
}

func (in *Instance) inputs() schedule.Inputs {
	d := in.Days
	return schedule.Inputs{
		Hour: in.Hour, Minute: in.Minute,
		Mon: d[0], Tue: d[1], Wed: d[2], Thu: d[3], Fri: d[4], Sat: d[5], Sun: d[6],
		Disabled: in.Disabled,
	}
}

// Patch is a partial update of a schedule's inputs. Nil fields are left
// unchanged.
type Patch struct {
	Hour     *float64 `json:"hour,omitempty"`
	Minute   *float64 `json:"minute,omitempty"`
	Mon      *bool    `json:"mon,omitempty"`
	Tue      *bool    `json:"tue,omitempty"`
	Wed      *bool    `json:"wed,omitempty"`
	Thu      *bool    `json:"thu,omitempty"`
	Fri      *bool    `json:"fri,omitempty"`
	Sat      *bool    `json:"sat,omitempty"`
	Sun      *bool    `json:"sun,omitempty"`
	Disabled *bool    `json:"disabled,omitempty"`
}

func (p Patch) days() [7]*bool {
	return [7]*bool{p.Mon, p.Tue, p.Wed, p.Thu, p.Fri, p.Sat, p.Sun}
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	if p.Hour != nil || p.Minute != nil || p.Disabled != nil {
		return false
	}
	for _, d := range p.days() {
		if d != nil {
			return false
		}
	}
	return true
}

// Apply publishes the fields of p into the entities. Numbers are validated
// before anything is published, so a rejected patch changes nothing. Every
// published value triggers a rebuild of the engine.
func (in *Instance) Apply(p Patch) error {
	if p.Hour != nil {
		if err := in.Hour.Validate(*p.Hour); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if p.Minute != nil {
		if err := in.Minute.Validate(*p.Minute); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	if p.Hour != nil {
		if err := in.Hour.Publish(*p.Hour); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if p.Minute != nil {
		if err := in.Minute.Publish(*p.Minute); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	for i, d := range p.days() {
		if d != nil {
			in.Days[i].Publish(*d)
		}
	}
	if p.Disabled != nil {
		in.Disabled.Publish(*p.Disabled)
	}
	return nil
}

// ApplyConfig pushes the values of a reloaded schedule config into the
// entities. Only inputs that differ from the current state are published.
// Action changes need a restart.
func (in *Instance) ApplyConfig(sc config.ScheduleConfig) error {
	var p Patch
	if h := float64(sc.Hour); h != in.Hour.State() {
		p.Hour = &h
	}
	if m := float64(sc.Minute); m != in.Minute.State() {
		p.Minute = &m
	}
	flags := sc.Days()
	targets := [7]**bool{&p.Mon, &p.Tue, &p.Wed, &p.Thu, &p.Fri, &p.Sat, &p.Sun}
	for i, on := range flags {
		if on != in.Days[i].State() {
			v := on
			*targets[i] = &v
		}
	}
	// A followed pin owns the disabled switch.
	if in.DisabledPin == "" && sc.Disabled != in.Disabled.State() {
		v := sc.Disabled
		p.Disabled = &v
	}

	in.mu.Lock()
	actionsChanged := !reflect.DeepEqual(in.actions, sc.Actions)
	in.mu.Unlock()
	if actionsChanged {
		appLog.Warn("schedule actions changed; restart to apply", "schedule", in.ID)
	}

	if p.Empty() {
		return nil
	}
	appLog.Info("applying reloaded schedule inputs", "schedule", in.ID)
	return in.Apply(p)
}
