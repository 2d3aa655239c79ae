// Package ics renders weekly schedule rules as RFC 5545 recurrences: RRULE
// text, expanded occurrence lists and iCalendar feeds.
package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ontime/internal/log"
	"ontime/internal/model"
	"ontime/internal/schedule"
)

const (
	defaultUpcoming = 10
	maxUpcoming     = 500
)

// ErrInactive is returned for rules that never fire.
var ErrInactive = errors.New("ics: rule is disabled or has no active weekday")

// weekdays maps internal weekday numbers (Sunday=1) to rrule weekdays.
var weekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Options builds the WEEKLY recurrence options for rule, starting at dtstart.
func Options(rule schedule.Rule, dtstart time.Time) (rrule.ROption, error) {
	if !rule.Active() {
		return rrule.ROption{}, ErrInactive
	}
	byday := make([]rrule.Weekday, 0, len(rule.DaysOfWeek))
	for _, d := range rule.DaysOfWeek {
		if d < schedule.Sunday || d > schedule.Saturday {
			return rrule.ROption{}, fmt.Errorf("ics: weekday %d out of range", d)
		}
		byday = append(byday, weekdays[d-1])
	}
	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Byweekday: byday,
		Byhour:    []int{rule.Hour},
		Byminute:  []int{rule.Minute},
		Bysecond:  []int{0},
	}, nil
}

// RRule returns the recurrence for rule anchored at dtstart.
func RRule(rule schedule.Rule, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := Options(rule, dtstart)
	if err != nil {
		return nil, err
	}
	return rrule.NewRRule(opt)
}

// RRuleString renders rule as the value of an RRULE property, e.g.
// "FREQ=WEEKLY;BYDAY=MO,WE;BYHOUR=9;BYMINUTE=0;BYSECOND=0".
func RRuleString(rule schedule.Rule) (string, error) {
	opt, err := Options(rule, time.Time{})
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// UpcomingConfig controls Upcoming.
type UpcomingConfig struct {
	ScheduleID string
	Name       string

	// Location is the zone wall-clock times are evaluated in. If nil,
	// the location of From is used.
	Location *time.Location

	// From is exclusive: an occurrence exactly at From is skipped.
	From time.Time

	// Count defaults to 10 and is capped at 500.
	Count int
}

// Upcoming expands rule into the next occurrences strictly after cfg.From.
func Upcoming(rule schedule.Rule, cfg UpcomingConfig) ([]model.Occurrence, error) {
	loc := cfg.Location
	if loc == nil {
		loc = cfg.From.Location()
	}
	count := cfg.Count
	if count <= 0 {
		count = defaultUpcoming
	}
	if count > maxUpcoming {
		appLog.Warn("upcoming count capped", "schedule", cfg.ScheduleID, "requested", count, "cap", maxUpcoming)
		count = maxUpcoming
	}

	from := cfg.From.In(loc)
	dtstart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	r, err := RRule(rule, dtstart)
	if err != nil {
		return nil, err
	}

	out := make([]model.Occurrence, 0, count)
	next := r.Iterator()
	for len(out) < count {
		t, ok := next()
		if !ok {
			break
		}
		if !t.After(from) {
			continue
		}
		out = append(out, makeOccurrence(cfg.ScheduleID, cfg.Name, t.In(loc)))
	}
	return out, nil
}

func makeOccurrence(id, name string, at time.Time) model.Occurrence {
	return model.Occurrence{
		ScheduleID:  id,
		Name:        name,
		InstanceKey: id + "@" + at.Format(time.RFC3339),
		At:          at,
	}
}
