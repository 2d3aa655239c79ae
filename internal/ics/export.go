package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "ontime/internal/log"
	"ontime/internal/schedule"
)

const (
	productID = "-//ontime//weekly schedules//EN"
	localTime = "20060102T150405"

	// eventLength is the nominal length of an exported firing.
	eventLength = time.Minute
)

// Entry is one schedule to publish in a feed.
type Entry struct {
	ID       string
	Name     string
	Rule     schedule.Rule
	Location *time.Location
}

// Export renders entries as a PUBLISH calendar with one recurring VEVENT per
// active rule. DTSTART is the first occurrence after now, so the feed stays
// valid after the inputs change. Inactive rules are omitted.
func Export(entries []Entry, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetName("ontime")

	for _, e := range entries {
		if !e.Rule.Active() {
			continue
		}
		rr, err := RRuleString(e.Rule)
		if err != nil {
			return "", err
		}
		occ, err := Upcoming(e.Rule, UpcomingConfig{
			ScheduleID: e.ID,
			Name:       e.Name,
			Location:   e.Location,
			From:       now,
			Count:      1,
		})
		if err != nil {
			return "", err
		}
		if len(occ) == 0 {
			continue
		}
		start := occ[0].At

		ev := cal.AddEvent(e.ID + "@ontime")
		ev.SetDtStampTime(now)
		ev.SetSummary(e.Name)
		setLocalTime(ev, ical.ComponentPropertyDtStart, start)
		setLocalTime(ev, ical.ComponentPropertyDtEnd, start.Add(eventLength))
		ev.AddRrule(rr)
	}

	out := cal.Serialize()
	appLog.Debug("ics export completed", "entries", len(entries), "events", len(cal.Events()))
	return out, nil
}

// setLocalTime writes t as a floating time with TZID, which keeps the wall
// clock of later recurrences fixed across DST. UTC and the process-local
// zone have no usable TZID and are written as UTC.
func setLocalTime(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time) {
	loc := t.Location()
	name := loc.String()
	if loc == time.UTC || name == "UTC" || name == "Local" || name == "" {
		switch prop {
		case ical.ComponentPropertyDtStart:
			ev.SetStartAt(t)
		default:
			ev.SetEndAt(t)
		}
		return
	}
	ev.SetProperty(prop, t.Format(localTime), ical.WithTZID(name))
}
