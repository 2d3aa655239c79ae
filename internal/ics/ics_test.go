package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ontime/internal/clock"
	"ontime/internal/entity"
	"ontime/internal/schedule"
)

func rule(hour, minute int, days ...uint8) schedule.Rule {
	return schedule.Rule{Hour: hour, Minute: minute, DaysOfWeek: days}
}

// engineFor builds a real schedule engine from Monday-first flags.
func engineFor(t *testing.T, hour, minute int, flags [7]bool, loc *time.Location) *schedule.Engine {
	t.Helper()
	sw := func(name string, on bool) *entity.Switch { return entity.NewSwitch(name, on) }
	in := schedule.Inputs{
		Hour:   entity.NewNumber("hour", entity.Traits{Min: 0, Max: 23, Step: 1}, float64(hour)),
		Minute: entity.NewNumber("minute", entity.Traits{Min: 0, Max: 59, Step: 1}, float64(minute)),
		Mon:    sw("mon", flags[0]), Tue: sw("tue", flags[1]), Wed: sw("wed", flags[2]),
		Thu: sw("thu", flags[3]), Fri: sw("fri", flags[4]), Sat: sw("sat", flags[5]),
		Sun: sw("sun", flags[6]),
	}
	e, err := schedule.NewEngine(schedule.Options{
		ID:     "x",
		Clock:  clock.Fixed(time.Date(2024, 1, 1, 0, 0, 0, 0, loc)),
		Inputs: in,
	})
	require.NoError(t, err)
	require.NoError(t, e.Setup())
	return e
}

func TestRRuleString(t *testing.T) {
	s, err := RRuleString(rule(9, 5, schedule.Monday, schedule.Wednesday))
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE;BYHOUR=9;BYMINUTE=5;BYSECOND=0", s)

	s, err = RRuleString(rule(0, 0, schedule.Sunday, schedule.Saturday))
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=SU,SA;BYHOUR=0;BYMINUTE=0;BYSECOND=0", s)
}

func TestInactiveRulesAreRejected(t *testing.T) {
	_, err := RRuleString(rule(9, 0))
	assert.True(t, errors.Is(err, ErrInactive))

	disabled := rule(9, 0, schedule.Monday)
	disabled.Disabled = true
	_, err = RRule(disabled, time.Now())
	assert.True(t, errors.Is(err, ErrInactive))

	_, err = Options(rule(9, 0, 8), time.Now())
	assert.Error(t, err)
}

func TestUpcomingWeekdays(t *testing.T) {
	// Thursday 2024-01-04 10:00; Mon/Wed 09:00.
	from := time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)
	occ, err := Upcoming(rule(9, 0, schedule.Monday, schedule.Wednesday), UpcomingConfig{
		ScheduleID: "porch", Name: "Porch", From: from, Count: 4,
	})
	require.NoError(t, err)
	require.Len(t, occ, 4)

	want := []time.Time{
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC),
	}
	for i, o := range occ {
		assert.True(t, want[i].Equal(o.At), "occurrence %d: got %s", i, o.At)
		assert.Equal(t, "porch", o.ScheduleID)
		assert.Equal(t, "Porch", o.Name)
	}
	assert.Equal(t, "porch@2024-01-08T09:00:00Z", occ[0].InstanceKey)
}

func TestUpcomingExcludesFrom(t *testing.T) {
	from := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // Monday 09:00
	occ, err := Upcoming(rule(9, 0, schedule.Monday), UpcomingConfig{From: from, Count: 1})
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.True(t, from.AddDate(0, 0, 7).Equal(occ[0].At))
}

func TestUpcomingCountDefaultsAndCap(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	all := rule(12, 0, schedule.Sunday, schedule.Monday, schedule.Tuesday, schedule.Wednesday,
		schedule.Thursday, schedule.Friday, schedule.Saturday)

	occ, err := Upcoming(all, UpcomingConfig{From: from})
	require.NoError(t, err)
	assert.Len(t, occ, defaultUpcoming)

	occ, err = Upcoming(all, UpcomingConfig{From: from, Count: 10000})
	require.NoError(t, err)
	assert.Len(t, occ, maxUpcoming)
}

func TestUpcomingAgreesWithEngine(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cases := []struct {
		hour, minute int
		flags        [7]bool
	}{
		{9, 0, [7]bool{true, false, true, false, false, false, false}},
		{23, 59, [7]bool{false, false, false, false, false, false, true}},
		{2, 30, [7]bool{false, false, false, false, false, true, true}},
		{0, 0, [7]bool{true, true, true, true, true, true, true}},
		{17, 45, [7]bool{false, true, false, true, false, true, false}},
	}
	for _, tc := range cases {
		e := engineFor(t, tc.hour, tc.minute, tc.flags, berlin)
		r := e.Rule()
		// Step through the year in uneven increments, crossing both DST changes.
		for from := time.Date(2024, 1, 1, 0, 0, 0, 0, berlin); from.Year() == 2024; from = from.Add(61*time.Hour + 17*time.Minute) {
			want, ok := e.NextOccurrence(from)
			require.True(t, ok)
			occ, err := Upcoming(r, UpcomingConfig{Location: berlin, From: from, Count: 1})
			require.NoError(t, err)
			require.Len(t, occ, 1)
			require.True(t, want.Equal(occ[0].At), "rule %s from %s: engine %s, rrule %s",
				r.CronSpec(), from, want, occ[0].At)
		}
	}
}

func TestExportRoundTrip(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2024, 3, 27, 12, 0, 0, 0, berlin) // Wednesday

	out, err := Export([]Entry{
		{ID: "porch", Name: "Porch light", Rule: rule(7, 30, schedule.Monday, schedule.Friday), Location: berlin},
		{ID: "off", Name: "Off", Rule: schedule.Rule{Hour: 1, DaysOfWeek: []uint8{schedule.Monday}, Disabled: true}, Location: berlin},
		{ID: "utc", Name: "UTC", Rule: rule(6, 0, schedule.Sunday), Location: time.UTC},
	}, now)
	require.NoError(t, err)
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "DTSTART;TZID=Europe/Berlin:20240329T073000")
	assert.NotContains(t, out, "off@ontime")

	events, err := parseEvents(out)
	require.NoError(t, err)
	require.Len(t, events, 2)

	porch := events[0]
	assert.Equal(t, "porch@ontime", porch.UID)
	assert.Equal(t, "Porch light", porch.Summary)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,FR;BYHOUR=7;BYMINUTE=30;BYSECOND=0", porch.RRule)
	assert.True(t, time.Date(2024, 3, 29, 7, 30, 0, 0, berlin).Equal(porch.Start))
	assert.Equal(t, eventLength, porch.End.Sub(porch.Start))

	utc := events[1]
	assert.True(t, strings.HasPrefix(utc.RRule, "FREQ=WEEKLY;BYDAY=SU"))
	assert.True(t, time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC).Equal(utc.Start))
}

type event struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	RRule   string
}

// parseEvents reads back the VEVENTs of an exported feed.
func parseEvents(body string) ([]event, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	var events []event
	for _, ve := range cal.Events() {
		var ev event
		if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
			ev.UID = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
			ev.RRule = p.Value
		}
		if ev.Start, err = ve.GetStartAt(); err != nil {
			return nil, err
		}
		if ev.End, err = ve.GetEndAt(); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
