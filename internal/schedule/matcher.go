package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Matcher accumulates cron-style constraint sets. Constraints are only ever
// added; Reset is the one way to drop them.
type Matcher interface {
	Reset()
	AddSecond(v uint8)
	AddMinute(v uint8)
	AddHour(v uint8)
	AddDayOfMonth(v uint8)
	AddMonth(v uint8)
	// AddDaysOfWeek takes internal weekday numbers (Sunday=1).
	AddDaysOfWeek(days []uint8)

	// Matches reports whether t satisfies every constraint set.
	Matches(t time.Time) bool
	// Schedule returns an independent snapshot usable by a cron runner.
	Schedule() cron.Schedule
	Empty() bool
}

// starBit marks a robfig field as "*". robfig ORs day-of-month and
// day-of-week unless one of them carries it.
const starBit = 1 << 63

const allDaysOfMonth uint64 = ((1 << 32) - 1) &^ 1 // bits 1..31

// CronMatcher is a Matcher over robfig/cron SpecSchedule bit sets.
type CronMatcher struct {
	loc  *time.Location
	spec cron.SpecSchedule
}

func NewCronMatcher(loc *time.Location) *CronMatcher {
	m := &CronMatcher{loc: loc}
	m.Reset()
	return m
}

func (m *CronMatcher) Reset() {
	if m.loc == nil {
		m.loc = time.Local
	}
	m.spec = cron.SpecSchedule{Location: m.loc}
}

func (m *CronMatcher) AddSecond(v uint8) {
	if v < 60 {
		m.spec.Second |= 1 << v
	}
}

func (m *CronMatcher) AddMinute(v uint8) {
	if v < 60 {
		m.spec.Minute |= 1 << v
	}
}

func (m *CronMatcher) AddHour(v uint8) {
	if v < 24 {
		m.spec.Hour |= 1 << v
	}
}

func (m *CronMatcher) AddDayOfMonth(v uint8) {
	if v >= 1 && v <= 31 {
		m.spec.Dom |= 1 << v
	}
}

func (m *CronMatcher) AddMonth(v uint8) {
	if v >= 1 && v <= 12 {
		m.spec.Month |= 1 << v
	}
}

func (m *CronMatcher) AddDaysOfWeek(days []uint8) {
	for _, d := range days {
		if d >= 1 && d <= 7 {
			m.spec.Dow |= 1 << (d - 1)
		}
	}
}

func (m *CronMatcher) Empty() bool {
	s := m.spec
	return s.Second == 0 && s.Minute == 0 && s.Hour == 0 && s.Dom == 0 && s.Month == 0 && s.Dow == 0
}

func (m *CronMatcher) Schedule() cron.Schedule {
	s := m.spec
	if s.Dom&allDaysOfMonth == allDaysOfMonth {
		s.Dom |= starBit
	}
	return &s
}

func (m *CronMatcher) Matches(t time.Time) bool {
	t = t.In(m.loc)
	s := m.spec
	return s.Second&(1<<uint(t.Second())) != 0 &&
		s.Minute&(1<<uint(t.Minute())) != 0 &&
		s.Hour&(1<<uint(t.Hour())) != 0 &&
		s.Dom&(1<<uint(t.Day())) != 0 &&
		s.Month&(1<<uint(t.Month())) != 0 &&
		s.Dow&(1<<uint(t.Weekday())) != 0
}
