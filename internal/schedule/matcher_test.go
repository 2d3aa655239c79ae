package schedule

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weeklyMatcher(hour, minute uint8, days ...uint8) *CronMatcher {
	m := NewCronMatcher(time.UTC)
	m.AddSecond(0)
	for d := uint8(1); d <= 31; d++ {
		m.AddDayOfMonth(d)
	}
	for mo := uint8(1); mo <= 12; mo++ {
		m.AddMonth(mo)
	}
	m.AddHour(hour)
	m.AddMinute(minute)
	m.AddDaysOfWeek(days)
	return m
}

func TestCronMatcherMatches(t *testing.T) {
	m := weeklyMatcher(9, 0, Monday, Wednesday)

	assert.True(t, m.Matches(at(1, 9, 0)))
	assert.True(t, m.Matches(at(3, 9, 0)))
	assert.False(t, m.Matches(at(2, 9, 0)), "tuesday")
	assert.False(t, m.Matches(at(1, 9, 1)))
	assert.False(t, m.Matches(at(1, 9, 0).Add(time.Second)))
}

func TestCronMatcherResetClearsConstraints(t *testing.T) {
	m := weeklyMatcher(9, 0, Monday)
	require.False(t, m.Empty())

	m.Reset()
	assert.True(t, m.Empty())
	assert.False(t, m.Matches(at(1, 9, 0)))

	// Constraints accumulate after a reset without leaking the old ones.
	m.AddHour(10)
	spec := m.Schedule().(*cron.SpecSchedule)
	assert.Equal(t, uint64(1<<10), spec.Hour)
	assert.Zero(t, spec.Minute)
}

func TestCronMatcherIgnoresOutOfRange(t *testing.T) {
	m := NewCronMatcher(time.UTC)
	m.AddSecond(60)
	m.AddMinute(60)
	m.AddHour(24)
	m.AddDayOfMonth(0)
	m.AddDayOfMonth(32)
	m.AddMonth(0)
	m.AddMonth(13)
	m.AddDaysOfWeek([]uint8{0, 8})
	assert.True(t, m.Empty())
}

func TestCronMatcherScheduleIntersectsDays(t *testing.T) {
	m := weeklyMatcher(9, 0, Friday)
	sched := m.Schedule()

	// Without the wildcard bit robfig would fire on every day of the month.
	next := sched.Next(at(1, 0, 0))
	assert.True(t, at(5, 9, 0).Equal(next), "got %s", next)

	// The snapshot is independent of later changes.
	m.Reset()
	assert.True(t, at(5, 9, 0).Equal(sched.Next(at(1, 0, 0))))
}

func TestCronMatcherWeekdayBits(t *testing.T) {
	m := NewCronMatcher(time.UTC)
	m.AddDaysOfWeek([]uint8{Sunday, Saturday})
	spec := m.Schedule().(*cron.SpecSchedule)
	assert.Equal(t, uint64(1<<0|1<<6), spec.Dow)
}
