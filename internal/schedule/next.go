package schedule

import "time"

// nextOccurrence returns the first instant strictly after now at which
// hour:minute:00 falls on one of days (ascending internal weekday numbers,
// non-empty), in now's location.
//
// Candidates are anchored on "day 0" of the current week, the day before
// Sunday, so that candidate(d) lands on weekday d of this week. Days are
// added on the calendar rather than as 24h spans so wall-clock time holds
// across DST changes.
func nextOccurrence(now time.Time, hour, minute int, days []uint8) time.Time {
	y, m, d := now.Date()
	day0 := d - int(WeekdayNumber(now.Weekday()))
	loc := now.Location()

	var first time.Time
	for i, wd := range days {
		candidate := time.Date(y, m, day0+int(wd), hour, minute, 0, 0, loc)
		if i == 0 {
			first = candidate
		}
		if candidate.After(now) {
			return candidate
		}
	}
	// Every candidate this week has passed; take the earliest day next week.
	return time.Date(first.Year(), first.Month(), first.Day()+7, hour, minute, 0, 0, loc)
}
