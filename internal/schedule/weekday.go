package schedule

import "time"

// Internal weekday numbering: Sunday=1 .. Saturday=7. Inputs arrive in
// Monday-first order and are translated with FlagsToDaysOfWeek.
const (
	Sunday uint8 = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// dayNames is indexed by internal weekday number.
var dayNames = [...]string{"", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// FlagsToDaysOfWeek returns the ascending internal weekday numbers whose flag
// is set. The result is never nil.
func FlagsToDaysOfWeek(mon, tue, wed, thu, fri, sat, sun bool) []uint8 {
	flags := [7]bool{sun, mon, tue, wed, thu, fri, sat}
	days := make([]uint8, 0, 7)
	for i, on := range flags {
		if on {
			days = append(days, uint8(i)+1)
		}
	}
	return days
}

// WeekdayNumber maps a time.Weekday to the internal numbering.
func WeekdayNumber(d time.Weekday) uint8 {
	return uint8(d) + 1
}

// DayName returns the short English name of an internal weekday number.
func DayName(n uint8) string {
	if n < 1 || int(n) >= len(dayNames) {
		return "?"
	}
	return dayNames[n]
}
