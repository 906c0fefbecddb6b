package history

import "time"

// minuteOffset converts a timezone offset in minutes (as reported by
// JavaScript's getTimezoneOffset: positive west of UTC) to a duration.
func minuteOffset(tzOffsetMinutes int) time.Duration {
	return time.Duration(tzOffsetMinutes) * time.Minute
}

// localize shifts a UTC instant into the listener's wall-clock time.
func localize(t time.Time, tzOffsetMinutes int) time.Time {
	return t.Add(-minuteOffset(tzOffsetMinutes))
}

// statsStartDate returns the most recent anniversary to aggregate from:
// one year before the listener's local "today". A local Feb 29 steps back
// four years so the date stays a real calendar day.
func statsStartDate(localNow time.Time) time.Time {
	return previousAnniversary(localNow)
}

// previousAnniversary steps one anniversary back, or four years from Feb 29.
func previousAnniversary(t time.Time) time.Time {
	if t.Month() == time.February && t.Day() == 29 {
		return minusYears(t, 4)
	}
	return minusYears(t, 1)
}

// minusYears keeps the month and day fixed while subtracting years, unlike
// time.Time.AddDate which normalizes Feb 29 into March.
func minusYears(t time.Time, years int) time.Time {
	return time.Date(t.Year()-years, t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// listYearDates walks anniversaries backward from start down to (and
// including) the join date. Dates are compared by calendar day.
func listYearDates(start, joinDate time.Time) []time.Time {
	var dates []time.Time
	for d := start; !calendarBefore(d, joinDate); d = previousAnniversary(d) {
		dates = append(dates, d)
	}
	return dates
}

// dayWindow returns the UTC bounds of the 24h window that date's local
// midnight starts, given the listener's timezone offset.
func dayWindow(date time.Time, tzOffsetMinutes int) (start, end time.Time) {
	start = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).
		Add(minuteOffset(tzOffsetMinutes))
	return start, start.Add(24 * time.Hour)
}

// calendarBefore reports whether a's calendar date precedes b's.
func calendarBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

// sameCalendarDay reports whether two instants share a calendar date.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
