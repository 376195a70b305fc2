package service

import "time"

// DefaultDueSoonWindow is how far ahead FindDueSoon looks when no window is given.
const DefaultDueSoonWindow = 7 * 24 * time.Hour

// DueSoonRange returns the inclusive calendar-day range [today, today+within]
// for due-date queries. within <= 0 selects DefaultDueSoonWindow.
func DueSoonRange(now time.Time, within time.Duration) (from, to time.Time) {
	if within <= 0 {
		within = DefaultDueSoonWindow
	}
	y, m, d := now.UTC().Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to = from.Add(within)
	return from, to
}
