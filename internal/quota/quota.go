// Package quota tracks per-user daily AI usage windows.
package quota

import "time"

// DailyLimit is the number of AI calls a user may make per calendar day.
const DailyLimit = 10

// Window is a user's AI usage counter together with the day it belongs to.
// The day boundary is local midnight of the server's timezone; a Window whose
// WindowStart falls before today's midnight is stale and counts as zero.
type Window struct {
	Count       int
	WindowStart *time.Time
}

// DayStart returns local midnight of the day containing now.
func DayStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Stale reports whether the window belongs to an earlier day than now, or
// has never been started.
func (w Window) Stale(now time.Time) bool {
	if w.WindowStart == nil {
		return true
	}
	return w.WindowStart.Before(DayStart(now))
}

// Used returns the number of calls consumed in the day containing now.
func (w Window) Used(now time.Time) int {
	if w.Stale(now) {
		return 0
	}
	return w.Count
}

// Remaining returns how many calls are left today, floored at zero.
func (w Window) Remaining(now time.Time) int {
	remaining := DailyLimit - w.Used(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Admit reports whether one more call fits in today's window.
func (w Window) Admit(now time.Time) bool {
	return w.Used(now) < DailyLimit
}
