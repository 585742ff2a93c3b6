package domain

import "time"

// NextOccurrence returns the occurrence following at for a recurring alert.
// Days are calendar days in loc, so a DAILY alert keeps its wall-clock time
// across DST changes. For RepeatNone it returns at unchanged.
func NextOccurrence(at time.Time, r Repeat, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	switch r {
	case RepeatDaily:
		return local.AddDate(0, 0, 1).UTC()
	case RepeatWeekly:
		return local.AddDate(0, 0, 7).UTC()
	}
	return at
}

// Advance applies one firing to a: one-shot alerts become SENT, recurring
// alerts stay PENDING and move to their next occurrence.
func (a *Alert) Advance(firedAt time.Time, loc *time.Location) {
	t := firedAt.UTC()
	a.LastFiredAt = &t
	if a.Repeat == RepeatNone {
		a.Status = StatusSent
		return
	}
	a.ScheduledAt = NextOccurrence(a.ScheduledAt, a.Repeat, loc)
}
