package candleclock

import (
	"time"

	"github.com/adhocore/gronx"
)

// NextExpiry computes the next instant at which the timer must fire,
// given a reference instant. It is pure: all time inputs arrive as
// arguments and no clocks, stores, or globals are consulted.
//
// A timer value with ExpiresAt still set returns it verbatim — that is
// how an absolute alarm round-trips its caller-supplied instant. The
// dispatcher clears ExpiresAt before recomputing after a firing.
//
// With SkipIfOffline false the result depends only on the timer's own
// schedule reference (the consumed ExpiresAt, or InsertedAt for a fresh
// row), never on now: the strictly next occurrence in schedule order,
// even if it lies far in the past. Absolute timers have no schedule to
// walk, so their instant round-trips under either policy.
func NextExpiry(t Timer, now time.Time) (time.Time, error) {
	if !t.SkipIfOffline {
		// An absolute timer has no schedule to walk; its instant stands.
		if t.ExpiresAt != nil && t.Duration == nil && t.Interval == nil && t.Crontab == "" {
			return t.ExpiresAt.UTC(), nil
		}
		ref := t.InsertedAt
		if t.ExpiresAt != nil {
			ref = *t.ExpiresAt
		}
		t.SkipIfOffline = true
		t.ExpiresAt = nil
		return NextExpiry(t, ref)
	}

	if t.ExpiresAt != nil {
		return t.ExpiresAt.UTC(), nil
	}

	switch {
	case t.Duration != nil && t.Calls == 0:
		// First firing is anchored to insertion, regardless of now.
		return t.InsertedAt.Add(t.DurationLeadIn()).UTC(), nil
	case t.Interval != nil:
		return nextIntervalExpiry(t, now), nil
	case t.Crontab != "":
		return nextCrontabExpiry(t, now)
	}
	return time.Time{}, invalidSpec("timer %s has no schedule", t.ID)
}

// nextIntervalExpiry returns the least anchor + k*interval (k >= 1) that
// is strictly greater than now. The anchor is the first-firing instant.
func nextIntervalExpiry(t Timer, now time.Time) time.Time {
	anchor := t.InsertedAt.Add(t.DurationLeadIn())
	step := time.Duration(*t.Interval) * time.Millisecond
	if step <= 0 {
		return anchor.UTC()
	}
	k := time.Duration(1)
	if d := now.Sub(anchor); d >= 0 {
		k = d/step + 1
	}
	return anchor.Add(k * step).UTC()
}

// nextCrontabExpiry evaluates the cron expression in the timer's zone and
// returns the next run strictly after now, converted back to UTC. Cron
// times follow local wall clock across DST shifts: "0 17 * * *" in
// Europe/Berlin fires at 17:00 local in both winter and summer.
func nextCrontabExpiry(t Timer, now time.Time) (time.Time, error) {
	loc := time.UTC
	if t.CrontabTimezone != "" {
		l, err := time.LoadLocation(t.CrontabTimezone)
		if err != nil {
			return time.Time{}, invalidCron(t.Crontab, err)
		}
		loc = l
	}
	next, err := gronx.NextTickAfter(t.Crontab, now.In(loc), false)
	if err != nil {
		return time.Time{}, invalidCron(t.Crontab, err)
	}
	return next.Truncate(time.Second).UTC(), nil
}
