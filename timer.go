// Package candleclock is a durable, cluster-aware timer scheduler.
//
// Timers are persisted as rows in a shared relational store and survive
// process restarts. Each node runs a single dispatcher worker that sleeps
// until the earliest due timer, claims it under a row lock, and hands the
// timer to a registered handler. The row lock guarantees that a timer
// fires on exactly one node even when many nodes share the store.
package candleclock

import (
	"time"

	"github.com/google/uuid"
)

// Timer is the sole persistent entity: one row per outstanding timer.
type Timer struct {
	ID uuid.UUID

	// Module and Function identify the registered handler. The core never
	// interprets them beyond equality.
	Module   string
	Function string

	// Arguments is an opaque payload serialized by the caller and passed
	// verbatim to the handler at fire time.
	Arguments []byte

	// ExpiresAt is the next scheduled firing instant (UTC). Always set on
	// a live row; nil on a timer value whose expiry has been consumed and
	// is about to be recomputed.
	ExpiresAt *time.Time

	// Duration is the lead-in from InsertedAt to the first firing, in
	// milliseconds. Set for one-shots and as the interval lead-in.
	Duration *int64

	// Interval is the gap between recurring firings, in milliseconds.
	Interval *int64

	// Crontab is the cron expression for calendar timers ("" = none).
	// CrontabTimezone is the IANA zone the expression is evaluated in;
	// empty means UTC.
	Crontab         string
	CrontabTimezone string

	// Calls counts completed firings. MaxCalls, when set, caps them: the
	// row is deleted after the firing that reaches the cap.
	Calls    int
	MaxCalls *int

	// SkipIfOffline controls catch-up semantics for recurring timers
	// after downtime: true (the default) skips missed occurrences and
	// schedules the next future one; false walks the schedule in order,
	// firing every missed occurrence.
	SkipIfOffline bool

	// Name optionally identifies the timer; creates with the same name
	// replace the existing row.
	Name *string

	// Executing is the in-flight lease flag, set while a worker has
	// claimed the row.
	Executing bool

	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Recurring reports whether the timer reschedules itself after firing.
func (t *Timer) Recurring() bool {
	return t.Interval != nil || t.Crontab != ""
}

// LastCall reports whether the next completed firing reaches the cap.
func (t *Timer) LastCall() bool {
	return t.MaxCalls != nil && t.Calls+1 >= *t.MaxCalls
}

// DurationLeadIn returns the lead-in as a time.Duration (0 when unset).
func (t *Timer) DurationLeadIn() time.Duration {
	if t.Duration == nil {
		return 0
	}
	return time.Duration(*t.Duration) * time.Millisecond
}

// Callable identifies a handler plus its serialized argument payload.
type Callable struct {
	Module    string
	Function  string
	Arguments []byte
}
