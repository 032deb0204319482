package candleclock

import "time"

type createOpts struct {
	name          *string
	skipIfOffline *bool
	maxCalls      *int
	insertedAt    *time.Time
	updatedAt     *time.Time
}

// TimerOption customizes a timer at creation. The option set is closed:
// anything not expressible here is not a recognized creation parameter.
type TimerOption func(*createOpts)

// WithName gives the timer a unique name. Creating another timer with
// the same name replaces the existing row (idempotent de-duplication).
func WithName(name string) TimerOption {
	return func(o *createOpts) { o.name = &name }
}

// WithSkipIfOffline sets the catch-up policy for recurring timers.
// True (the default) skips occurrences missed during downtime; false
// fires every missed occurrence in schedule order.
func WithSkipIfOffline(skip bool) TimerOption {
	return func(o *createOpts) { o.skipIfOffline = &skip }
}

// WithMaxCalls caps the number of firings; the row is deleted after the
// firing that reaches the cap.
func WithMaxCalls(n int) TimerOption {
	return func(o *createOpts) { o.maxCalls = &n }
}

// WithInsertedAt overrides the creation instant, which anchors duration
// and interval schedules.
func WithInsertedAt(at time.Time) TimerOption {
	return func(o *createOpts) { o.insertedAt = &at }
}

// WithUpdatedAt overrides the last-mutation instant.
func WithUpdatedAt(at time.Time) TimerOption {
	return func(o *createOpts) { o.updatedAt = &at }
}
