package candleclock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Scheduler is the public create/cancel/query facade. It computes the
// first expiry for new timers, persists them, and broadcasts wakeup
// hints so every node's worker can re-evaluate its sleep.
type Scheduler struct {
	store Store
	bcast Broadcaster
	now   func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBroadcaster wires the cluster fan-out used for wakeup hints.
func WithBroadcaster(b Broadcaster) SchedulerOption {
	return func(s *Scheduler) {
		if b != nil {
			s.bcast = b
		}
	}
}

// WithSchedulerClock replaces the wall clock, for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler builds the API facade over a store.
func NewScheduler(st Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{store: st, bcast: NopBroadcaster{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallAfter creates a single-shot timer firing once after the delay.
func (s *Scheduler) CallAfter(ctx context.Context, c Callable, delay time.Duration, opts ...TimerOption) (*Timer, error) {
	if delay < 0 {
		return nil, invalidSpec("negative delay %s", delay)
	}
	t, err := s.newTimer(c, opts)
	if err != nil {
		return nil, err
	}
	ms := delay.Milliseconds()
	t.Duration = &ms
	if err := forceSingleShot(t); err != nil {
		return nil, err
	}
	return s.create(ctx, t)
}

// CallAt creates a single-shot timer firing once at the given instant.
func (s *Scheduler) CallAt(ctx context.Context, c Callable, at time.Time, opts ...TimerOption) (*Timer, error) {
	t, err := s.newTimer(c, opts)
	if err != nil {
		return nil, err
	}
	utc := at.UTC().Truncate(time.Microsecond)
	t.ExpiresAt = &utc
	if err := forceSingleShot(t); err != nil {
		return nil, err
	}
	return s.create(ctx, t)
}

// CallInterval creates a recurring timer firing every interval, with an
// optional lead-in before the first firing. A zero lead-in defaults to
// the interval itself.
func (s *Scheduler) CallInterval(ctx context.Context, c Callable, leadIn, interval time.Duration, opts ...TimerOption) (*Timer, error) {
	if interval <= 0 {
		return nil, invalidSpec("interval must be positive, got %s", interval)
	}
	if leadIn < 0 {
		return nil, invalidSpec("negative lead-in %s", leadIn)
	}
	if leadIn == 0 {
		leadIn = interval
	}
	t, err := s.newTimer(c, opts)
	if err != nil {
		return nil, err
	}
	leadMS := leadIn.Milliseconds()
	intMS := interval.Milliseconds()
	t.Duration = &leadMS
	t.Interval = &intMS
	return s.create(ctx, t)
}

// CallCrontab creates a recurring timer driven by a cron expression
// evaluated in the given IANA timezone (empty means UTC).
func (s *Scheduler) CallCrontab(ctx context.Context, c Callable, expr, timezone string, opts ...TimerOption) (*Timer, error) {
	if err := validateCrontab(expr, timezone); err != nil {
		return nil, err
	}
	t, err := s.newTimer(c, opts)
	if err != nil {
		return nil, err
	}
	t.Crontab = expr
	t.CrontabTimezone = timezone
	return s.create(ctx, t)
}

// TimerSpec describes one timer in a bulk create. Exactly one of
// Duration-only, Interval, Crontab, or At classifies it; Duration may
// accompany Interval as the lead-in.
type TimerSpec struct {
	Callable        Callable
	Duration        *time.Duration
	Interval        *time.Duration
	Crontab         string
	CrontabTimezone string
	At              *time.Time

	Name          string
	MaxCalls      *int
	SkipIfOffline *bool
}

// CreateMany bulk-inserts the specs in a single round trip, computing
// each row's expiry up front, then notifies workers of the earliest one.
func (s *Scheduler) CreateMany(ctx context.Context, specs []TimerSpec) ([]*Timer, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	timers := make([]*Timer, 0, len(specs))
	var earliest time.Time
	for i := range specs {
		t, err := s.timerFromSpec(&specs[i], now)
		if err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
		expiry, err := NextExpiry(*t, now)
		if err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
		expiry = expiry.Truncate(time.Microsecond)
		t.ExpiresAt = &expiry
		if earliest.IsZero() || expiry.Before(earliest) {
			earliest = expiry
		}
		timers = append(timers, t)
	}
	stored, err := s.store.InsertMany(ctx, timers)
	if err != nil {
		return nil, fmt.Errorf("candleclock: bulk insert: %w", err)
	}
	s.notifyExpiry(ctx, earliest)
	return stored, nil
}

// CancelByID deletes the timer row. An in-flight dispatch, if any, still
// runs to completion; no further occurrences fire.
func (s *Scheduler) CancelByID(ctx context.Context, id uuid.UUID) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("candleclock: cancel timer %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyRefresh(ctx)
	return nil
}

// CancelByName deletes the timer with the given name.
func (s *Scheduler) CancelByName(ctx context.Context, name string) error {
	n, err := s.store.DeleteByName(ctx, name)
	if err != nil {
		return fmt.Errorf("candleclock: cancel timer %q: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyRefresh(ctx)
	return nil
}

// CancelAll deletes every timer bound to the callable pair and returns
// how many rows were removed.
func (s *Scheduler) CancelAll(ctx context.Context, module, function string) (int64, error) {
	n, err := s.store.DeleteByCallable(ctx, module, function)
	if err != nil {
		return 0, fmt.Errorf("candleclock: cancel %s.%s: %w", module, function, err)
	}
	if n > 0 {
		s.notifyRefresh(ctx)
	}
	return n, nil
}

// NameExists reports whether a timer with the name is outstanding.
func (s *Scheduler) NameExists(ctx context.Context, name string) (bool, error) {
	return s.store.NameExists(ctx, name)
}

// IDExists reports whether a timer with the id is outstanding.
func (s *Scheduler) IDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.IDExists(ctx, id)
}

func (s *Scheduler) newTimer(c Callable, opts []TimerOption) (*Timer, error) {
	if c.Module == "" || c.Function == "" {
		return nil, invalidSpec("callable module and function are required")
	}
	var o createOpts
	for _, opt := range opts {
		opt(&o)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	t := &Timer{
		ID:            uuid.Must(uuid.NewV7()),
		Module:        c.Module,
		Function:      c.Function,
		Arguments:     c.Arguments,
		SkipIfOffline: true,
		InsertedAt:    now,
		UpdatedAt:     now,
	}
	if o.name != nil {
		if *o.name == "" {
			return nil, invalidSpec("name must not be empty")
		}
		t.Name = o.name
	}
	if o.skipIfOffline != nil {
		t.SkipIfOffline = *o.skipIfOffline
	}
	if o.maxCalls != nil {
		if *o.maxCalls <= 0 {
			return nil, invalidSpec("max calls must be positive, got %d", *o.maxCalls)
		}
		t.MaxCalls = o.maxCalls
	}
	if o.insertedAt != nil {
		t.InsertedAt = o.insertedAt.UTC().Truncate(time.Microsecond)
	}
	if o.updatedAt != nil {
		t.UpdatedAt = o.updatedAt.UTC().Truncate(time.Microsecond)
	}
	return t, nil
}

func (s *Scheduler) timerFromSpec(spec *TimerSpec, now time.Time) (*Timer, error) {
	var opts []TimerOption
	if spec.Name != "" {
		opts = append(opts, WithName(spec.Name))
	}
	if spec.MaxCalls != nil {
		opts = append(opts, WithMaxCalls(*spec.MaxCalls))
	}
	if spec.SkipIfOffline != nil {
		opts = append(opts, WithSkipIfOffline(*spec.SkipIfOffline))
	}
	t, err := s.newTimer(spec.Callable, opts)
	if err != nil {
		return nil, err
	}
	t.InsertedAt = now
	t.UpdatedAt = now

	switch {
	case spec.Interval != nil:
		if *spec.Interval <= 0 {
			return nil, invalidSpec("interval must be positive, got %s", *spec.Interval)
		}
		lead := *spec.Interval
		if spec.Duration != nil {
			if *spec.Duration < 0 {
				return nil, invalidSpec("negative lead-in %s", *spec.Duration)
			}
			lead = *spec.Duration
		}
		leadMS := lead.Milliseconds()
		intMS := spec.Interval.Milliseconds()
		t.Duration = &leadMS
		t.Interval = &intMS
	case spec.Crontab != "":
		if err := validateCrontab(spec.Crontab, spec.CrontabTimezone); err != nil {
			return nil, err
		}
		t.Crontab = spec.Crontab
		t.CrontabTimezone = spec.CrontabTimezone
	case spec.Duration != nil:
		if *spec.Duration < 0 {
			return nil, invalidSpec("negative delay %s", *spec.Duration)
		}
		ms := spec.Duration.Milliseconds()
		t.Duration = &ms
		if err := forceSingleShot(t); err != nil {
			return nil, err
		}
	case spec.At != nil:
		utc := spec.At.UTC().Truncate(time.Microsecond)
		t.ExpiresAt = &utc
		if err := forceSingleShot(t); err != nil {
			return nil, err
		}
	default:
		return nil, invalidSpec("spec has no schedule")
	}
	return t, nil
}

// create computes the first expiry, persists the row (replacing any row
// with the same name), and hints every worker.
func (s *Scheduler) create(ctx context.Context, t *Timer) (*Timer, error) {
	expiry, err := NextExpiry(*t, s.now().UTC())
	if err != nil {
		return nil, err
	}
	expiry = expiry.Truncate(time.Microsecond)
	t.ExpiresAt = &expiry
	stored, err := s.store.Insert(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("candleclock: insert timer: %w", err)
	}
	s.notifyExpiry(ctx, expiry)
	return stored, nil
}

func (s *Scheduler) notifyExpiry(ctx context.Context, at time.Time) {
	if err := s.bcast.NotifyExpiry(ctx, at); err != nil {
		slog.Warn("candleclock: wakeup broadcast failed", "error", err)
	}
}

func (s *Scheduler) notifyRefresh(ctx context.Context) {
	if err := s.bcast.NotifyRefresh(ctx); err != nil {
		slog.Warn("candleclock: refresh broadcast failed", "error", err)
	}
}

// forceSingleShot pins one-shot creates to a single firing. A duration
// or absolute timer has no schedule to advance past its first call.
func forceSingleShot(t *Timer) error {
	if t.MaxCalls != nil && *t.MaxCalls != 1 {
		return invalidSpec("single-shot timers fire exactly once")
	}
	one := 1
	t.MaxCalls = &one
	return nil
}

func validateCrontab(expr, timezone string) error {
	if expr == "" {
		return invalidSpec("empty cron expression")
	}
	if !gronx.New().IsValid(expr) {
		return invalidCron(expr, nil)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return invalidCron(expr, err)
		}
	}
	return nil
}
