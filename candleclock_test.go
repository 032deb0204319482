package candleclock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordBroadcaster struct {
	mu        sync.Mutex
	expiries  []time.Time
	refreshes int
}

func (r *recordBroadcaster) NotifyExpiry(_ context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiries = append(r.expiries, at)
	return nil
}

func (r *recordBroadcaster) NotifyRefresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return nil
}

func newTestScheduler(at time.Time) (*Scheduler, *memStore, *recordBroadcaster) {
	store := newMemStore()
	bcast := &recordBroadcaster{}
	sched := NewScheduler(store,
		WithBroadcaster(bcast),
		WithSchedulerClock(func() time.Time { return at }),
	)
	return sched, store, bcast
}

var testCallable = Callable{Module: "billing", Function: "close_invoice", Arguments: []byte(`{"invoice":42}`)}

func TestCallAfterComputesExpiryAndHints(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, bcast := newTestScheduler(base)

	timer, err := sched.CallAfter(context.Background(), testCallable, time.Minute)
	if err != nil {
		t.Fatalf("CallAfter: %v", err)
	}
	want := base.Add(time.Minute)
	if timer.ExpiresAt == nil || !timer.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %s", timer.ExpiresAt, want)
	}
	if timer.MaxCalls == nil || *timer.MaxCalls != 1 {
		t.Errorf("max_calls = %v, want 1", timer.MaxCalls)
	}
	if store.count() != 1 {
		t.Errorf("store holds %d rows, want 1", store.count())
	}
	if len(bcast.expiries) != 1 || !bcast.expiries[0].Equal(want) {
		t.Errorf("broadcast hints = %v, want [%s]", bcast.expiries, want)
	}
}

func TestCallAfterRejectsBadInput(t *testing.T) {
	sched, _, _ := newTestScheduler(mustParse(t, "2020-01-01T12:00:00Z"))
	ctx := context.Background()

	if _, err := sched.CallAfter(ctx, testCallable, -time.Second); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("negative delay: err = %v, want ErrInvalidSpec", err)
	}
	if _, err := sched.CallAfter(ctx, Callable{}, time.Second); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("empty callable: err = %v, want ErrInvalidSpec", err)
	}
	if _, err := sched.CallAfter(ctx, testCallable, time.Second, WithMaxCalls(3)); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("max_calls on one-shot: err = %v, want ErrInvalidSpec", err)
	}
	if _, err := sched.CallAfter(ctx, testCallable, time.Second, WithName("")); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("empty name: err = %v, want ErrInvalidSpec", err)
	}
}

func TestCallAtRoundTripsInstant(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, _, _ := newTestScheduler(base)

	at := mustParse(t, "2031-07-01T09:30:00Z")
	timer, err := sched.CallAt(context.Background(), testCallable, at)
	if err != nil {
		t.Fatalf("CallAt: %v", err)
	}
	if timer.ExpiresAt == nil || !timer.ExpiresAt.Equal(at) {
		t.Errorf("expires_at = %v, want %s", timer.ExpiresAt, at)
	}
}

func TestCallAtHonorsSkipIfOfflineFalse(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, _, _ := newTestScheduler(base)

	at := mustParse(t, "2031-07-01T09:30:00Z")
	timer, err := sched.CallAt(context.Background(), testCallable, at, WithSkipIfOffline(false))
	if err != nil {
		t.Fatalf("CallAt: %v", err)
	}
	if timer.ExpiresAt == nil || !timer.ExpiresAt.Equal(at) {
		t.Errorf("expires_at = %v, want %s", timer.ExpiresAt, at)
	}

	alarm := at
	specs := []TimerSpec{{Callable: testCallable, At: &alarm, SkipIfOffline: boolPtr(false)}}
	timers, err := sched.CreateMany(context.Background(), specs)
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if !timers[0].ExpiresAt.Equal(at) {
		t.Errorf("bulk alarm expires %s, want %s", timers[0].ExpiresAt, at)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestCallIntervalDefaultsLeadIn(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, _, _ := newTestScheduler(base)

	timer, err := sched.CallInterval(context.Background(), testCallable, 0, 10*time.Second)
	if err != nil {
		t.Fatalf("CallInterval: %v", err)
	}
	if want := base.Add(10 * time.Second); !timer.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %s, want %s", timer.ExpiresAt, want)
	}

	if _, err := sched.CallInterval(context.Background(), testCallable, 0, 0); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("zero interval: err = %v, want ErrInvalidSpec", err)
	}
}

func TestCallCrontabValidation(t *testing.T) {
	sched, _, _ := newTestScheduler(mustParse(t, "2020-01-01T12:00:00Z"))
	ctx := context.Background()

	if _, err := sched.CallCrontab(ctx, testCallable, "not a cron", ""); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("bad expression: err = %v, want ErrInvalidCron", err)
	}
	if _, err := sched.CallCrontab(ctx, testCallable, "0 12 * * *", "No/SuchZone"); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("bad timezone: err = %v, want ErrInvalidCron", err)
	}
	if _, err := sched.CallCrontab(ctx, testCallable, "0 12 * * *", "Europe/Berlin"); err != nil {
		t.Errorf("valid crontab: %v", err)
	}
}

func TestNamedCreateReplacesExisting(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, _ := newTestScheduler(base)
	ctx := context.Background()

	first, err := sched.CallAfter(ctx, testCallable, time.Minute, WithName("nightly"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := sched.CallAfter(ctx, testCallable, 2*time.Minute, WithName("nightly"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d rows, want 1", store.count())
	}
	if _, ok := store.get(first.ID); ok {
		t.Error("replaced row still present")
	}
	if _, ok := store.get(second.ID); !ok {
		t.Error("replacement row missing")
	}
}

func TestCancelSemantics(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, bcast := newTestScheduler(base)
	ctx := context.Background()

	timer, err := sched.CallAfter(ctx, testCallable, time.Minute, WithName("once"))
	if err != nil {
		t.Fatalf("CallAfter: %v", err)
	}

	if err := sched.CancelByID(ctx, timer.ID); err != nil {
		t.Fatalf("CancelByID: %v", err)
	}
	if store.count() != 0 {
		t.Errorf("store holds %d rows after cancel, want 0", store.count())
	}
	if bcast.refreshes != 1 {
		t.Errorf("refresh broadcasts = %d, want 1", bcast.refreshes)
	}

	if err := sched.CancelByID(ctx, timer.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second cancel: err = %v, want ErrNotFound", err)
	}
	if err := sched.CancelByName(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown name: err = %v, want ErrNotFound", err)
	}
}

func TestCancelAllByCallable(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, _ := newTestScheduler(base)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := sched.CallAfter(ctx, testCallable, time.Minute); err != nil {
			t.Fatalf("CallAfter: %v", err)
		}
	}
	other := Callable{Module: "mail", Function: "send_digest"}
	if _, err := sched.CallAfter(ctx, other, time.Minute); err != nil {
		t.Fatalf("CallAfter: %v", err)
	}

	n, err := sched.CancelAll(ctx, testCallable.Module, testCallable.Function)
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if n != 3 {
		t.Errorf("cancelled %d, want 3", n)
	}
	if store.count() != 1 {
		t.Errorf("store holds %d rows, want 1", store.count())
	}
}

func TestCreateManyBulkScenario(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, bcast := newTestScheduler(base)

	lead := 15 * time.Second
	interval := 10 * time.Second
	delay := 5 * time.Second
	seven := 7
	alarm := base.Add(48 * time.Hour)

	specs := []TimerSpec{
		{Callable: testCallable, Crontab: "0 0 * * *"},
		{Callable: testCallable, Duration: &lead, Interval: &interval, MaxCalls: &seven},
		{Callable: testCallable, Duration: &delay, Name: "x"},
		{Callable: testCallable, At: &alarm},
	}
	timers, err := sched.CreateMany(context.Background(), specs)
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if len(timers) != 4 {
		t.Fatalf("created %d timers, want 4", len(timers))
	}
	if store.count() != 4 {
		t.Fatalf("store holds %d rows, want 4", store.count())
	}

	if want := mustParse(t, "2020-01-02T00:00:00Z"); !timers[0].ExpiresAt.Equal(want) {
		t.Errorf("cron row expires %s, want %s", timers[0].ExpiresAt, want)
	}
	if want := base.Add(lead); !timers[1].ExpiresAt.Equal(want) {
		t.Errorf("interval row expires %s, want %s", timers[1].ExpiresAt, want)
	}
	if want := base.Add(delay); !timers[2].ExpiresAt.Equal(want) {
		t.Errorf("duration row expires %s, want %s", timers[2].ExpiresAt, want)
	}
	if !timers[3].ExpiresAt.Equal(alarm) {
		t.Errorf("alarm row expires %s, want %s", timers[3].ExpiresAt, alarm)
	}

	// The single hint carries the earliest of the batch.
	if len(bcast.expiries) != 1 || !bcast.expiries[0].Equal(base.Add(delay)) {
		t.Errorf("broadcast hints = %v, want [%s]", bcast.expiries, base.Add(delay))
	}
}

func TestCreateManyDuplicateNamesLastWins(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, store, _ := newTestScheduler(base)

	short := 5 * time.Second
	long := 10 * time.Second
	specs := []TimerSpec{
		{Callable: testCallable, Duration: &short, Name: "nightly"},
		{Callable: testCallable, Duration: &long, Name: "nightly"},
	}
	timers, err := sched.CreateMany(context.Background(), specs)
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d rows, want 1", store.count())
	}
	survivor, ok := store.get(timers[len(timers)-1].ID)
	if !ok {
		t.Fatal("last spec's row missing")
	}
	if want := base.Add(long); !survivor.ExpiresAt.Equal(want) {
		t.Errorf("survivor expires %s, want %s", survivor.ExpiresAt, want)
	}
}

func TestExistenceQueries(t *testing.T) {
	base := mustParse(t, "2020-01-01T12:00:00Z")
	sched, _, _ := newTestScheduler(base)
	ctx := context.Background()

	timer, err := sched.CallAfter(ctx, testCallable, time.Minute, WithName("probe"))
	if err != nil {
		t.Fatalf("CallAfter: %v", err)
	}

	if ok, _ := sched.NameExists(ctx, "probe"); !ok {
		t.Error("NameExists(probe) = false, want true")
	}
	if ok, _ := sched.NameExists(ctx, "ghost"); ok {
		t.Error("NameExists(ghost) = true, want false")
	}
	if ok, _ := sched.IDExists(ctx, timer.ID); !ok {
		t.Error("IDExists = false, want true")
	}
}
