package candleclock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultExecutionThreshold is the gap below which the worker
	// dispatches immediately instead of arming a sleep. It amortizes
	// timer overhead and makes startup catch-up prompt.
	DefaultExecutionThreshold = 150 * time.Millisecond

	// DefaultReclaimWindow is how long an executing row may sit past its
	// expiry before it is treated as an orphaned lease from a crashed
	// worker and becomes claimable again.
	DefaultReclaimWindow = time.Hour

	// refreshErrorBackoff delays the next store consultation after a
	// failed refresh query.
	refreshErrorBackoff = 30 * time.Second

	workerInboxSize = 64
)

type workerMsgKind int

const (
	msgExpiryHint workerMsgKind = iota
	msgRefresh
	msgPolicy
)

type workerMsg struct {
	kind      workerMsgKind
	at        time.Time
	threshold time.Duration
	window    time.Duration
}

// Worker is the per-node dispatcher: a single goroutine that sleeps until
// the earliest due timer, claims it, hands it to the executor, and
// reschedules or deletes the row. External callers interact with it only
// through messages; all arming state lives in the run goroutine.
type Worker struct {
	store  Store
	exec   Executor
	now    func() time.Time
	tracer trace.Tracer
	inbox  chan workerMsg

	// Touched only by the run goroutine.
	threshold time.Duration
	window    time.Duration
	timer     *time.Timer
	timerC    <-chan time.Time
	armedFor  time.Time
	armed     bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithExecutionThreshold overrides the immediate-dispatch threshold.
func WithExecutionThreshold(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.threshold = d
		}
	}
}

// WithReclaimWindow overrides the orphaned-lease recovery window.
func WithReclaimWindow(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker builds the node's dispatcher. One per process node.
func NewWorker(st Store, exec Executor, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     st,
		exec:      exec,
		now:       time.Now,
		tracer:    otel.Tracer("github.com/nextlevelbuilder/candleclock"),
		inbox:     make(chan workerMsg, workerInboxSize),
		threshold: DefaultExecutionThreshold,
		window:    DefaultReclaimWindow,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetNextExpiry hints that a timer expiring at the given instant was
// created. Non-blocking; a full inbox drops the hint, which is safe
// because hints are advisory.
func (w *Worker) SetNextExpiry(at time.Time) {
	w.send(workerMsg{kind: msgExpiryHint, at: at})
}

// Refresh asks the worker to re-consult the store and re-arm.
func (w *Worker) Refresh() {
	w.send(workerMsg{kind: msgRefresh})
}

// UpdatePolicy adjusts the execution threshold and reclaim window at
// runtime, then triggers a refresh. Zero values keep the current setting.
func (w *Worker) UpdatePolicy(threshold, window time.Duration) {
	w.send(workerMsg{kind: msgPolicy, threshold: threshold, window: window})
}

func (w *Worker) send(m workerMsg) {
	select {
	case w.inbox <- m:
	default:
		slog.Debug("candleclock: worker inbox full, hint dropped", "kind", int(m.kind))
	}
}

// Run executes the dispatch loop until ctx is cancelled. It performs an
// initial refresh, which is how timers missed during downtime get fired
// at startup.
func (w *Worker) Run(ctx context.Context) error {
	defer w.disarm()
	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-w.inbox:
			switch m.kind {
			case msgExpiryHint:
				w.considerHint(ctx, m.at)
			case msgRefresh:
				w.refresh(ctx)
			case msgPolicy:
				if m.threshold > 0 {
					w.threshold = m.threshold
				}
				if m.window > 0 {
					w.window = m.window
				}
				slog.Info("candleclock: worker policy updated",
					"execution_threshold", w.threshold, "reclaim_window", w.window)
				w.refresh(ctx)
			}
		case <-w.timerC:
			w.armed = false
			w.fireLoop(ctx)
			w.refresh(ctx)
		}
	}
}

// considerHint re-arms only when the hinted instant is strictly earlier
// than the current sleep. Peers may hint later instants; ignoring those
// avoids pointless churn.
func (w *Worker) considerHint(ctx context.Context, at time.Time) {
	if w.armed && !at.Before(w.armedFor) {
		return
	}
	if w.gapWithinThreshold(ctx, at) {
		w.fireLoop(ctx)
		w.refresh(ctx)
		return
	}
	w.armFor(at)
}

// refresh queries the earliest claimable expiry and arms for it,
// dispatching inline while rows fall within the execution threshold.
// With no outstanding rows the worker goes idle until the next hint.
func (w *Worker) refresh(ctx context.Context) {
	w.disarm()
	for ctx.Err() == nil {
		earliest, err := w.store.EarliestExpiry(ctx, w.now(), w.window)
		if err != nil {
			slog.Warn("candleclock: refresh query failed, backing off", "error", err)
			w.armFor(w.now().Add(refreshErrorBackoff))
			return
		}
		if earliest == nil {
			return
		}
		if !w.gapWithinThreshold(ctx, *earliest) {
			w.armFor(*earliest)
			return
		}
		w.fireLoop(ctx)
	}
}

// gapWithinThreshold reports whether the instant is close enough (or
// overdue enough) to dispatch without arming a sleep. A small positive
// gap is slept out inline first.
func (w *Worker) gapWithinThreshold(ctx context.Context, at time.Time) bool {
	gap := at.Sub(w.now())
	if gap > w.threshold {
		return false
	}
	if gap > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(gap):
		}
	}
	return true
}

// fireLoop claims and dispatches due timers until none remain. Claim or
// reschedule failures abort the loop; the caller's refresh re-arms.
func (w *Worker) fireLoop(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, reclaimed, err := w.store.ClaimNext(ctx, w.now(), w.window)
		if err != nil {
			slog.Warn("candleclock: claim failed", "error", err)
			return
		}
		if claimed == nil {
			return
		}
		if reclaimed {
			slog.Info("candleclock: reclaimed orphaned timer",
				"id", claimed.ID, "module", claimed.Module, "function", claimed.Function,
				"expired_at", claimed.ExpiresAt)
		}
		if err := w.dispatch(ctx, claimed); err != nil {
			return
		}
	}
}

// dispatch hands the timer to the executor (fire-and-forget) and
// immediately reschedules or deletes the row without awaiting execution.
func (w *Worker) dispatch(ctx context.Context, t *Timer) error {
	ctx, span := w.tracer.Start(ctx, "candleclock.dispatch", trace.WithAttributes(
		attribute.String("timer.id", t.ID.String()),
		attribute.String("timer.module", t.Module),
		attribute.String("timer.function", t.Function),
		attribute.Int("timer.calls", t.Calls),
	))
	defer span.End()

	// Handlers are not tied to the worker's lifetime: a shutdown cancels
	// the dispatch loop, never an in-flight action.
	w.exec.Execute(context.WithoutCancel(ctx), t)

	if t.LastCall() {
		if _, err := w.store.Delete(ctx, t.ID); err != nil {
			slog.Error("candleclock: delete after final call failed", "id", t.ID, "error", err)
			return err
		}
		slog.Debug("candleclock: timer reached max calls, deleted", "id", t.ID, "calls", t.Calls+1)
		return nil
	}

	next := *t
	next.Calls++
	if next.SkipIfOffline {
		// The firing consumed this expiry; skip mode recomputes from now.
		next.ExpiresAt = nil
	}
	due, err := NextExpiry(next, w.now())
	if err != nil {
		// Leave the lease in place; the reclaim window recovers the row.
		slog.Error("candleclock: reschedule failed", "id", t.ID, "error", err)
		return err
	}
	affected, err := w.store.FinishFire(ctx, t.ID, due, t.Calls+1, w.now())
	if err != nil {
		slog.Error("candleclock: post-fire update failed", "id", t.ID, "error", err)
		return err
	}
	if affected != 1 {
		// Row vanished under us, most likely a concurrent cancel.
		slog.Warn("candleclock: post-fire update affected unexpected rows",
			"id", t.ID, "affected", affected)
		return errUnexpectedAffected
	}
	return nil
}

var errUnexpectedAffected = errors.New("candleclock: post-fire update affected != 1 row")

// armFor (re)arms the sleep timer for the given instant. Only the run
// goroutine calls it.
func (w *Worker) armFor(at time.Time) {
	d := at.Sub(w.now())
	if d < 0 {
		d = 0
	}
	if w.timer == nil {
		w.timer = time.NewTimer(d)
		w.timerC = w.timer.C
	} else {
		if !w.timer.Stop() {
			select {
			case <-w.timer.C:
			default:
			}
		}
		w.timer.Reset(d)
	}
	w.armedFor = at
	w.armed = true
}

// disarm stops the sleep timer and drains a pending tick so a stale
// expiry never wakes the loop.
func (w *Worker) disarm() {
	if w.timer != nil && !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}
	w.armed = false
}
