package candleclock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler is an application callback invoked when a timer fires. The
// argument payload is the exact bytes stored at creation; the handler
// owns the codec.
type Handler func(ctx context.Context, args []byte) error

// Executor receives claimed timers from the dispatcher worker. Execute
// must return promptly: the action itself runs on its own goroutine, all
// faults are caught and reported internally, and the worker is never
// blocked or failed by a handler.
type Executor interface {
	Execute(ctx context.Context, t *Timer)
}

// Registry maps (module, function) pairs to handlers. Applications
// register handlers once at startup; handler identities are stable across
// restarts, which is what lets persisted timers survive them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func handlerKey(module, function string) string {
	return module + "." + function
}

// Register binds a handler to a (module, function) pair, replacing any
// previous binding.
func (r *Registry) Register(module, function string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey(module, function)] = fn
}

// Lookup returns the handler bound to the pair, if any.
func (r *Registry) Lookup(module, function string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[handlerKey(module, function)]
	return fn, ok
}

// Execute dispatches the timer's handler on a fresh goroutine and
// returns immediately. Panics and errors are logged with the timer's
// identifying fields; they never reach the worker.
func (r *Registry) Execute(ctx context.Context, t *Timer) {
	fn, ok := r.Lookup(t.Module, t.Function)
	if !ok {
		slog.Error("candleclock: no handler registered for timer",
			"id", t.ID, "module", t.Module, "function", t.Function)
		return
	}
	args := t.Arguments
	id, module, function := t.ID, t.Module, t.Function
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("candleclock: executor fault",
					"id", id, "module", module, "function", function,
					"error", fmt.Sprintf("panic: %v", rec))
			}
		}()
		if err := fn(ctx, args); err != nil {
			slog.Error("candleclock: executor fault",
				"id", id, "module", module, "function", function, "error", err)
		}
	}()
}
