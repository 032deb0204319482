package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type recordHinter struct {
	mu        sync.Mutex
	expiries  []time.Time
	refreshes int
}

func (r *recordHinter) SetNextExpiry(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiries = append(r.expiries, at)
}

func (r *recordHinter) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
}

func TestLocalForwardsHints(t *testing.T) {
	h := &recordHinter{}
	l := NewLocal(h)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := l.NotifyExpiry(context.Background(), at); err != nil {
		t.Fatalf("NotifyExpiry: %v", err)
	}
	if err := l.NotifyRefresh(context.Background()); err != nil {
		t.Fatalf("NotifyRefresh: %v", err)
	}

	if len(h.expiries) != 1 || !h.expiries[0].Equal(at) {
		t.Errorf("expiry hints = %v, want [%s]", h.expiries, at)
	}
	if h.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", h.refreshes)
	}
}

func TestHintWireRoundTrip(t *testing.T) {
	h := &recordHinter{}

	at := time.Date(2026, 3, 1, 9, 0, 0, 123456000, time.UTC)
	payload, err := encodeExpiry(at)
	if err != nil {
		t.Fatalf("encodeExpiry: %v", err)
	}
	deliver(payload, h)

	payload, err = encodeRefresh()
	if err != nil {
		t.Fatalf("encodeRefresh: %v", err)
	}
	deliver(payload, h)

	if len(h.expiries) != 1 || !h.expiries[0].Equal(at) {
		t.Errorf("expiry hints = %v, want [%s]", h.expiries, at)
	}
	if h.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", h.refreshes)
	}
}

func TestDeliverDropsGarbage(t *testing.T) {
	h := &recordHinter{}
	deliver([]byte("not json"), h)
	deliver([]byte(`{"op":"reboot_the_moon"}`), h)

	if len(h.expiries) != 0 || h.refreshes != 0 {
		t.Errorf("garbage reached the hinter: %+v", h)
	}
}

func TestRedisRefreshCoalesces(t *testing.T) {
	// The limiter gates before any network I/O, so a nil client is never
	// touched once the burst is spent.
	r := &Redis{refresh: rate.NewLimiter(rate.Every(100*time.Millisecond), 1), channel: DefaultRedisChannel}
	if allowed := r.refresh.Allow(); !allowed {
		t.Fatal("first refresh should pass the limiter")
	}
	if allowed := r.refresh.Allow(); allowed {
		t.Fatal("second immediate refresh should be coalesced")
	}
}
