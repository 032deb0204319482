package candleclock

import (
	"context"
	"time"
)

// Broadcaster fans wakeup hints out to every node's worker. Delivery is
// advisory and fire-and-forget: a missed hint only means a peer keeps its
// current (longer) sleep until its next refresh — the claim transaction
// remains the safety net against double firing.
type Broadcaster interface {
	// NotifyExpiry announces that a timer with the given expiry was
	// created, so peers can shorten their sleep if it is earlier.
	NotifyExpiry(ctx context.Context, at time.Time) error

	// NotifyRefresh asks peers to re-consult the store, typically after
	// a cancellation.
	NotifyRefresh(ctx context.Context) error
}

// NopBroadcaster is the single-node default: no peers to notify.
type NopBroadcaster struct{}

func (NopBroadcaster) NotifyExpiry(context.Context, time.Time) error { return nil }
func (NopBroadcaster) NotifyRefresh(context.Context) error          { return nil }
