package cluster

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/candleclock"
)

// Local short-circuits hints straight to the in-process worker. It is
// the single-node transport, typically paired with the sqlite store.
type Local struct {
	h Hinter
}

var _ candleclock.Broadcaster = (*Local)(nil)

// NewLocal wires the broadcaster to a worker.
func NewLocal(h Hinter) *Local {
	return &Local{h: h}
}

func (l *Local) NotifyExpiry(_ context.Context, at time.Time) error {
	l.h.SetNextExpiry(at)
	return nil
}

func (l *Local) NotifyRefresh(_ context.Context) error {
	l.h.Refresh()
	return nil
}
