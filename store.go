package candleclock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract the core consumes. Implementations
// live under store/ (Postgres, SQLite); the core never builds SQL itself.
//
// All instants passed in and out are UTC. Implementations must round-trip
// the opaque Arguments payload losslessly and store instants at
// microsecond precision.
type Store interface {
	// Insert persists one timer. A row with the same non-empty name is
	// replaced wholesale. Returns the stored value.
	Insert(ctx context.Context, t *Timer) (*Timer, error)

	// InsertMany persists a batch in a single round trip, with the same
	// replace-by-name conflict handling.
	InsertMany(ctx context.Context, ts []*Timer) ([]*Timer, error)

	// ClaimNext atomically picks the earliest timer due before now,
	// marks it executing under a row lock, and returns it. Rows already
	// executing are claimable again once their expiry is older than the
	// reclaim window (orphaned leases); reclaimed reports that case.
	// Returns (nil, false, nil) when nothing is due.
	ClaimNext(ctx context.Context, now time.Time, reclaimWindow time.Duration) (t *Timer, reclaimed bool, err error)

	// FinishFire clears the lease after a firing, advancing the call
	// counter and the expiry. Returns the number of rows updated.
	FinishFire(ctx context.Context, id uuid.UUID, next time.Time, calls int, updatedAt time.Time) (int64, error)

	// EarliestExpiry returns the soonest expiry among claimable rows
	// (not executing, or orphaned relative to now), or nil when none.
	EarliestExpiry(ctx context.Context, now time.Time, reclaimWindow time.Duration) (*time.Time, error)

	Delete(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteByName(ctx context.Context, name string) (int64, error)
	DeleteByCallable(ctx context.Context, module, function string) (int64, error)

	IDExists(ctx context.Context, id uuid.UUID) (bool, error)
	NameExists(ctx context.Context, name string) (bool, error)

	// List returns up to limit rows ordered by expiry, for inspection.
	List(ctx context.Context, limit int) ([]*Timer, error)
}
