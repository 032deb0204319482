package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/candleclock"
)

// ClaimNext locks the earliest due timer, marks it executing, and
// returns it. A row already executing is only claimable once its expiry
// is older than the reclaim window, which recovers leases orphaned by a
// crashed worker. The row lock serializes competing nodes: the loser's
// re-read sees executing = TRUE and walks away empty-handed.
func (s *TimerStore) ClaimNext(ctx context.Context, now time.Time, reclaimWindow time.Duration) (*candleclock.Timer, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("pg: begin claim: %w", err)
	}
	defer tx.Rollback()

	horizon := now.Add(-reclaimWindow)
	q := fmt.Sprintf(`SELECT %s FROM %s
		 WHERE expires_at < $1 AND (NOT executing OR expires_at < $2)
		 ORDER BY expires_at ASC
		 LIMIT 1
		 FOR UPDATE`, timerColumns, s.table)
	t, err := scanTimer(tx.QueryRowContext(ctx, q, now.UTC(), horizon.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pg: claim select: %w", err)
	}
	reclaimed := t.Executing

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET executing = TRUE, updated_at = $1 WHERE id = $2", s.table),
		now.UTC(), t.ID)
	if err != nil {
		return nil, false, fmt.Errorf("pg: claim update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("pg: claim update: %w", err)
	}
	if affected != 1 {
		return nil, false, fmt.Errorf("pg: claim update affected %d rows", affected)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("pg: commit claim: %w", err)
	}
	t.Executing = true
	t.UpdatedAt = now.UTC()
	return t, reclaimed, nil
}

// FinishFire releases the lease after a firing, advancing the expiry and
// call count in one write.
func (s *TimerStore) FinishFire(ctx context.Context, id uuid.UUID, next time.Time, calls int, updatedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET expires_at = $1, calls = $2, executing = FALSE, updated_at = $3 WHERE id = $4", s.table),
		next.UTC(), calls, updatedAt.UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("pg: finish fire: %w", err)
	}
	return res.RowsAffected()
}

// EarliestExpiry returns the soonest expiry among claimable rows, or nil
// when none are outstanding.
func (s *TimerStore) EarliestExpiry(ctx context.Context, now time.Time, reclaimWindow time.Duration) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT expires_at FROM %s
			 WHERE NOT executing OR expires_at < $1
			 ORDER BY expires_at ASC
			 LIMIT 1`, s.table),
		now.Add(-reclaimWindow).UTC()).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: earliest expiry: %w", err)
	}
	utc := at.UTC()
	return &utc, nil
}
