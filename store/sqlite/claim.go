package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/candleclock"
)

// ClaimNext marks the earliest due timer executing and returns it. The
// immediate-txlock transaction takes the database write lock before the
// read, so the select-then-update pair is atomic without row locks.
func (s *TimerStore) ClaimNext(ctx context.Context, now time.Time, reclaimWindow time.Duration) (*candleclock.Timer, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: begin claim: %w", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`SELECT %s FROM candle_clock_timers
		 WHERE expires_at < ? AND (executing = 0 OR expires_at < ?)
		 ORDER BY expires_at ASC
		 LIMIT 1`, timerColumns)
	t, err := scanTimer(tx.QueryRowContext(ctx, q,
		now.UTC().UnixMicro(), now.Add(-reclaimWindow).UTC().UnixMicro()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: claim select: %w", err)
	}
	reclaimed := t.Executing

	res, err := tx.ExecContext(ctx,
		"UPDATE candle_clock_timers SET executing = 1, updated_at = ? WHERE id = ?",
		now.UTC().UnixMicro(), t.ID.String())
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: claim update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: claim update: %w", err)
	}
	if affected != 1 {
		return nil, false, fmt.Errorf("sqlite: claim update affected %d rows", affected)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: commit claim: %w", err)
	}
	t.Executing = true
	t.UpdatedAt = now.UTC()
	return t, reclaimed, nil
}

// FinishFire releases the lease, advancing the expiry and call count.
func (s *TimerStore) FinishFire(ctx context.Context, id uuid.UUID, next time.Time, calls int, updatedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE candle_clock_timers SET expires_at = ?, calls = ?, executing = 0, updated_at = ? WHERE id = ?",
		next.UTC().UnixMicro(), calls, updatedAt.UTC().UnixMicro(), id.String())
	if err != nil {
		return 0, fmt.Errorf("sqlite: finish fire: %w", err)
	}
	return res.RowsAffected()
}

// EarliestExpiry returns the soonest expiry among claimable rows, or nil
// when none are outstanding.
func (s *TimerStore) EarliestExpiry(ctx context.Context, now time.Time, reclaimWindow time.Duration) (*time.Time, error) {
	var usec int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM candle_clock_timers
		 WHERE executing = 0 OR expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT 1`,
		now.Add(-reclaimWindow).UTC().UnixMicro()).Scan(&usec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: earliest expiry: %w", err)
	}
	at := time.UnixMicro(usec).UTC()
	return &at, nil
}
