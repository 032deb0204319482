// Package sqlite implements the candleclock store on SQLite for
// single-node deployments, via the cgo-free modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/candleclock"
)

const timerColumns = `id, callable_module, callable_function, arguments, expires_at, duration, "interval", crontab, crontab_timezone, calls, max_calls, skip_if_offline, name, executing, inserted_at, updated_at`

// Open opens (and creates if absent) a timer database at path. WAL mode
// and an immediate txlock keep the claim transaction race-free under the
// single-writer model; the busy timeout rides out writer contention.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return db, nil
}

// TimerStore is the SQLite adapter.
type TimerStore struct {
	db *sql.DB
}

var _ candleclock.Store = (*TimerStore)(nil)

// NewTimerStore wraps an open database handle.
func NewTimerStore(db *sql.DB) *TimerStore {
	return &TimerStore{db: db}
}

const replaceAssignments = `callable_module = excluded.callable_module,
		 callable_function = excluded.callable_function,
		 arguments = excluded.arguments,
		 expires_at = excluded.expires_at,
		 duration = excluded.duration,
		 "interval" = excluded."interval",
		 crontab = excluded.crontab,
		 crontab_timezone = excluded.crontab_timezone,
		 calls = excluded.calls,
		 max_calls = excluded.max_calls,
		 skip_if_offline = excluded.skip_if_offline,
		 executing = excluded.executing,
		 inserted_at = excluded.inserted_at,
		 updated_at = excluded.updated_at`

func (s *TimerStore) Insert(ctx context.Context, t *candleclock.Timer) (*candleclock.Timer, error) {
	q := fmt.Sprintf(`INSERT INTO candle_clock_timers (%s)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET %s
		 RETURNING %s`, timerColumns, replaceAssignments, timerColumns)
	stored, err := scanTimer(s.db.QueryRowContext(ctx, q, insertArgs(t)...))
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert timer: %w", err)
	}
	return stored, nil
}

func (s *TimerStore) InsertMany(ctx context.Context, ts []*candleclock.Timer) ([]*candleclock.Timer, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`INSERT INTO candle_clock_timers (%s)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET %s
		 RETURNING %s`, timerColumns, replaceAssignments, timerColumns)
	stored := make([]*candleclock.Timer, 0, len(ts))
	for _, t := range ts {
		got, err := scanTimer(tx.QueryRowContext(ctx, q, insertArgs(t)...))
		if err != nil {
			return nil, fmt.Errorf("sqlite: bulk insert: %w", err)
		}
		stored = append(stored, got)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit bulk insert: %w", err)
	}
	return stored, nil
}

func (s *TimerStore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM candle_clock_timers WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete timer: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) DeleteByName(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM candle_clock_timers WHERE name = ?", name)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete timer by name: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) DeleteByCallable(ctx context.Context, module, function string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM candle_clock_timers WHERE callable_module = ? AND callable_function = ?",
		module, function)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete timers by callable: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) IDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM candle_clock_timers WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: id exists: %w", err)
	}
	return exists, nil
}

func (s *TimerStore) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM candle_clock_timers WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: name exists: %w", err)
	}
	return exists, nil
}

func (s *TimerStore) List(ctx context.Context, limit int) ([]*candleclock.Timer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM candle_clock_timers ORDER BY expires_at ASC LIMIT ?", timerColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list timers: %w", err)
	}
	defer rows.Close()

	var timers []*candleclock.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

func insertArgs(t *candleclock.Timer) []any {
	var crontab, tz, name *string
	if t.Crontab != "" {
		crontab = &t.Crontab
	}
	if t.CrontabTimezone != "" {
		tz = &t.CrontabTimezone
	}
	name = t.Name
	var expiresAt int64
	if t.ExpiresAt != nil {
		expiresAt = t.ExpiresAt.UTC().UnixMicro()
	}
	return []any{
		t.ID.String(), t.Module, t.Function, t.Arguments, expiresAt,
		t.Duration, t.Interval, crontab, tz,
		t.Calls, t.MaxCalls, t.SkipIfOffline, name, t.Executing,
		t.InsertedAt.UTC().UnixMicro(), t.UpdatedAt.UTC().UnixMicro(),
	}
}
