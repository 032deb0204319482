// Package pg implements the candleclock store on Postgres, using
// database/sql over the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/candleclock"
)

// DefaultTable is the timers table created by the bundled migrations.
const DefaultTable = "candle_clock_timers"

const timerColumns = `id, callable_module, callable_function, arguments, expires_at, duration, "interval", crontab, crontab_timezone, calls, max_calls, skip_if_offline, name, executing, inserted_at, updated_at`

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TimerStore is the Postgres adapter. The connection pool is provided by
// the application; the store never opens or closes it.
type TimerStore struct {
	db    *sql.DB
	table string
}

var _ candleclock.Store = (*TimerStore)(nil)

// Option configures a TimerStore.
type Option func(*TimerStore)

// WithTable overrides the timers table name. Callers using a non-default
// name manage the schema themselves.
func WithTable(name string) Option {
	return func(s *TimerStore) {
		if name != "" {
			s.table = name
		}
	}
}

// NewTimerStore wraps an existing pool.
func NewTimerStore(db *sql.DB, opts ...Option) (*TimerStore, error) {
	s := &TimerStore{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !identPattern.MatchString(s.table) {
		return nil, fmt.Errorf("pg: invalid table name %q", s.table)
	}
	return s, nil
}

func (s *TimerStore) Insert(ctx context.Context, t *candleclock.Timer) (*candleclock.Timer, error) {
	q := fmt.Sprintf(`INSERT INTO %s (%s)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (name) DO UPDATE SET %s
		 RETURNING %s`, s.table, timerColumns, replaceAssignments, timerColumns)
	row := s.db.QueryRowContext(ctx, q, insertArgs(t)...)
	stored, err := scanTimer(row)
	if err != nil {
		return nil, fmt.Errorf("pg: insert timer: %w", err)
	}
	return stored, nil
}

func (s *TimerStore) InsertMany(ctx context.Context, ts []*candleclock.Timer) ([]*candleclock.Timer, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	// A single INSERT cannot update the same conflicting row twice, so a
	// batch carrying duplicate names keeps only the last spec per name.
	ts = dedupeByName(ts)
	var (
		values strings.Builder
		args   []any
	)
	for i, t := range ts {
		if i > 0 {
			values.WriteString(", ")
		}
		base := i * 16
		values.WriteByte('(')
		for j := 1; j <= 16; j++ {
			if j > 1 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "$%d", base+j)
		}
		values.WriteByte(')')
		args = append(args, insertArgs(t)...)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s
		 ON CONFLICT (name) DO UPDATE SET %s
		 RETURNING %s`, s.table, timerColumns, values.String(), replaceAssignments, timerColumns)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: bulk insert: %w", err)
	}
	defer rows.Close()

	var stored []*candleclock.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: bulk insert scan: %w", err)
		}
		stored = append(stored, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: bulk insert: %w", err)
	}
	return stored, nil
}

func (s *TimerStore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), id)
	if err != nil {
		return 0, fmt.Errorf("pg: delete timer: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) DeleteByName(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = $1", s.table), name)
	if err != nil {
		return 0, fmt.Errorf("pg: delete timer by name: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) DeleteByCallable(ctx context.Context, module, function string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE callable_module = $1 AND callable_function = $2", s.table),
		module, function)
	if err != nil {
		return 0, fmt.Errorf("pg: delete timers by callable: %w", err)
	}
	return res.RowsAffected()
}

func (s *TimerStore) IDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.table), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pg: id exists: %w", err)
	}
	return exists, nil
}

func (s *TimerStore) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)", s.table), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pg: name exists: %w", err)
	}
	return exists, nil
}

func (s *TimerStore) List(ctx context.Context, limit int) ([]*candleclock.Timer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY expires_at ASC LIMIT $1", timerColumns, s.table), limit)
	if err != nil {
		return nil, fmt.Errorf("pg: list timers: %w", err)
	}
	defer rows.Close()

	var timers []*candleclock.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: list scan: %w", err)
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// replaceAssignments implements "on conflict replace all": every column
// except the primary key takes the incoming value.
const replaceAssignments = `callable_module = EXCLUDED.callable_module,
		 callable_function = EXCLUDED.callable_function,
		 arguments = EXCLUDED.arguments,
		 expires_at = EXCLUDED.expires_at,
		 duration = EXCLUDED.duration,
		 "interval" = EXCLUDED."interval",
		 crontab = EXCLUDED.crontab,
		 crontab_timezone = EXCLUDED.crontab_timezone,
		 calls = EXCLUDED.calls,
		 max_calls = EXCLUDED.max_calls,
		 skip_if_offline = EXCLUDED.skip_if_offline,
		 executing = EXCLUDED.executing,
		 inserted_at = EXCLUDED.inserted_at,
		 updated_at = EXCLUDED.updated_at`

func dedupeByName(ts []*candleclock.Timer) []*candleclock.Timer {
	last := make(map[string]int, len(ts))
	dups := false
	for i, t := range ts {
		if t.Name == nil {
			continue
		}
		if _, seen := last[*t.Name]; seen {
			dups = true
		}
		last[*t.Name] = i
	}
	if !dups {
		return ts
	}
	out := make([]*candleclock.Timer, 0, len(ts))
	for i, t := range ts {
		if t.Name != nil && last[*t.Name] != i {
			continue
		}
		out = append(out, t)
	}
	return out
}

func insertArgs(t *candleclock.Timer) []any {
	var crontab, tz *string
	if t.Crontab != "" {
		crontab = &t.Crontab
	}
	if t.CrontabTimezone != "" {
		tz = &t.CrontabTimezone
	}
	var expiresAt *time.Time
	if t.ExpiresAt != nil {
		utc := t.ExpiresAt.UTC()
		expiresAt = &utc
	}
	return []any{
		t.ID, t.Module, t.Function, t.Arguments, expiresAt,
		t.Duration, t.Interval, crontab, tz,
		t.Calls, t.MaxCalls, t.SkipIfOffline, t.Name, t.Executing,
		t.InsertedAt.UTC(), t.UpdatedAt.UTC(),
	}
}
