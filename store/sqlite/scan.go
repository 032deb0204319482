package sqlite

import (
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/candleclock"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTimer reads one timerColumns row. Instants are stored as unix
// microseconds and surfaced as UTC time.Time values.
func scanTimer(row rowScanner) (*candleclock.Timer, error) {
	var (
		t                     candleclock.Timer
		id                    string
		crontab, tz           *string
		expiresAt             int64
		insertedAt, updatedAt int64
	)
	err := row.Scan(
		&id, &t.Module, &t.Function, &t.Arguments, &expiresAt,
		&t.Duration, &t.Interval, &crontab, &tz,
		&t.Calls, &t.MaxCalls, &t.SkipIfOffline, &t.Name, &t.Executing,
		&insertedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if crontab != nil {
		t.Crontab = *crontab
	}
	if tz != nil {
		t.CrontabTimezone = *tz
	}
	exp := time.UnixMicro(expiresAt).UTC()
	t.ExpiresAt = &exp
	t.InsertedAt = time.UnixMicro(insertedAt).UTC()
	t.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &t, nil
}
