package pg

import (
	"github.com/nextlevelbuilder/candleclock"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTimer reads one timerColumns row. Nullable columns scan through
// pointers so NULL maps to the zero value or a nil field.
func scanTimer(row rowScanner) (*candleclock.Timer, error) {
	var (
		t           candleclock.Timer
		crontab, tz *string
	)
	err := row.Scan(
		&t.ID, &t.Module, &t.Function, &t.Arguments, &t.ExpiresAt,
		&t.Duration, &t.Interval, &crontab, &tz,
		&t.Calls, &t.MaxCalls, &t.SkipIfOffline, &t.Name, &t.Executing,
		&t.InsertedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if crontab != nil {
		t.Crontab = *crontab
	}
	if tz != nil {
		t.CrontabTimezone = *tz
	}
	if t.ExpiresAt != nil {
		utc := t.ExpiresAt.UTC()
		t.ExpiresAt = &utc
	}
	t.InsertedAt = t.InsertedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
