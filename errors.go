package candleclock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCron is returned when a cron expression does not parse or
	// its timezone is unknown.
	ErrInvalidCron = errors.New("candleclock: invalid cron expression")

	// ErrInvalidSpec is returned when a timer spec is missing required
	// fields or combines conflicting schedule kinds.
	ErrInvalidSpec = errors.New("candleclock: invalid timer spec")

	// ErrNotFound is returned by cancel operations when no row matched.
	ErrNotFound = errors.New("candleclock: timer not found")
)

func invalidSpec(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

func invalidCron(expr string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, cause)
	}
	return fmt.Errorf("%w: %q", ErrInvalidCron, expr)
}
