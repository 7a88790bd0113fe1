// Package schedule decides whether a cron schedule is due given the last run time.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ironscout/harvester/infrastructure/logger"
)

const (
	// DefaultSchedule applies when a target or adapter has no schedule.
	DefaultSchedule = "0 */4 * * *"

	// FallbackInterval is used in place of an unparsable schedule.
	FallbackInterval = 4 * time.Hour
)

// ErrInvalidCronExpression wraps parser failures.
var ErrInvalidCronExpression = errors.New("invalid cron expression")

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a five-field expression or descriptor. Empty means DefaultSchedule.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultSchedule
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidCronExpression, expr, err)
	}
	return sched, nil
}

// Evaluate reports whether a schedule is due. A nil lastRun is always due.
// Otherwise the schedule is due when its first firing after lastRun is at or
// before now, which is the same as lastRun preceding the most recent firing.
// On a parse error the result falls back to FallbackInterval elapsed and the
// error is returned alongside it.
func Evaluate(expr *string, lastRun *time.Time, now time.Time) (bool, error) {
	if lastRun == nil {
		return true, nil
	}

	var raw string
	if expr != nil {
		raw = *expr
	}

	sched, err := Parse(raw)
	if err != nil {
		return now.Sub(*lastRun) > FallbackInterval, err
	}

	next := sched.Next(lastRun.UTC())
	return !next.After(now.UTC()), nil
}

// DueCalculator evaluates schedules and logs malformed expressions.
type DueCalculator struct {
	logger logger.Logger
}

// NewDueCalculator creates a calculator that logs through log.
func NewDueCalculator(log logger.Logger) *DueCalculator {
	return &DueCalculator{logger: log}
}

// IsDue never fails: malformed schedules are logged and degrade to the
// fallback interval.
func (d *DueCalculator) IsDue(expr *string, lastRun *time.Time, now time.Time) bool {
	due, err := Evaluate(expr, lastRun, now)
	if err != nil {
		d.logger.Warn("Invalid schedule, using fallback interval",
			logger.Error(err),
			logger.Duration("fallback_interval", FallbackInterval),
			logger.Bool("due", due),
		)
	}
	return due
}
