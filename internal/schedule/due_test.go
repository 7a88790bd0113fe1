package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/schedule"
)

func ptr[T any](v T) *T { return &v }

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestEvaluate_NilLastRunAlwaysDue(t *testing.T) {
	t.Parallel()

	now := mustTime(t, "2026-03-01T10:00:00Z")
	for _, expr := range []*string{nil, ptr("0 */6 * * *"), ptr("not a cron")} {
		due, err := schedule.Evaluate(expr, nil, now)
		if err != nil || !due {
			t.Errorf("Evaluate(%v, nil) = %v, %v; want true, nil", expr, due, err)
		}
	}
}

func TestEvaluate_SixHourSchedule(t *testing.T) {
	t.Parallel()

	every6h := ptr("0 */6 * * *")
	tests := []struct {
		name    string
		lastRun string
		now     string
		want    bool
	}{
		{name: "one interval ago", lastRun: "2026-03-01T06:00:00Z", now: "2026-03-01T12:00:00Z", want: true},
		{name: "one second after firing", lastRun: "2026-03-01T12:00:00Z", now: "2026-03-01T12:00:01Z", want: false},
		{name: "between firings", lastRun: "2026-03-01T07:30:00Z", now: "2026-03-01T11:59:59Z", want: false},
		{name: "crossed a firing", lastRun: "2026-03-01T07:30:00Z", now: "2026-03-01T12:00:00Z", want: true},
		{name: "several firings missed", lastRun: "2026-02-27T01:00:00Z", now: "2026-03-01T12:00:00Z", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			last := mustTime(t, tt.lastRun)
			due, err := schedule.Evaluate(every6h, &last, mustTime(t, tt.now))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if due != tt.want {
				t.Errorf("due = %v, want %v", due, tt.want)
			}
		})
	}
}

func TestEvaluate_DefaultScheduleWhenNil(t *testing.T) {
	t.Parallel()

	last := mustTime(t, "2026-03-01T04:00:00Z")
	if due, _ := schedule.Evaluate(nil, &last, mustTime(t, "2026-03-01T07:59:00Z")); due {
		t.Error("expected not due before the next 4-hour firing")
	}
	if due, _ := schedule.Evaluate(nil, &last, mustTime(t, "2026-03-01T08:00:00Z")); !due {
		t.Error("expected due at the next 4-hour firing")
	}
}

func TestEvaluate_Descriptor(t *testing.T) {
	t.Parallel()

	last := mustTime(t, "2026-03-01T04:10:00Z")
	due, err := schedule.Evaluate(ptr("@hourly"), &last, mustTime(t, "2026-03-01T05:00:00Z"))
	if err != nil || !due {
		t.Errorf("@hourly = %v, %v; want true, nil", due, err)
	}
}

func TestEvaluate_MalformedFallsBack(t *testing.T) {
	t.Parallel()

	last := mustTime(t, "2026-03-01T00:00:00Z")
	bad := ptr("every tuesday-ish")

	due, err := schedule.Evaluate(bad, &last, last.Add(3*time.Hour))
	if !errors.Is(err, schedule.ErrInvalidCronExpression) {
		t.Fatalf("expected ErrInvalidCronExpression, got %v", err)
	}
	if due {
		t.Error("expected not due before the fallback interval")
	}

	due, _ = schedule.Evaluate(bad, &last, last.Add(4*time.Hour+time.Second))
	if !due {
		t.Error("expected due after the fallback interval")
	}
}

func TestDueCalculator_IsDueNeverPanics(t *testing.T) {
	t.Parallel()

	calc := schedule.NewDueCalculator(logger.NewNop())
	last := mustTime(t, "2026-03-01T00:00:00Z")

	if calc.IsDue(ptr("*/"), &last, last.Add(time.Hour)) {
		t.Error("expected fallback to report not due after one hour")
	}
}
