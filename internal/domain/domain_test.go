package domain_test

import (
	"testing"
	"time"

	"github.com/ironscout/harvester/internal/domain"
)

func TestTargetEligible(t *testing.T) {
	t.Parallel()

	open := domain.Source{ScrapeEnabled: true, RobotsCompliant: true}
	base := domain.Target{Enabled: true, Status: domain.TargetStatusActive}

	tests := []struct {
		name   string
		mutate func(*domain.Target, *domain.Source)
		want   bool
	}{
		{name: "eligible", mutate: func(*domain.Target, *domain.Source) {}, want: true},
		{name: "disabled target", mutate: func(tg *domain.Target, _ *domain.Source) { tg.Enabled = false }},
		{name: "stale target", mutate: func(tg *domain.Target, _ *domain.Source) { tg.Status = domain.TargetStatusStale }},
		{name: "robots path blocked", mutate: func(tg *domain.Target, _ *domain.Source) { tg.RobotsPathBlocked = true }},
		{name: "source scrape disabled", mutate: func(_ *domain.Target, s *domain.Source) { s.ScrapeEnabled = false }},
		{name: "source not robots compliant", mutate: func(_ *domain.Target, s *domain.Source) { s.RobotsCompliant = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tg, src := base, open
			tt.mutate(&tg, &src)
			if got := tg.Eligible(src); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdapterStatusCycleTimeout(t *testing.T) {
	t.Parallel()

	if got := (domain.AdapterStatus{}).CycleTimeout(); got != 2*time.Hour {
		t.Errorf("default timeout = %v, want 2h", got)
	}
	if got := (domain.AdapterStatus{CycleTimeoutMinutes: 15}).CycleTimeout(); got != 15*time.Minute {
		t.Errorf("timeout = %v, want 15m", got)
	}
}

func TestScrapeRunBelongsTo(t *testing.T) {
	t.Parallel()

	c1, c2 := "cycle-1", "cycle-2"
	inCycle := domain.ScrapeRun{Trigger: domain.TriggerScheduled, CycleID: &c1}
	manual := domain.ScrapeRun{Trigger: domain.TriggerManual}

	if !inCycle.BelongsTo(&c1, domain.TriggerScheduled) {
		t.Error("run should belong to its own cycle")
	}
	if inCycle.BelongsTo(&c2, domain.TriggerScheduled) {
		t.Error("run should not belong to another cycle")
	}
	if inCycle.BelongsTo(nil, domain.TriggerScheduled) {
		t.Error("cycle run should not match a cycle-less owner")
	}
	if !manual.BelongsTo(nil, domain.TriggerManual) {
		t.Error("manual run should match manual owner")
	}
	if manual.BelongsTo(nil, domain.TriggerScheduled) {
		t.Error("manual run should not match scheduled owner")
	}
}
