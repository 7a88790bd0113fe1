package scheduler

import (
	"context"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/domain"
)

// schedulableAdapters returns the ids of registered adapters that are enabled
// and not paused.
func (s *Scheduler) schedulableAdapters(ctx context.Context) (map[string]bool, error) {
	adapters, err := s.store.Adapters.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		if _, ok := s.registry.Get(a.AdapterID); ok && a.Schedulable() {
			out[a.AdapterID] = true
		}
	}
	return out, nil
}

// processManualTriggers enqueues MANUAL_PENDING targets under a MANUAL run per
// source. Targets of unschedulable adapters, busy sources or backed-off
// adapters stay pending; a target whose enqueue errors is tagged
// FAILED_TO_ENQUEUE so it is not retried every tick.
func (s *Scheduler) processManualTriggers(ctx context.Context, report *TickReport) {
	targets, err := s.store.Targets.ListManualPending(ctx, s.cfg.ManualTriggersPerTick)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to list manual triggers", logger.Error(err))
		return
	}
	if len(targets) == 0 {
		return
	}

	adapters, err := s.schedulableAdapters(ctx)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to load adapters for manual triggers", logger.Error(err))
		return
	}

	owner := dispatch.Owner{Trigger: domain.TriggerManual}
	runs := map[string]*domain.ScrapeRun{}
	blocked := map[string]bool{}
	var enqueued []string

	for _, t := range targets {
		if !adapters[t.AdapterID] || blocked[t.SourceID] {
			continue
		}

		run, ok := runs[t.SourceID]
		if !ok {
			res, resErr := s.dispatcher.ResolveRun(ctx, dispatch.SourceOf(t), owner)
			if resErr != nil {
				s.failManual(ctx, t, resErr, report)
				continue
			}
			if res.Blocked {
				blocked[t.SourceID] = true
				s.logger.Info("Source busy, manual trigger left pending",
					logger.TargetID(t.ID),
					logger.SourceID(t.SourceID),
					logger.RunID(res.BlockedBy.ID),
				)
				continue
			}
			run = res.Run
			runs[t.SourceID] = run
		}

		outcome, enqErr := s.dispatcher.Enqueue(ctx, t, run, domain.TriggerManual)
		if enqErr != nil {
			s.failManual(ctx, t, enqErr, report)
			continue
		}
		switch outcome {
		case dispatch.OutcomeAccepted:
			report.Enqueued++
			report.ManualEnqueued++
			enqueued = append(enqueued, t.ID)
		case dispatch.OutcomeDeduplicated:
			enqueued = append(enqueued, t.ID)
		case dispatch.OutcomeRejected:
			report.Rejected++
		case dispatch.OutcomeBackedOff:
		}
	}

	if markErr := s.store.Targets.MarkEnqueued(ctx, enqueued, s.now()); markErr != nil {
		report.Errors++
		s.logger.Error("Failed to mark manual targets enqueued",
			logger.Int("count", len(enqueued)),
			logger.Error(markErr),
		)
	}
}

func (s *Scheduler) failManual(ctx context.Context, t domain.Target, cause error, report *TickReport) {
	report.Errors++
	s.logger.Error("Manual trigger failed",
		logger.TargetID(t.ID),
		logger.AdapterID(t.AdapterID),
		logger.Error(cause),
	)
	status := domain.LastStatusFailedToEnqueue
	if err := s.store.Targets.SetLastStatus(ctx, t.ID, &status); err != nil {
		s.logger.Error("Failed to clear manual trigger",
			logger.TargetID(t.ID),
			logger.Error(err),
		)
	}
}

// processTargets is the legacy per-target mode: targets whose own schedule is
// due are grouped by source and enqueued under SCHEDULED runs outside any cycle.
func (s *Scheduler) processTargets(ctx context.Context, batchSize int, report *TickReport) {
	candidates, err := s.store.Targets.ListSchedulable(ctx, batchSize)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to list schedulable targets", logger.Error(err))
		return
	}

	var adapters map[string]bool
	if s.cfg.CheckAdapterEnabled() {
		adapters, err = s.schedulableAdapters(ctx)
		if err != nil {
			report.Errors++
			s.logger.Error("Failed to load adapters", logger.Error(err))
			return
		}
	}

	now := s.now()
	bySource := map[string][]domain.Target{}
	var order []string
	selected := 0
	for _, t := range candidates {
		if selected >= batchSize {
			break
		}
		if _, ok := s.registry.Get(t.AdapterID); !ok {
			continue
		}
		if adapters != nil && !adapters[t.AdapterID] {
			continue
		}
		if s.backoff.IsInBackoff(t.AdapterID) || !s.due.IsDue(t.Schedule, t.LastScrapedAt, now) {
			continue
		}
		if _, seen := bySource[t.SourceID]; !seen {
			order = append(order, t.SourceID)
		}
		bySource[t.SourceID] = append(bySource[t.SourceID], t)
		selected++
	}

	owner := dispatch.Owner{Trigger: domain.TriggerScheduled}
	var enqueued []string
	for _, sourceID := range order {
		if report.Rejected > report.Enqueued {
			report.Aborted = true
			break
		}
		targets := bySource[sourceID]
		res, resErr := s.dispatcher.ResolveRun(ctx, dispatch.SourceOf(targets[0]), owner)
		if resErr != nil {
			report.Errors++
			s.logger.Error("Failed to resolve run", logger.SourceID(sourceID), logger.Error(resErr))
			continue
		}
		if res.Blocked {
			s.logger.Debug("Source busy, skipping this tick", logger.SourceID(sourceID))
			continue
		}
		enqueued = append(enqueued, s.enqueueSource(ctx, targets, res.Run, report)...)
	}

	if markErr := s.store.Targets.MarkEnqueued(ctx, enqueued, now); markErr != nil {
		report.Errors++
		s.logger.Error("Failed to mark targets enqueued", logger.Int("count", len(enqueued)), logger.Error(markErr))
	}
}

// enqueueSource submits one source's targets until the queue pushes back and
// returns the ids it accepted.
func (s *Scheduler) enqueueSource(
	ctx context.Context, targets []domain.Target, run *domain.ScrapeRun, report *TickReport,
) []string {
	var accepted []string
	for _, t := range targets {
		outcome, err := s.dispatcher.Enqueue(ctx, t, run, domain.TriggerScheduled)
		if err != nil {
			report.Errors++
			s.logger.Error("Failed to enqueue target", logger.TargetID(t.ID), logger.Error(err))
			return accepted
		}
		switch outcome {
		case dispatch.OutcomeAccepted:
			report.Enqueued++
			accepted = append(accepted, t.ID)
		case dispatch.OutcomeDeduplicated:
		case dispatch.OutcomeRejected:
			report.Rejected++
			return accepted
		case dispatch.OutcomeBackedOff:
			return accepted
		}
	}
	return accepted
}
