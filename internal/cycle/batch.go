package cycle

import (
	"context"
	"fmt"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/keyset"
	"github.com/ironscout/harvester/internal/observability"
)

// BatchResult tallies one batch of a cycle.
type BatchResult struct {
	Fetched      int
	Enqueued     int
	Rejected     int
	Deduplicated int
	Skipped      int
	BackedOff    bool
	// BlockedSourceID is the source whose foreign run cut the batch.
	BlockedSourceID string
	Deferred        bool
	Escalated       bool
	// HasMore is set when a full batch was fetched or processing stopped early.
	HasMore bool
}

// GetCycleTargetBatch returns up to limit eligible targets after cursor.
func (m *Manager) GetCycleTargetBatch(
	ctx context.Context, adapterID string, cursor keyset.Cursor, limit int,
) ([]domain.Target, error) {
	targets, err := m.targets.ListEligibleByAdapter(ctx, adapterID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch cycle batch for %s: %w", adapterID, err)
	}
	return targets, nil
}

// batchPlan is the outcome of resolving runs for a batch.
type batchPlan struct {
	runs      map[string]*domain.ScrapeRun
	skip      map[string]bool
	cut       int
	blocked   string
	escalated bool
}

// plan resolves one run per source in first-appearance order. The first
// source held by a foreign run cuts the batch before its first target, unless
// it heads the batch and the cycle has been deferred too often, in which case
// its targets are skipped.
func (m *Manager) plan(ctx context.Context, c *domain.ScrapeCycle, batch []domain.Target) (batchPlan, error) {
	p := batchPlan{
		runs: map[string]*domain.ScrapeRun{},
		skip: map[string]bool{},
		cut:  len(batch),
	}

	first := map[string]int{}
	var order []string
	for i, t := range batch {
		if _, seen := first[t.SourceID]; !seen {
			first[t.SourceID] = i
			order = append(order, t.SourceID)
		}
	}

	owner := dispatch.CycleOwner(c.ID)
	escalate := c.DeferCount+1 >= m.maxConsecutiveDefers

	for _, sourceID := range order {
		res, err := m.dispatcher.ResolveRun(ctx, dispatch.SourceOf(batch[first[sourceID]]), owner)
		if err != nil {
			return p, err
		}
		if !res.Blocked {
			p.runs[sourceID] = res.Run
			continue
		}
		if first[sourceID] == 0 && escalate {
			p.skip[sourceID] = true
			p.blocked = sourceID
			p.escalated = true
			continue
		}
		p.cut = first[sourceID]
		p.blocked = sourceID
		break
	}
	return p, nil
}

// ProcessCycleBatch enqueues the next batch of c in cursor order and persists
// the tallies, the cursor and the defer count. The cursor never moves past a
// target that was rejected, backed off or held by a foreign run, so a rejected
// target is retried on a later batch and is not tallied as failed.
func (m *Manager) ProcessCycleBatch(ctx context.Context, c *domain.ScrapeCycle, batchSize int) (BatchResult, error) {
	cursor := keyset.FromNullable(c.LastProcessedPriority, c.LastProcessedTargetID)
	batch, err := m.GetCycleTargetBatch(ctx, c.AdapterID, cursor, batchSize)
	if err != nil {
		return BatchResult{HasMore: true}, err
	}

	result := BatchResult{Fetched: len(batch)}
	if len(batch) == 0 {
		return result, nil
	}

	p, err := m.plan(ctx, c, batch)
	if err != nil {
		return BatchResult{Fetched: len(batch), HasMore: true}, fmt.Errorf("resolve runs for cycle %s: %w", c.ID, err)
	}
	result.BlockedSourceID = p.blocked
	result.Escalated = p.escalated

	var (
		accepted []string
		last     *domain.Target
		stopped  = p.cut < len(batch)
		enqErr   error
	)

	for i := range p.cut {
		t := batch[i]
		if p.skip[t.SourceID] {
			result.Skipped++
			last = &batch[i]
			continue
		}

		outcome, outErr := m.dispatcher.Enqueue(ctx, t, p.runs[t.SourceID], domain.TriggerScheduled)
		if outErr != nil {
			enqErr = outErr
			stopped = true
			break
		}

		switch outcome {
		case dispatch.OutcomeAccepted:
			result.Enqueued++
			accepted = append(accepted, t.ID)
		case dispatch.OutcomeDeduplicated:
			result.Deduplicated++
		case dispatch.OutcomeRejected:
			result.Rejected++
		case dispatch.OutcomeBackedOff:
			result.BackedOff = true
		}
		if outcome == dispatch.OutcomeRejected || outcome == dispatch.OutcomeBackedOff {
			stopped = true
			break
		}
		last = &batch[i]
	}

	if len(accepted) > 0 {
		if markErr := m.targets.MarkEnqueued(ctx, accepted, m.now()); markErr != nil {
			m.logger.Error("Failed to mark targets enqueued",
				logger.CycleID(c.ID),
				logger.Int("count", len(accepted)),
				logger.Error(markErr),
			)
		}
	}

	prevDefers := c.DeferCount
	deferCount := prevDefers
	switch {
	case last != nil:
		deferCount = 0
	case p.cut == 0:
		deferCount++
		result.Deferred = true
	}

	progress := domain.CycleProgress{
		Completed:  result.Enqueued,
		Skipped:    result.Deduplicated + result.Skipped,
		DeferCount: deferCount,
	}
	if last != nil {
		id, prio := last.ID, last.Priority
		progress.LastTargetID = &id
		progress.LastPriority = &prio
	}

	if updErr := m.cycles.UpdateProgress(ctx, c.ID, progress); updErr != nil {
		return BatchResult{Fetched: len(batch), HasMore: true}, fmt.Errorf("save progress of cycle %s: %w", c.ID, updErr)
	}
	applyProgress(c, progress)

	if result.Deferred || result.Escalated {
		m.sink.CycleDeferred(ctx, observability.CycleDeferredEvent{
			AdapterID:       c.AdapterID,
			CycleID:         c.ID,
			BlockedSourceID: p.blocked,
			DeferCount:      prevDefers + 1,
			Escalated:       result.Escalated,
		})
	}

	result.HasMore = len(batch) == batchSize || stopped
	if enqErr != nil {
		return result, fmt.Errorf("enqueue for cycle %s: %w", c.ID, enqErr)
	}
	return result, nil
}

// applyProgress mirrors a persisted progress update onto the in-memory cycle.
func applyProgress(c *domain.ScrapeCycle, p domain.CycleProgress) {
	c.TargetsCompleted += p.Completed
	c.TargetsFailed += p.Failed
	c.TargetsSkipped += p.Skipped
	if p.LastTargetID != nil {
		c.LastProcessedTargetID = p.LastTargetID
		c.LastProcessedPriority = p.LastPriority
	}
	c.DeferCount = p.DeferCount
}
