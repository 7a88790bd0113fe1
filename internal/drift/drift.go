// Package drift evaluates finished scrape runs against an adapter's rolling
// baseline and decides when the adapter should be disabled.
package drift

import (
	"cmp"
	"slices"
	"time"

	"github.com/ironscout/harvester/internal/domain"
)

const (
	// AbsoluteFailureRate disables regardless of baseline.
	AbsoluteFailureRate = 0.5
	// FailureRateMargin is the tolerated rise over the median failure rate.
	FailureRateMargin = 0.25
	// YieldDropRatio flags a run whose yield falls below this share of the median.
	YieldDropRatio = 0.5
	// ConsecutiveFailureThreshold is the number of failed batches that disables an adapter.
	ConsecutiveFailureThreshold = 3
	// MinBaselineSamples is the sample size at which a baseline is established.
	MinBaselineSamples = 5

	// ZeroPriceMinAttempted exempts small runs from the zero-price rule.
	ZeroPriceMinAttempted = 20

	// BaselineWindow is how far back baseline samples are drawn from.
	BaselineWindow = 7 * 24 * time.Hour
	// BaselineMaxSamples bounds the number of runs in a baseline.
	BaselineMaxSamples = 20
	// BaselineMinURLs excludes small runs from the baseline.
	BaselineMinURLs = 20
)

// Baseline is the rolling health reference for an adapter.
type Baseline struct {
	MedianFailureRate float64
	MedianYieldRate   float64
	SampleSize        int
}

// IsEstablished reports whether the baseline has enough samples to compare against.
func (b Baseline) IsEstablished() bool {
	return b.SampleSize >= MinBaselineSamples
}

// FromDomain converts the persisted baseline.
func FromDomain(b domain.Baseline) Baseline {
	return Baseline{
		MedianFailureRate: b.FailureRate,
		MedianYieldRate:   b.YieldRate,
		SampleSize:        b.SampleSize,
	}
}

// Decision is the outcome of a disable check.
type Decision struct {
	ShouldDisable bool
	Reason        string
	// ConsecutiveFailedBatches is the counter value to persist.
	ConsecutiveFailedBatches int
	// LastRunHadZeroPrice is the flag value to persist.
	LastRunHadZeroPrice bool
	// Triggers lists the rules the run tripped, for logging.
	Triggers []string
}

// ComputeDerivedMetrics returns failure, yield and drop rates. Out-of-stock
// pages without a price are neutral and do not count as failures.
func ComputeDerivedMetrics(m domain.RunMetrics) domain.RunRates {
	failed := max(m.URLsFailed-m.OOSNoPriceCount, 0)
	return domain.RunRates{
		FailureRate: ratio(failed, m.URLsAttempted),
		YieldRate:   ratio(m.OffersValid, m.URLsAttempted),
		DropRate:    ratio(m.OffersDropped, m.OffersExtracted),
	}
}

// ClassifyRun returns the final status of a finished run: FAILED when nothing
// was attempted or more than half the URLs failed, QUARANTINED when more
// offers were quarantined than accepted, SUCCESS otherwise.
func ClassifyRun(m domain.RunMetrics, rates domain.RunRates) domain.RunStatus {
	switch {
	case m.URLsAttempted == 0 || rates.FailureRate > AbsoluteFailureRate:
		return domain.RunStatusFailed
	case m.OffersQuarantined > m.OffersValid:
		return domain.RunStatusQuarantined
	default:
		return domain.RunStatusSuccess
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// CheckAutoDisable evaluates a finished run. ok is false when the run
// attempted nothing and so carries no signal; the counter is then unchanged.
func CheckAutoDisable(m domain.RunMetrics, baseline Baseline, consecutiveFailedBatches int) (Decision, bool) {
	if m.URLsAttempted == 0 {
		return Decision{}, false
	}

	rates := ComputeDerivedMetrics(m)

	var triggers []string
	if rates.FailureRate > AbsoluteFailureRate {
		triggers = append(triggers, "absolute_failure_rate")
	}
	if baseline.IsEstablished() {
		if rates.FailureRate > baseline.MedianFailureRate+FailureRateMargin {
			triggers = append(triggers, "failure_rate_drift")
		}
		if baseline.MedianYieldRate > 0 && rates.YieldRate < baseline.MedianYieldRate*YieldDropRatio {
			triggers = append(triggers, "yield_drift")
		}
	}

	if len(triggers) == 0 {
		return Decision{ConsecutiveFailedBatches: 0}, true
	}

	next := consecutiveFailedBatches + 1
	d := Decision{ConsecutiveFailedBatches: next, Triggers: triggers}
	if next >= ConsecutiveFailureThreshold {
		d.ShouldDisable = true
		d.Reason = domain.DisableReasonDrift
	}
	return d, true
}

// CheckZeroPriceDisable applies the two-strike rule for runs that extracted
// no valid price. Runs under ZeroPriceMinAttempted URLs are exempt and
// return ok=false.
func CheckZeroPriceDisable(m domain.RunMetrics, lastRunHadZeroPrice bool) (Decision, bool) {
	if m.URLsAttempted < ZeroPriceMinAttempted {
		return Decision{}, false
	}

	zero := m.OffersValid == 0
	d := Decision{LastRunHadZeroPrice: zero}
	if zero && lastRunHadZeroPrice {
		d.ShouldDisable = true
		d.Reason = domain.DisableReasonZeroPrice
		d.Triggers = []string{"zero_price_twice"}
	}
	return d, true
}

// Sample is one historical run considered for the baseline.
type Sample struct {
	URLsAttempted int
	FailureRate   float64
	YieldRate     float64
	CompletedAt   time.Time
}

// UpdateBaseline recomputes the medians from recent successful runs. It only
// applies after a SUCCESS run; otherwise existing is returned with ok=false.
// Samples older than BaselineWindow or under BaselineMinURLs are ignored and
// at most the newest BaselineMaxSamples are used.
func UpdateBaseline(existing Baseline, latest domain.RunStatus, recent []Sample, now time.Time) (Baseline, bool) {
	if latest != domain.RunStatusSuccess {
		return existing, false
	}

	cutoff := now.Add(-BaselineWindow)
	eligible := make([]Sample, 0, len(recent))
	for _, s := range recent {
		if s.URLsAttempted < BaselineMinURLs || s.CompletedAt.Before(cutoff) {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) == 0 {
		return existing, false
	}

	slices.SortFunc(eligible, func(a, b Sample) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	if len(eligible) > BaselineMaxSamples {
		eligible = eligible[:BaselineMaxSamples]
	}

	failures := make([]float64, len(eligible))
	yields := make([]float64, len(eligible))
	for i, s := range eligible {
		failures[i] = s.FailureRate
		yields[i] = s.YieldRate
	}

	return Baseline{
		MedianFailureRate: Median(failures),
		MedianYieldRate:   Median(yields),
		SampleSize:        len(eligible),
	}, true
}

// Median returns the median of values, or 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.SortFunc(sorted, cmp.Compare[float64])

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
