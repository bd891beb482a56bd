// Package canary judges whether recently observed behavior regressed
// relative to a baseline. A regression demotes every verified candidate so
// nothing unhealthy can reach promotion.
package canary

import (
	"fmt"
	"math"
	"sort"

	"autonomyd/internal/config"
	"autonomyd/internal/types"
)

// Status is the canary verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusRegressed Status = "regressed"
)

// canaryWindow is how many recent non-skipped cycles feed the derivation.
const canaryWindow = 5

// Inputs are the observed and threshold values for one evaluation.
type Inputs struct {
	ErrorRate               float64
	MaxErrorRate            float64
	LatencyP95Ms            float64
	BaselineLatencyP95Ms    float64
	MaxLatencyRegressionPct float64
}

// Result is the canary verdict with its reasoning.
type Result struct {
	Status         Status  `json:"status"`
	Reason         string  `json:"reason"`
	ShouldRollback bool    `json:"shouldRollback"`
	ErrorRate      float64 `json:"errorRate"`
	LatencyP95Ms   float64 `json:"latencyP95Ms"`
	BaselineP95Ms  float64 `json:"baselineP95Ms"`
}

// Evaluate applies the regression rules. Non-finite or negative inputs
// clamp to zero. Error-rate exceedance is the hard failure and demands
// rollback; latency regression past the threshold also regresses but
// without the rollback demand.
func Evaluate(in Inputs) Result {
	errorRate := clampMetric(in.ErrorRate)
	maxErrorRate := clampMetric(in.MaxErrorRate)
	p95 := clampMetric(in.LatencyP95Ms)
	baseline := clampMetric(in.BaselineLatencyP95Ms)
	maxRegressionPct := clampMetric(in.MaxLatencyRegressionPct)

	res := Result{
		Status:        StatusHealthy,
		ErrorRate:     errorRate,
		LatencyP95Ms:  p95,
		BaselineP95Ms: baseline,
	}

	if errorRate > maxErrorRate {
		res.Status = StatusRegressed
		res.ShouldRollback = true
		res.Reason = fmt.Sprintf("error rate %.3f exceeds threshold %.3f", errorRate, maxErrorRate)
		return res
	}
	if baseline > 0 {
		regressionPct := (p95 - baseline) / baseline * 100
		if regressionPct > maxRegressionPct {
			res.Status = StatusRegressed
			res.Reason = fmt.Sprintf("p95 latency %.0fms regressed %.1f%% over baseline %.0fms (limit %.1f%%)",
				p95, regressionPct, baseline, maxRegressionPct)
			return res
		}
	}
	res.Reason = "within error and latency thresholds"
	return res
}

// Derive builds evaluation inputs from the last five non-skipped cycles.
// The error rate is the error share of those cycles, p95 comes from sorted
// durations, and the baseline is their median.
func Derive(recentCycles []types.CycleRecord, cfg config.CanaryConfig) Inputs {
	var window []types.CycleRecord
	for i := len(recentCycles) - 1; i >= 0 && len(window) < canaryWindow; i-- {
		if recentCycles[i].Status == types.CycleSkipped {
			continue
		}
		window = append(window, recentCycles[i])
	}

	in := Inputs{
		MaxErrorRate:            cfg.MaxErrorRate,
		MaxLatencyRegressionPct: cfg.MaxLatencyRegressionPct,
	}
	if len(window) == 0 {
		return in
	}

	errors := 0
	durations := make([]float64, 0, len(window))
	for _, c := range window {
		if c.Status == types.CycleError {
			errors++
		}
		durations = append(durations, float64(c.DurationMs))
	}
	sort.Float64s(durations)

	in.ErrorRate = float64(errors) / float64(len(window))
	in.LatencyP95Ms = percentile95(durations)
	in.BaselineLatencyP95Ms = median(durations)
	return in
}

// Apply demotes every verified candidate when the verdict is regressed.
// Returns the demoted candidate ids.
func Apply(state *types.AgentState, res Result, nowMs int64) []string {
	if res.Status != StatusRegressed {
		return nil
	}
	var demoted []string
	for i := range state.Augmentation.Candidates {
		c := &state.Augmentation.Candidates[i]
		if c.Status == types.CandidateVerified {
			c.Status = types.CandidateRejected
			c.UpdatedAt = nowMs
			demoted = append(demoted, c.ID)
		}
	}
	return demoted
}

func clampMetric(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// percentile95 expects sorted input.
func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
