// Package promotion holds the gate that stands between canary and promote.
// Every gate must pass; failures freeze the stage rather than erroring.
package promotion

import (
	"fmt"

	"autonomyd/internal/canary"
	"autonomyd/internal/config"
	"autonomyd/internal/types"
)

// Inputs are the facts the gates judge.
type Inputs struct {
	VerifiedCandidates int
	RecentCycleCount   int
	ErrorRate          float64
	CanaryStatus       canary.Status
	EvalScore          float64
}

// Decision is the gate outcome. Reasons lists every failed gate.
type Decision struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Reason returns the combined denial text, empty when passed.
func (d Decision) Reason() string {
	if d.Passed || len(d.Reasons) == 0 {
		return ""
	}
	out := d.Reasons[0]
	for _, r := range d.Reasons[1:] {
		out += "; " + r
	}
	return out
}

// Check runs every gate and collects all failures.
func Check(in Inputs, cfg config.PromotionConfig) Decision {
	var reasons []string
	if in.VerifiedCandidates <= 0 {
		reasons = append(reasons, "no verified candidates")
	}
	if in.RecentCycleCount < cfg.MinimumRecentCycles {
		reasons = append(reasons, fmt.Sprintf("only %d recent cycles, need %d", in.RecentCycleCount, cfg.MinimumRecentCycles))
	}
	if in.ErrorRate > cfg.MaximumErrorRate {
		reasons = append(reasons, fmt.Sprintf("error rate %.3f above limit %.3f", in.ErrorRate, cfg.MaximumErrorRate))
	}
	if in.CanaryStatus == canary.StatusRegressed {
		reasons = append(reasons, "canary regressed")
	}
	if in.EvalScore < cfg.MinimumEvalScore {
		reasons = append(reasons, fmt.Sprintf("eval score %.2f below minimum %.2f", in.EvalScore, cfg.MinimumEvalScore))
	}
	return Decision{Passed: len(reasons) == 0, Reasons: reasons}
}

// DeriveInputs assembles gate inputs from state plus the already-computed
// canary verdict and eval score. The error rate is the error share of
// non-skipped recent cycles.
func DeriveInputs(state *types.AgentState, canaryStatus canary.Status, evalScore float64) Inputs {
	total, errors := 0, 0
	for _, c := range state.RecentCycles {
		if c.Status == types.CycleSkipped {
			continue
		}
		total++
		if c.Status == types.CycleError {
			errors++
		}
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errors) / float64(total)
	}
	return Inputs{
		VerifiedCandidates: state.VerifiedCandidateCount(),
		RecentCycleCount:   total,
		ErrorRate:          errorRate,
		CanaryStatus:       canaryStatus,
		EvalScore:          evalScore,
	}
}
