// Package horizon estimates long-horizon agent health. A fixed scenario
// pack is scored against current facts about the agent; the mean score
// feeds the promotion gates.
package horizon

import (
	"autonomyd/internal/types"
)

// Expectation is the direction a scenario step anticipates.
type Expectation string

const (
	ExpectImprove Expectation = "improve"
	ExpectDegrade Expectation = "degrade"
	ExpectNeutral Expectation = "neutral"
)

// Step is one weighted observation within a scenario.
type Step struct {
	Type     string      `json:"type"`
	Expected Expectation `json:"expected"`
	Weight   float64     `json:"weight"`
}

// Scenario is a named, ordered list of weighted steps.
type Scenario struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Facts are the agent measurements a scoring pass consumes.
type Facts struct {
	VerifiedCandidates int
	RecentErrorRate    float64
	BlockedTasks       int
}

// DefaultPack returns the built-in scenario pack: one baseline, one
// adversarial, one regression scenario.
func DefaultPack() []Scenario {
	return []Scenario{
		{
			Name: "baseline",
			Steps: []Step{
				{Type: "routine-cycle", Expected: ExpectNeutral, Weight: 1},
				{Type: "skill-application", Expected: ExpectImprove, Weight: 1},
				{Type: "routine-cycle", Expected: ExpectNeutral, Weight: 1},
			},
		},
		{
			Name: "adversarial",
			Steps: []Step{
				{Type: "conflicting-signals", Expected: ExpectDegrade, Weight: 1},
				{Type: "policy-pressure", Expected: ExpectDegrade, Weight: 2},
				{Type: "recovery", Expected: ExpectImprove, Weight: 1},
			},
		},
		{
			Name: "regression",
			Steps: []Step{
				{Type: "known-good-replay", Expected: ExpectNeutral, Weight: 2},
				{Type: "previously-fixed-gap", Expected: ExpectImprove, Weight: 1},
			},
		},
	}
}

// ScoreScenario computes one scenario score in [0,1]. The base term rewards
// verified candidates and penalizes recent errors and blocked tasks; each
// step then nudges the score by its weight.
func ScoreScenario(sc Scenario, facts Facts) float64 {
	verifiedBonus := 0.06 * float64(facts.VerifiedCandidates)
	if verifiedBonus > 0.25 {
		verifiedBonus = 0.25
	}
	errorPenalty := 0.7 * facts.RecentErrorRate
	if errorPenalty > 0.35 {
		errorPenalty = 0.35
	}
	blockedPenalty := 0.02 * float64(facts.BlockedTasks)
	if blockedPenalty > 0.2 {
		blockedPenalty = 0.2
	}

	score := types.Clamp01(0.65 + verifiedBonus - errorPenalty - blockedPenalty)
	for _, step := range sc.Steps {
		switch step.Expected {
		case ExpectImprove:
			score += 0.03 * step.Weight
		case ExpectDegrade:
			score -= 0.03 * step.Weight
		default:
			score += 0.005 * step.Weight
		}
		score = types.Clamp01(score)
	}
	return score
}

// Score returns the mean scenario score across the pack.
func Score(pack []Scenario, facts Facts) float64 {
	if len(pack) == 0 {
		return 0
	}
	sum := 0.0
	for _, sc := range pack {
		sum += ScoreScenario(sc, facts)
	}
	return sum / float64(len(pack))
}

// DeriveFacts measures the agent for a scoring pass. The error rate covers
// non-skipped recent cycles.
func DeriveFacts(state *types.AgentState) Facts {
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
	return Facts{
		VerifiedCandidates: state.VerifiedCandidateCount(),
		RecentErrorRate:    errorRate,
		BlockedTasks:       state.BlockedTaskCount(),
	}
}
