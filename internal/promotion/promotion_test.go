package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autonomyd/internal/canary"
	"autonomyd/internal/config"
	"autonomyd/internal/types"
)

const testNow = int64(1_700_000_000_000)

func promotionCfg() config.PromotionConfig {
	return config.DefaultConfig().Promotion
}

func passingInputs() Inputs {
	return Inputs{
		VerifiedCandidates: 1,
		RecentCycleCount:   3,
		ErrorRate:          0.0,
		CanaryStatus:       canary.StatusHealthy,
		EvalScore:          0.7,
	}
}

func TestCheckAllGatesPass(t *testing.T) {
	d := Check(passingInputs(), promotionCfg())
	assert.True(t, d.Passed)
	assert.Empty(t, d.Reasons)
	assert.Empty(t, d.Reason())
}

func TestCheckEachGateFailsIndependently(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		reason string
	}{
		{"no verified", func(in *Inputs) { in.VerifiedCandidates = 0 }, "no verified candidates"},
		{"too few cycles", func(in *Inputs) { in.RecentCycleCount = 2 }, "recent cycles"},
		{"error rate", func(in *Inputs) { in.ErrorRate = 0.5 }, "error rate"},
		{"canary regressed", func(in *Inputs) { in.CanaryStatus = canary.StatusRegressed }, "canary regressed"},
		{"eval score", func(in *Inputs) { in.EvalScore = 0.5 }, "eval score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passingInputs()
			tt.mutate(&in)
			d := Check(in, promotionCfg())
			assert.False(t, d.Passed)
			require.Len(t, d.Reasons, 1)
			assert.Contains(t, d.Reasons[0], tt.reason)
		})
	}
}

func TestCheckCollectsAllFailures(t *testing.T) {
	d := Check(Inputs{ErrorRate: 0.5, CanaryStatus: canary.StatusRegressed}, promotionCfg())
	assert.False(t, d.Passed)
	assert.Len(t, d.Reasons, 5)
	assert.Contains(t, d.Reason(), "no verified candidates")
	assert.Contains(t, d.Reason(), "canary regressed")
}

func TestCheckBoundaryValues(t *testing.T) {
	cfg := promotionCfg()
	in := passingInputs()
	in.RecentCycleCount = cfg.MinimumRecentCycles
	in.ErrorRate = cfg.MaximumErrorRate
	in.EvalScore = cfg.MinimumEvalScore
	assert.True(t, Check(in, cfg).Passed)
}

func TestDeriveInputs(t *testing.T) {
	s := types.NewAgentState("promo", types.StateDefaults{}, testNow)
	s.Augmentation.Candidates = []types.SkillCandidate{
		{ID: "v", Status: types.CandidateVerified},
		{ID: "r", Status: types.CandidateRejected},
	}
	s.RecentCycles = []types.CycleRecord{
		{Status: types.CycleOK},
		{Status: types.CycleSkipped},
		{Status: types.CycleError},
		{Status: types.CycleOK},
		{Status: types.CycleOK},
	}

	in := DeriveInputs(s, canary.StatusHealthy, 0.8)
	assert.Equal(t, 1, in.VerifiedCandidates)
	assert.Equal(t, 4, in.RecentCycleCount)
	assert.InDelta(t, 0.25, in.ErrorRate, 1e-9)
	assert.Equal(t, canary.StatusHealthy, in.CanaryStatus)
	assert.InDelta(t, 0.8, in.EvalScore, 1e-9)
}
