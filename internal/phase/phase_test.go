package phase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autonomyd/internal/types"
)

const testNow = int64(1_700_000_000_000)

func stateAt(stage types.Stage) *types.AgentState {
	s := types.NewAgentState("phase", types.StateDefaults{}, testNow)
	s.Augmentation.Stage = stage
	return s
}

func TestSuccessorCycles(t *testing.T) {
	assert.Equal(t, types.StageDesign, Successor(types.StageDiscover))
	assert.Equal(t, types.StageDiscover, Successor(types.StageRetire))

	// Walking nine successors from any stage returns to it.
	cur := types.StageVerify
	for i := 0; i < len(types.Stages); i++ {
		cur = Successor(cur)
	}
	assert.Equal(t, types.StageVerify, cur)
}

func TestIsLegalTransition(t *testing.T) {
	for i, from := range types.Stages {
		next := types.Stages[(i+1)%len(types.Stages)]
		assert.True(t, IsLegalTransition(from, from), "%s -> itself", from)
		assert.True(t, IsLegalTransition(from, next), "%s -> %s", from, next)
	}
	assert.False(t, IsLegalTransition(types.StageDiscover, types.StageVerify))
	assert.False(t, IsLegalTransition(types.StageDiscover, types.Stage("bogus")))

	// Any stage may abandon its pipeline and reset.
	assert.True(t, IsLegalTransition(types.StageDesign, types.StageDiscover))
	assert.True(t, IsLegalTransition(types.StageCanary, types.StageDiscover))
}

func TestTransitionStageRecordsHistory(t *testing.T) {
	s := stateAt(types.StageDiscover)
	require.NoError(t, TransitionStage(s, types.StageDesign, "open gaps", testNow+5))

	a := s.Augmentation
	assert.Equal(t, types.StageDesign, a.Stage)
	assert.Equal(t, testNow+5, a.StageEnteredAt)
	assert.Equal(t, testNow+5, a.LastTransitionAt)
	assert.Equal(t, "open gaps", a.LastTransitionReason)
	require.Len(t, a.Transitions, 1)
	assert.Equal(t, types.StageDiscover, a.Transitions[0].From)
	assert.Equal(t, types.StageDesign, a.Transitions[0].To)
}

func TestTransitionStageSelfIsNoOp(t *testing.T) {
	s := stateAt(types.StageDiscover)
	entered := s.Augmentation.StageEnteredAt
	require.NoError(t, TransitionStage(s, types.StageDiscover, "hold", testNow+100))
	assert.Equal(t, entered, s.Augmentation.StageEnteredAt)
	assert.Empty(t, s.Augmentation.Transitions)
}

func TestTransitionStageRejectsSkips(t *testing.T) {
	s := stateAt(types.StageDiscover)
	err := TransitionStage(s, types.StageCanary, "shortcut", testNow)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, types.StageDiscover, s.Augmentation.Stage)
	assert.Empty(t, s.Augmentation.Transitions)
}

func TestTransitionStageResetToDiscover(t *testing.T) {
	s := stateAt(types.StageCanary)
	require.NoError(t, TransitionStage(s, types.StageDiscover, "no verified candidates", testNow+10))
	assert.Equal(t, types.StageDiscover, s.Augmentation.Stage)
	require.Len(t, s.Augmentation.Transitions, 1)
	assert.Equal(t, types.StageCanary, s.Augmentation.Transitions[0].From)
}

func TestTransitionHistoryBounded(t *testing.T) {
	s := stateAt(types.StageDiscover)
	cur := types.StageDiscover
	for i := 0; i < types.MaxTransitions+30; i++ {
		next := Successor(cur)
		require.NoError(t, TransitionStage(s, next, fmt.Sprintf("step %d", i), testNow+int64(i)))
		cur = next
	}
	assert.Len(t, s.Augmentation.Transitions, types.MaxTransitions)
	// The newest entry survives trimming.
	last := s.Augmentation.Transitions[len(s.Augmentation.Transitions)-1]
	assert.Equal(t, fmt.Sprintf("step %d", types.MaxTransitions+29), last.Reason)
}

func TestResolveNextStage(t *testing.T) {
	openGap := types.Gap{Key: "k", Status: types.GapOpen, Severity: 50, Confidence: 0.5, Occurrences: 1, FirstSeenAt: testNow, LastSeenAt: testNow}
	proposed := types.SkillCandidate{ID: "c1", Name: "autonomy-x", Status: types.CandidateProposed, Priority: 1, CreatedAt: testNow, UpdatedAt: testNow}
	verified := proposed
	verified.ID = "c2"
	verified.Status = types.CandidateVerified

	tests := []struct {
		name       string
		stage      types.Stage
		gaps       []types.Gap
		candidates []types.SkillCandidate
		want       types.Stage
	}{
		{"discover with open gap", types.StageDiscover, []types.Gap{openGap}, nil, types.StageDesign},
		{"discover without gaps", types.StageDiscover, nil, nil, types.StageDiscover},
		{"design with candidate", types.StageDesign, nil, []types.SkillCandidate{proposed}, types.StageSynthesize},
		{"design without candidates", types.StageDesign, nil, nil, types.StageDiscover},
		{"synthesize with planned", types.StageSynthesize, nil, []types.SkillCandidate{{Status: types.CandidatePlanned}}, types.StageVerify},
		{"synthesize empty", types.StageSynthesize, nil, nil, types.StageDiscover},
		{"verify with verified", types.StageVerify, nil, []types.SkillCandidate{verified}, types.StageCanary},
		{"verify without verified", types.StageVerify, nil, []types.SkillCandidate{proposed}, types.StageDiscover},
		{"canary with verified", types.StageCanary, nil, []types.SkillCandidate{verified}, types.StagePromote},
		{"canary without verified", types.StageCanary, nil, nil, types.StageDiscover},
		{"promote", types.StagePromote, nil, nil, types.StageObserve},
		{"observe", types.StageObserve, nil, nil, types.StageLearn},
		{"learn", types.StageLearn, nil, nil, types.StageRetire},
		{"retire", types.StageRetire, nil, nil, types.StageDiscover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stateAt(tt.stage)
			s.Augmentation.Gaps = tt.gaps
			s.Augmentation.Candidates = tt.candidates
			assert.Equal(t, tt.want, ResolveNextStage(s))
		})
	}
}

func TestExecutionClassForStage(t *testing.T) {
	assert.Equal(t, types.ClassDestructive, ExecutionClassForStage(types.StagePromote))
	assert.Equal(t, types.ClassDestructive, ExecutionClassForStage(types.StageRetire))
	assert.Equal(t, types.ClassReversibleWrite, ExecutionClassForStage(types.StageSynthesize))
	assert.Equal(t, types.ClassReversibleWrite, ExecutionClassForStage(types.StageVerify))
	assert.Equal(t, types.ClassReversibleWrite, ExecutionClassForStage(types.StageCanary))
	assert.Equal(t, types.ClassReadOnly, ExecutionClassForStage(types.StageDiscover))
	assert.Equal(t, types.ClassReadOnly, ExecutionClassForStage(types.StageObserve))
}
