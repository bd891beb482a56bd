// Package phase implements the augmentation finite-state machine. The nine
// stages form a cycle; the legal moves are staying put, advancing to the
// immediate successor, or resetting to discover when a stage has no work
// product left to hand forward.
package phase

import (
	"errors"
	"fmt"

	"autonomyd/internal/types"
)

// ErrIllegalTransition marks a transition request the FSM forbids. This is
// a programming error in the caller, not an operational condition.
var ErrIllegalTransition = errors.New("illegal stage transition")

// Successor returns the stage that follows s in the cycle. The successor of
// retire is discover.
func Successor(s types.Stage) types.Stage {
	for i, st := range types.Stages {
		if st == s {
			return types.Stages[(i+1)%len(types.Stages)]
		}
	}
	return types.StageDiscover
}

// IsLegalTransition reports whether the FSM permits moving from one stage
// to another. Staying on the current stage is always legal, as is the reset
// to discover that abandons a drained pipeline.
func IsLegalTransition(from, to types.Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to == from || to == Successor(from) || to == types.StageDiscover
}

// TransitionStage applies a legal transition, stamping the stage entry time
// and recording the move in the bounded transition history. Self-transitions
// refresh nothing and record nothing.
func TransitionStage(state *types.AgentState, to types.Stage, reason string, nowMs int64) error {
	from := state.Augmentation.Stage
	if !IsLegalTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if to == from {
		return nil
	}

	a := &state.Augmentation
	a.Stage = to
	a.StageEnteredAt = nowMs
	a.LastTransitionAt = nowMs
	a.LastTransitionReason = reason
	a.Transitions = append(a.Transitions, types.StageTransition{
		From:   from,
		To:     to,
		TS:     nowMs,
		Reason: reason,
	})
	if len(a.Transitions) > types.MaxTransitions {
		a.Transitions = a.Transitions[len(a.Transitions)-types.MaxTransitions:]
	}
	return nil
}

// ResolveNextStage picks the stage the FSM should move to given the current
// work product. A stage with nothing to hand forward falls back to discover.
func ResolveNextStage(state *types.AgentState) types.Stage {
	a := state.Augmentation
	switch a.Stage {
	case types.StageDiscover:
		if state.OpenGapCount() > 0 {
			return types.StageDesign
		}
		return types.StageDiscover
	case types.StageDesign:
		if hasWorkableCandidate(a.Candidates) {
			return types.StageSynthesize
		}
		return types.StageDiscover
	case types.StageSynthesize:
		if hasWorkableCandidate(a.Candidates) {
			return types.StageVerify
		}
		return types.StageDiscover
	case types.StageVerify:
		if state.VerifiedCandidateCount() > 0 {
			return types.StageCanary
		}
		return types.StageDiscover
	case types.StageCanary:
		if state.VerifiedCandidateCount() > 0 {
			return types.StagePromote
		}
		return types.StageDiscover
	case types.StagePromote:
		return types.StageObserve
	case types.StageObserve:
		return types.StageLearn
	case types.StageLearn:
		return types.StageRetire
	case types.StageRetire:
		return types.StageDiscover
	default:
		return types.StageDiscover
	}
}

func hasWorkableCandidate(candidates []types.SkillCandidate) bool {
	for _, c := range candidates {
		if c.Status == types.CandidateProposed || c.Status == types.CandidatePlanned {
			return true
		}
	}
	return false
}

// ExecutionClassForStage maps a stage to the risk class of the work it
// performs. Promote and retire mutate the live skill set and are treated as
// destructive.
func ExecutionClassForStage(s types.Stage) types.ExecutionClass {
	switch s {
	case types.StagePromote, types.StageRetire:
		return types.ClassDestructive
	case types.StageSynthesize, types.StageVerify, types.StageCanary:
		return types.ClassReversibleWrite
	default:
		return types.ClassReadOnly
	}
}
