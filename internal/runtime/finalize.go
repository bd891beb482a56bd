package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"autonomyd/internal/types"
)

// FinalizeParams reports the outcome of one prepared cycle.
type FinalizeParams struct {
	AgentID      string
	WorkspaceDir string
	State        *types.AgentState
	Status       types.CycleStatus
	Summary      string
	Error        string

	Events            []types.Event
	DroppedDuplicates int
	DroppedInvalid    int
	DroppedOverflow   int
	Remaining         int

	TokensUsed     int64
	CycleStartedAt int64
	LockToken      string
	NowMs          int64
}

// Finalize records the cycle outcome, spends budget, applies the
// consecutive-error pause, appends the workspace log block, and saves. The
// run-lock is always released, even when saving fails.
func (e *Engine) Finalize(p FinalizeParams) error {
	agentID := types.NormalizeAgentID(p.AgentID)
	defer func() {
		if p.LockToken != "" {
			_ = e.store.ReleaseRunLock(agentID, p.LockToken)
		}
	}()

	state := p.State
	if state == nil {
		return fmt.Errorf("finalize requires the prepared state")
	}
	now := p.NowMs

	record := types.CycleRecord{
		Status:     p.Status,
		StartedAt:  p.CycleStartedAt,
		DurationMs: now - p.CycleStartedAt,
		Summary:    p.Summary,
		Error:      p.Error,
		Events:     len(p.Events),
	}
	state.RecentCycles = append(state.RecentCycles, record)
	if len(state.RecentCycles) > types.MaxRecentCycles {
		state.RecentCycles = state.RecentCycles[len(state.RecentCycles)-types.MaxRecentCycles:]
	}

	state.Metrics.Cycles++
	state.Metrics.LastCycleAt = now
	switch p.Status {
	case types.CycleOK:
		state.Metrics.OK++
		state.Metrics.ConsecutiveErrors = 0
	case types.CycleError:
		state.Metrics.Error++
		state.Metrics.ConsecutiveErrors++
		state.Metrics.LastError = p.Error
	case types.CycleSkipped:
		state.Metrics.Skipped++
	}

	if p.Status != types.CycleSkipped {
		state.Budget.CyclesUsed++
		state.Budget.TokensUsed += p.TokensUsed
	}

	if state.Metrics.ConsecutiveErrors >= state.Safety.MaxConsecutiveErrors && !state.Paused {
		state.Paused = true
		state.PauseReason = types.PauseErrors
		state.PausedAt = now
		e.log.Warn("pausing after consecutive errors",
			zap.String("agent", agentID),
			zap.Int("consecutive_errors", state.Metrics.ConsecutiveErrors))
	}

	if err := appendLogBlock(p.WorkspaceDir, state, p, now); err != nil {
		e.log.Warn("failed to append workspace log",
			zap.String("agent", agentID), zap.Error(err))
	}

	return e.store.SaveState(state)
}
