package runtime

import (
	"autonomyd/internal/config"
	"autonomyd/internal/types"
)

// Pause marks the agent manually paused. Idempotent.
func (e *Engine) Pause(agentID string, nowMs int64) (*types.AgentState, error) {
	state, err := e.store.LoadState(agentID, e.cfg.Agent.Defaults(), nowMs)
	if err != nil {
		return nil, err
	}
	if !state.Paused {
		state.Paused = true
		state.PauseReason = types.PauseManual
		state.PausedAt = nowMs
	}
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Resume clears any pause regardless of its reason. Idempotent.
func (e *Engine) Resume(agentID string, nowMs int64) (*types.AgentState, error) {
	state, err := e.store.LoadState(agentID, e.cfg.Agent.Defaults(), nowMs)
	if err != nil {
		return nil, err
	}
	state.Paused = false
	state.PauseReason = ""
	state.PausedAt = 0
	state.Sanitize(nowMs)
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Tune applies a partial overrides patch to the persisted state.
func (e *Engine) Tune(agentID string, overrides config.Overrides, nowMs int64) (*types.AgentState, error) {
	state, err := e.store.LoadState(agentID, e.cfg.Agent.Defaults(), nowMs)
	if err != nil {
		return nil, err
	}
	overrides.Apply(state, nowMs)
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}
