package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"autonomyd/internal/types"
)

// LoadState reads the primary state document. If it is empty or corrupt the
// backup is tried; if both are unusable a default state is built from the
// defaults and both files are written. Unknown or invalid fields are
// coerced, bounded collections are capped, the dedupe map is pruned, and
// the budget window is refreshed to the current UTC day. LoadState never
// returns a partial or uninitialized state.
func (s *Store) LoadState(agentID string, defaults types.StateDefaults, nowMs int64) (*types.AgentState, error) {
	id := types.NormalizeAgentID(agentID)

	state := s.readStateDocument(id)
	created := false
	if state == nil {
		state = types.NewAgentState(id, defaults, nowMs)
		created = true
	}

	state.AgentID = id
	state.Sanitize(nowMs)
	state.PruneDedupe(nowMs, dedupePruneFactor)
	state.RefreshBudgetWindow(nowMs)

	if created {
		if err := s.SaveState(state); err != nil {
			return nil, fmt.Errorf("failed to persist initial state for %s: %w", id, err)
		}
	}
	return state, nil
}

// readStateDocument tries primary then backup; nil means neither parsed.
func (s *Store) readStateDocument(agentID string) *types.AgentState {
	for _, path := range []string{s.statePath(agentID), s.backupPath(agentID)} {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}
		var st types.AgentState
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		if st.AgentID == "" && st.Version == 0 {
			continue // parsed but clearly not a state document
		}
		return &st
	}
	return nil
}

// SaveState serializes pretty JSON, writes to a per-process unique temp
// file, atomically renames it over the primary, then overwrites the backup.
// The backup may lag the primary by at most one successful save but never
// precedes it. Writes per file path are serialized in-process.
func (s *Store) SaveState(state *types.AgentState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil state")
	}
	id := types.NormalizeAgentID(state.AgentID)
	dir := s.AgentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create agent dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	primary := s.statePath(id)
	if err := s.paths.withPathLock(primary, func() error {
		tmp := fmt.Sprintf("%s.tmp.%d-%s", primary, os.Getpid(), uuid.NewString()[:8])
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("failed to write temp state: %w", err)
		}
		if err := os.Rename(tmp, primary); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to replace state file: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	backup := s.backupPath(id)
	return s.paths.withPathLock(backup, func() error {
		if err := os.WriteFile(backup, data, 0o644); err != nil {
			return fmt.Errorf("failed to write backup state: %w", err)
		}
		return nil
	})
}
