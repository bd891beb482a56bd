package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"autonomyd/internal/types"
)

// AppendLedger appends one JSON line to the augmentation ledger. The id,
// ts, and correlation id are assigned when absent. Ledger entries are never
// mutated or deleted; the file only grows.
func (s *Store) AppendLedger(entry types.LedgerEntry, nowMs int64) (types.LedgerEntry, error) {
	id := types.NormalizeAgentID(entry.AgentID)
	if id == "" {
		return entry, fmt.Errorf("ledger entry requires an agent id")
	}
	entry.AgentID = id
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TS <= 0 {
		entry.TS = nowMs
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	if err := os.MkdirAll(s.AgentDir(id), 0o755); err != nil {
		return entry, fmt.Errorf("failed to create agent dir: %w", err)
	}

	path := s.ledgerPath(id)
	err = s.paths.withPathLock(path, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return entry, err
	}
	return entry, nil
}

// ReadLedgerParams bounds a ledger read.
type ReadLedgerParams struct {
	AgentID string
	Limit   int
	Offset  int
}

// ReadLedger parses the ledger, drops malformed lines (a truncated final
// line from a crash is skipped; prior valid entries survive), sorts by
// descending ts, and returns the requested slice.
func (s *Store) ReadLedger(p ReadLedgerParams) ([]types.LedgerEntry, error) {
	id := types.NormalizeAgentID(p.AgentID)
	data, err := os.ReadFile(s.ledgerPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var entries []types.LedgerEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e types.LedgerEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.EventType == "" {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TS > entries[j].TS
	})

	if p.Offset > 0 {
		if p.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[p.Offset:]
	}
	if p.Limit > 0 && len(entries) > p.Limit {
		entries = entries[:p.Limit]
	}
	return entries, nil
}
