package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"autonomyd/internal/types"
)

// EnqueueParams describes one event to append to the queue.
type EnqueueParams struct {
	AgentID   string
	Source    types.EventSource
	Type      string
	DedupeKey string
	Payload   map[string]any
	TS        int64 // Unix ms; 0 means "assign from NowMs"
	NowMs     int64
}

// EnqueueEvent appends one JSON line to events.jsonl and returns the
// materialized event. A UUID id is assigned when absent.
func (s *Store) EnqueueEvent(p EnqueueParams) (types.Event, error) {
	id := types.NormalizeAgentID(p.AgentID)
	if !types.ValidEventSource(p.Source) {
		return types.Event{}, fmt.Errorf("invalid event source %q", p.Source)
	}
	evType := strings.TrimSpace(p.Type)
	if evType == "" {
		return types.Event{}, fmt.Errorf("event type required")
	}

	ts := p.TS
	if ts <= 0 {
		ts = p.NowMs
	}
	ev := types.Event{
		ID:        uuid.NewString(),
		AgentID:   id,
		Source:    p.Source,
		Type:      evType,
		TS:        ts,
		DedupeKey: strings.TrimSpace(p.DedupeKey),
		Payload:   p.Payload,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return types.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := os.MkdirAll(s.AgentDir(id), 0o755); err != nil {
		return types.Event{}, fmt.Errorf("failed to create agent dir: %w", err)
	}

	path := s.eventsPath(id)
	err = s.paths.withPathLock(path, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open event queue: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Event{}, err
	}
	return ev, nil
}

// DrainParams bounds one queue drain.
type DrainParams struct {
	AgentID   string
	State     *types.AgentState
	MaxEvents int
	NowMs     int64
}

// DrainResult reports what a drain admitted and dropped.
type DrainResult struct {
	Events            []types.Event
	DroppedDuplicates int
	DroppedInvalid    int
	DroppedOverflow   int
	Remaining         int
}

// DrainEvents reads the queue, drops overflow past MaxQueueLines (keeping
// the most recent), drops malformed lines, admits up to MaxEvents items not
// seen within the dedupe window, updates state.dedupe, and writes the
// residual queue back. The write-back is atomic with respect to other
// writers on the same path, so a crashed cycle never loses queued events
// that were not admitted.
func (s *Store) DrainEvents(p DrainParams) (DrainResult, error) {
	id := types.NormalizeAgentID(p.AgentID)
	res := DrainResult{}
	if p.State == nil {
		return res, fmt.Errorf("drain requires a loaded state")
	}
	maxEvents := p.MaxEvents
	if maxEvents <= 0 {
		maxEvents = p.State.MaxQueuedEvents
	}

	path := s.eventsPath(id)
	err := s.paths.withPathLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil // empty queue
			}
			return fmt.Errorf("failed to read event queue: %w", err)
		}

		lines := splitQueueLines(data)
		if len(lines) > MaxQueueLines {
			res.DroppedOverflow = len(lines) - MaxQueueLines
			lines = lines[len(lines)-MaxQueueLines:]
		}

		var residual []string
		for _, line := range lines {
			var ev types.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil || strings.TrimSpace(ev.Type) == "" {
				res.DroppedInvalid++
				continue
			}
			if len(res.Events) >= maxEvents {
				residual = append(residual, line)
				continue
			}
			key := ev.EffectiveDedupeKey()
			if last, seen := p.State.Dedupe[key]; seen && last+p.State.DedupeWindowMs > p.NowMs {
				res.DroppedDuplicates++
				continue
			}
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			p.State.Dedupe[key] = p.NowMs
			res.Events = append(res.Events, ev)
		}
		res.Remaining = len(residual)

		return writeQueue(path, residual)
	})
	if err != nil {
		return DrainResult{}, err
	}

	p.State.PruneDedupe(p.NowMs, dedupePruneFactor)
	return res, nil
}

func splitQueueLines(data []byte) []string {
	raw := strings.Split(string(data), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func writeQueue(path string, lines []string) error {
	if len(lines) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to truncate event queue: %w", err)
		}
		return nil
	}
	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write residual queue: %w", err)
	}
	return nil
}
