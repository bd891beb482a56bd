package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autonomyd/internal/types"
)

const goalsTemplate = `# Autonomy Goals

Goals the agent pursues across cycles. One goal per line under Active.

## Active

## Completed
`

const tasksTemplate = `# Autonomy Tasks

Tracked tasks with status markers: open, in-progress, blocked, done.

## Tasks
`

const logTemplate = `# Autonomy Log

One block per cycle, appended by the engine. Do not edit by hand.
`

// ensureWorkspaceFiles creates the operator-visible goals, tasks, and log
// files with their templates when absent. Existing files are left alone.
func ensureWorkspaceFiles(workspaceDir string, state *types.AgentState) error {
	files := []struct {
		name     string
		template string
	}{
		{state.GoalsFile, goalsTemplate},
		{state.TasksFile, tasksTemplate},
		{state.LogFile, logTemplate},
	}
	for _, f := range files {
		path := filepath.Join(workspaceDir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat workspace file %s: %w", f.name, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create workspace dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(f.template), 0o644); err != nil {
			return fmt.Errorf("failed to create workspace file %s: %w", f.name, err)
		}
	}
	return nil
}

// appendLogBlock writes one human-readable cycle block to the workspace
// log: ISO-8601 UTC header, status, counts, budget usage, and an event
// digest.
func appendLogBlock(workspaceDir string, state *types.AgentState, p FinalizeParams, now int64) error {
	var b strings.Builder
	stamp := time.UnixMilli(now).UTC().Format(time.RFC3339)
	fmt.Fprintf(&b, "\n## %s cycle %s\n", stamp, p.Status)
	if p.Summary != "" {
		fmt.Fprintf(&b, "- summary: %s\n", p.Summary)
	}
	if p.Error != "" {
		fmt.Fprintf(&b, "- error: %s\n", p.Error)
	}
	fmt.Fprintf(&b, "- stage: %s\n", state.Augmentation.Stage)
	fmt.Fprintf(&b, "- events processed: %d\n", len(p.Events))
	fmt.Fprintf(&b, "- dropped: %d duplicates, %d invalid, %d overflow\n",
		p.DroppedDuplicates, p.DroppedInvalid, p.DroppedOverflow)
	fmt.Fprintf(&b, "- queue remaining: %d\n", p.Remaining)
	fmt.Fprintf(&b, "- budget today: %d cycles, %d tokens\n",
		state.Budget.CyclesUsed, state.Budget.TokensUsed)
	if len(p.Events) > 0 {
		b.WriteString("- digest:\n")
		for _, ev := range p.Events {
			fmt.Fprintf(&b, "  - [%s] %s", ev.Source, ev.Type)
			if ev.DedupeKey != "" {
				fmt.Fprintf(&b, " (%s)", ev.DedupeKey)
			}
			b.WriteString("\n")
		}
	}

	path := filepath.Join(workspaceDir, state.LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
