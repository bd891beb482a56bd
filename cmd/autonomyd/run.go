package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autonomyd/internal/runtime"
	"autonomyd/internal/types"
)

func runCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "run [agent-id]",
		Short: "Run one autonomy cycle for an agent (or --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				agents, err := engine.Store().ListAgents()
				if err != nil {
					return err
				}
				if len(agents) == 0 {
					fmt.Println("no agents with state found")
					return nil
				}
				// Agents run in parallel; state directories are disjoint.
				var g errgroup.Group
				for _, agent := range agents {
					agent := agent
					g.Go(func() error { return runCycle(agent) })
				}
				return g.Wait()
			}

			if len(args) != 1 {
				return fmt.Errorf("exactly one agent id required (or --all)")
			}
			return runCycle(args[0])
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run one cycle for every known agent")
	return cmd
}

// runCycle drives one full prepare/finalize cycle. The prepared prompt is
// printed for the caller; the engine itself performs no agent actions.
func runCycle(agentID string) error {
	now := time.Now().UnixMilli()
	res, err := engine.Prepare(runtime.PrepareParams{
		AgentID:      agentID,
		WorkspaceDir: flagWorkspace,
		NowMs:        now,
	})
	if err != nil {
		return fmt.Errorf("prepare failed for %s: %w", agentID, err)
	}
	if res.Skipped {
		fmt.Printf("%s: skipped: %s\n", agentID, res.SkipReason)
		return nil
	}

	fmt.Println(res.Prompt)
	logger.Info("cycle prepared",
		zap.String("agent", agentID),
		zap.String("stage", string(res.State.Augmentation.Stage)),
		zap.Int("events", len(res.Events)),
		zap.Int("remaining", res.Remaining))

	return engine.Finalize(runtime.FinalizeParams{
		AgentID:           agentID,
		WorkspaceDir:      flagWorkspace,
		State:             res.State,
		Status:            types.CycleOK,
		Summary:           fmt.Sprintf("processed %d events in stage %s", len(res.Events), res.State.Augmentation.Stage),
		Events:            res.Events,
		DroppedDuplicates: res.DroppedDuplicates,
		DroppedInvalid:    res.DroppedInvalid,
		DroppedOverflow:   res.DroppedOverflow,
		Remaining:         res.Remaining,
		CycleStartedAt:    res.CycleStartedAt,
		LockToken:         res.LockToken,
		NowMs:             time.Now().UnixMilli(),
	})
}
