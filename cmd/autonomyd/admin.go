package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autonomyd/internal/config"
)

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <agent-id>",
		Short: "Pause an agent's autonomy cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := engine.Pause(args[0], time.Now().UnixMilli())
			if err != nil {
				return err
			}
			fmt.Printf("%s paused (%s)\n", st.AgentID, st.PauseReason)
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <agent-id>",
		Short: "Resume a paused agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := engine.Resume(args[0], time.Now().UnixMilli())
			if err != nil {
				return err
			}
			fmt.Printf("%s resumed\n", st.AgentID)
			return nil
		},
	}
}

func tuneCmd() *cobra.Command {
	var (
		mission             string
		maxActions          int
		dedupeWindowMinutes int
		maxQueuedEvents     int
		dailyTokenBudget    int64
		dailyCycleBudget    int
		maxErrors           int
		errorPauseMinutes   int
		staleTaskHours      int
	)

	cmd := &cobra.Command{
		Use:   "tune <agent-id>",
		Short: "Patch an agent's tunables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Only explicitly set flags become overrides.
			var o config.Overrides
			if cmd.Flags().Changed("mission") {
				o.Mission = &mission
			}
			if cmd.Flags().Changed("max-actions") {
				o.MaxActionsPerRun = &maxActions
			}
			if cmd.Flags().Changed("dedupe-window-minutes") {
				o.DedupeWindowMinutes = &dedupeWindowMinutes
			}
			if cmd.Flags().Changed("max-queued-events") {
				o.MaxQueuedEvents = &maxQueuedEvents
			}
			if cmd.Flags().Changed("daily-token-budget") {
				o.DailyTokenBudget = &dailyTokenBudget
			}
			if cmd.Flags().Changed("daily-cycle-budget") {
				o.DailyCycleBudget = &dailyCycleBudget
			}
			if cmd.Flags().Changed("max-consecutive-errors") {
				o.MaxConsecutiveErrors = &maxErrors
			}
			if cmd.Flags().Changed("error-pause-minutes") {
				o.ErrorPauseMinutes = &errorPauseMinutes
			}
			if cmd.Flags().Changed("stale-task-hours") {
				o.StaleTaskHours = &staleTaskHours
			}

			st, err := engine.Tune(args[0], o, time.Now().UnixMilli())
			if err != nil {
				return err
			}
			fmt.Printf("%s tuned: max actions %d, dedupe window %dms, budgets %d cycles / %d tokens\n",
				st.AgentID, st.MaxActionsPerRun, st.DedupeWindowMs,
				st.Safety.DailyCycleBudget, st.Safety.DailyTokenBudget)
			return nil
		},
	}
	cmd.Flags().StringVar(&mission, "mission", "", "agent mission statement")
	cmd.Flags().IntVar(&maxActions, "max-actions", 0, "max actions per run")
	cmd.Flags().IntVar(&dedupeWindowMinutes, "dedupe-window-minutes", 0, "event dedupe window in minutes")
	cmd.Flags().IntVar(&maxQueuedEvents, "max-queued-events", 0, "max events admitted per cycle")
	cmd.Flags().Int64Var(&dailyTokenBudget, "daily-token-budget", 0, "daily token budget (0 = unlimited)")
	cmd.Flags().IntVar(&dailyCycleBudget, "daily-cycle-budget", 0, "daily cycle budget (0 = unlimited)")
	cmd.Flags().IntVar(&maxErrors, "max-consecutive-errors", 0, "consecutive errors before auto-pause")
	cmd.Flags().IntVar(&errorPauseMinutes, "error-pause-minutes", 0, "cooldown after an error pause")
	cmd.Flags().IntVar(&staleTaskHours, "stale-task-hours", 0, "age before a task is flagged stale")
	return cmd
}

func resetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <agent-id>",
		Short: "Delete an agent's runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to delete state for %q without --force", args[0])
			}
			if err := engine.Store().ResetRuntime(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s state deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}
