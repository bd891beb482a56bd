package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autonomyd/internal/store"
	"autonomyd/internal/types"
)

func enqueueCmd() *cobra.Command {
	var (
		source    string
		eventType string
		dedupeKey string
		payload   string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <agent-id>",
		Short: "Append an event to an agent's queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &body); err != nil {
					return fmt.Errorf("invalid payload JSON: %w", err)
				}
			}
			ev, err := engine.Store().EnqueueEvent(store.EnqueueParams{
				AgentID:   args[0],
				Source:    types.EventSource(source),
				Type:      eventType,
				DedupeKey: dedupeKey,
				Payload:   body,
				NowMs:     time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %s (%s)\n", ev.Type, ev.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", string(types.SourceManual), "event source (cron|webhook|email|subagent|manual)")
	cmd.Flags().StringVar(&eventType, "type", "", "event type (required)")
	cmd.Flags().StringVar(&dedupeKey, "dedupe-key", "", "explicit dedupe key")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <agent-id>",
		Short: "Print an agent's state document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := engine.Store().LoadState(args[0], engine.Config().Agent.Defaults(), time.Now().UnixMilli())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func ledgerCmd() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "ledger <agent-id>",
		Short: "Print augmentation ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := engine.Store().ReadLedger(store.ReadLedgerParams{
				AgentID: args[0],
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return err
			}
			for _, e := range entries {
				stamp := time.UnixMilli(e.TS).UTC().Format(time.RFC3339)
				fmt.Printf("%s [%s] %s: %s\n", stamp, e.Stage, e.EventType, e.Summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}
