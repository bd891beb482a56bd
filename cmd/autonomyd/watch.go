package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchDebounce coalesces bursts of queue writes into one cycle.
const watchDebounce = 500 * time.Millisecond

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <agent-id>",
		Short: "Run cycles continuously: on queue writes and on a timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := args[0]
			dir := engine.Store().AgentDir(agentID)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create agent dir: %w", err)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var debounce *time.Timer
			trigger := make(chan struct{}, 1)
			kick := func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}

			logger.Info("watching agent queue",
				zap.String("agent", agentID), zap.String("dir", dir))

			// One cycle up front so a pre-filled queue drains immediately.
			kick()

			for {
				select {
				case <-stop:
					logger.Info("watch stopped", zap.String("agent", agentID))
					return nil

				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !isQueueWrite(ev) {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(watchDebounce, kick)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Warn("watcher error", zap.Error(err))

				case <-ticker.C:
					kick()

				case <-trigger:
					if err := runCycle(agentID); err != nil {
						logger.Error("cycle failed",
							zap.String("agent", agentID), zap.Error(err))
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "timer interval between cycles")
	return cmd
}

// isQueueWrite reports whether the fs event is an append to the event
// queue. State and lock writes by our own cycles must not retrigger.
func isQueueWrite(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasSuffix(filepath.Base(ev.Name), "events.jsonl")
}
