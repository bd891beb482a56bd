// autonomyd is the autonomy engine daemon and operator CLI. It owns the
// per-agent durable state under the state root and drives augmentation
// cycles either one-shot (run) or continuously (watch).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autonomyd/internal/config"
	"autonomyd/internal/runtime"
	"autonomyd/internal/store"
)

var (
	flagConfig    string
	flagWorkspace string
	flagVerbose   bool

	logger *zap.Logger
	engine *runtime.Engine
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autonomyd",
		Short: "Per-agent autonomy engine",
		Long: `autonomyd drives self-augmentation cycles for agents: it drains queued
events, ranks capability gaps, plans and verifies skill candidates, and
walks each agent through the augmentation stages under policy control.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Best effort; a missing .env is the normal case.
			_ = godotenv.Load()

			var err error
			if flagVerbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			engine = runtime.New(store.New(cfg.StateRoot), cfg, runtime.WithLogger(logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "path to the YAML config file")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "agent workspace directory")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		runCmd(),
		watchCmd(),
		enqueueCmd(),
		stateCmd(),
		ledgerCmd(),
		pauseCmd(),
		resumeCmd(),
		tuneCmd(),
		resetCmd(),
	)
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "autonomyd.yaml"
	}
	return home + "/.autonomyd/config.yaml"
}
