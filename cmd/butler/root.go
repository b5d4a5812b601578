package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/config"
	"github.com/Antony-Jia/butler/internal/ctxlog"
)

var (
	projectConfigPath string
	logLevelFlag      string
	logFormatFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "butler",
	Short: "Personal task butler",
	Long: `Butler turns batches of proposed tasks into a dependency graph and runs
them on background agents, at most a few at a time and never two on the
same thread.

Batches are JSON or YAML documents. Submit one directly with 'butler run',
or start 'butler serve' and drop files into the inbox directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.GlobalPath(), projectConfigPath)
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			cfg.Log.Level = logLevelFlag
		}
		if logFormatFlag != "" {
			cfg.Log.Format = logFormatFlag
		}
		loaded = cfg

		logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	},
}

// loaded is the configuration resolved by PersistentPreRunE.
var loaded *config.Config

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectConfigPath, "config", ".butler/config.yaml", "Project config file (overrides ~/.butler/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(historyCmd)
}
