package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Antony-Jia/butler/internal/config"
	"github.com/Antony-Jia/butler/internal/ctxlog"
	"github.com/Antony-Jia/butler/internal/proposal"
	"github.com/Antony-Jia/butler/internal/tui"
)

var serveBoard bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the inbox and run every batch dropped into it",
	Long: `Watch the inbox directory (butler.inbox_path) for batch files. Each file
is submitted once, then renamed with a .done or .rejected suffix; rejected
files get a .reason file next to them.

With --board, a live task board replaces log output, which goes to
~/.butler/butler.log instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveBoard, "board", false, "Show the live task board")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	if serveBoard {
		logPath := filepath.Join(config.HomeDir(), "butler.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logger = ctxlog.New(loaded.Log.Level, loaded.Log.Format, f)
	}

	a, err := openApp(ctx, loaded, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	watcher := proposal.NewWatcher(loaded.Butler.InboxPath, a.svc, logger.With("component", "inbox"))

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if serveBoard {
		g.Go(func() error {
			// Quitting the board stops the server
			defer stop()

			p := tea.NewProgram(tui.New(a.bus, a.sched.Tasks(), a.sched), tea.WithAltScreen(), tea.WithContext(gctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("task board failed: %w", err)
			}
			return nil
		})
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for task batches (Ctrl+C to stop)\n", loaded.Butler.InboxPath)
	}

	err = g.Wait()

	a.stopAgents()
	logger.Info("shutdown complete")
	return err
}
