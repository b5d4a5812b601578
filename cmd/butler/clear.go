package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/ctxlog"
)

var clearThread string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished tasks",
	Long: `Remove every completed, failed or cancelled task. With --thread, remove
all tasks of one thread instead.

Tasks left queued or running by a stopped server are marked failed first,
so do not run this while 'butler serve' is running.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().StringVar(&clearThread, "thread", "", "Remove the tasks of this thread")
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(ctx, loaded, ctxlog.FromContext(ctx))
	if err != nil {
		return err
	}
	defer a.Close()

	if clearThread != "" {
		removed, err := a.sched.RemoveByThread(ctx, clearThread)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d task(s) from thread %s\n", len(removed), clearThread)
		return nil
	}

	removed, err := a.sched.ClearFinished(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d finished task(s)\n", removed)
	return nil
}
