package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/ctxlog"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run <batch-file|->",
	Short: "Submit a batch and wait for its tasks to finish",
	Long: `Submit one batch document (JSON or YAML, "-" for stdin), run its tasks
and print each task's outcome in dependency order.

Exits non-zero when the batch is rejected or any task does not complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	data, source, err := readBatch(cmd, args[0])
	if err != nil {
		return err
	}

	a, err := openApp(ctx, loaded, ctxlog.FromContext(ctx))
	if err != nil {
		return err
	}
	defer a.Close()

	reply, res, err := a.svc.Dispatch(ctx, source, data)
	fmt.Fprintln(out, reply)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	waitErr := a.sched.WaitIdle(ctx)
	if waitErr != nil {
		a.stopAgents()
	}

	unfinished := 0
	for _, id := range res.Order {
		task, ok := a.sched.Get(id)
		if !ok {
			continue
		}
		if task.Status != scheduler.TaskCompleted {
			unfinished++
		}
		fmt.Fprintf(out, "%s [%s] %s", statusSymbol(task.Status), task.Mode, colorTitle.Sprint(task.Title))
		if task.ResultBrief != "" {
			fmt.Fprintf(out, ": %s", task.ResultBrief)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s\n", colorMuted.Sprint(task.WorkspacePath))
	}

	if waitErr != nil {
		return fmt.Errorf("interrupted while tasks were running: %w", waitErr)
	}
	if unfinished > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", unfinished, len(res.Order))
	}
	return nil
}
