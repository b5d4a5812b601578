package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	tasksStatus string
	tasksThread string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List stored tasks, newest first",
	Long: `List tasks from the database without touching them, so it is safe to
run next to 'butler serve'.`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Only show tasks with this status")
	tasksCmd.Flags().StringVar(&tasksThread, "thread", "", "Only show tasks on this thread")
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStore(ctx, loaded)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	shown := 0
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if tasksStatus != "" && string(task.Status) != tasksStatus {
			continue
		}
		if tasksThread != "" && task.ThreadID != tasksThread {
			continue
		}
		shown++
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			statusSymbol(task.Status),
			shortID(task.ID),
			task.Status,
			task.Mode,
			task.Title,
			colorMuted.Sprint(task.ResultBrief))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if shown == 0 {
		fmt.Fprintln(out, "No tasks.")
	}
	return nil
}
