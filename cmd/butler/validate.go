package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/proposal"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate <batch-file|->",
	Short: "Check a batch without running it",
	Long: `Decode a batch document and check its dependency graph, then print the
order its tasks would become eligible to run. Nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	data, source, err := readBatch(cmd, args[0])
	if err != nil {
		return err
	}

	descs, err := proposal.Decode(data)
	if err != nil {
		return err
	}
	if err := scheduler.ValidateBatch(descs); err != nil {
		return err
	}
	order, err := scheduler.TopologicalOrder(descs)
	if err != nil {
		return err
	}

	byKey := make(map[string]scheduler.Descriptor, len(descs))
	for _, d := range descs {
		byKey[d.TaskKey] = d
	}

	fmt.Fprintf(out, "%s %s: %d task(s)\n", colorOK.Sprint("✓"), source, len(descs))
	for i, key := range order {
		d := byKey[key]
		fmt.Fprintf(out, "%d. %s [%s] %s", i+1, key, d.Mode, colorTitle.Sprint(d.Title))
		if len(d.DependsOn) > 0 {
			fmt.Fprintf(out, " %s", colorMuted.Sprintf("(after %s)", strings.Join(d.DependsOn, ", ")))
		}
		if d.ThreadStrategy == scheduler.ReuseLastThread {
			fmt.Fprintf(out, " %s", colorMuted.Sprint("reuses thread"))
		}
		fmt.Fprintln(out)
	}
	return nil
}
