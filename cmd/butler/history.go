package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/butler"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show dispatch replies, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Show at most this many recent entries (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStore(ctx, loaded)
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.GetHistory(ctx, butler.Conversation)
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(turns) > historyLimit {
		turns = turns[len(turns)-historyLimit:]
	}

	if len(turns) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	for _, turn := range turns {
		fmt.Fprintf(out, "%s %s\n%s\n\n",
			colorMuted.Sprint(turn.Timestamp.Local().Format("2006-01-02 15:04:05")),
			colorTitle.Sprint(turn.Role),
			turn.Content)
	}
	return nil
}
