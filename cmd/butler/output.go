package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

var (
	colorOK      = color.New(color.FgGreen)
	colorRunning = color.New(color.FgYellow)
	colorFailed  = color.New(color.FgRed)
	colorMuted   = color.New(color.FgHiBlack)
	colorTitle   = color.New(color.Bold)
)

// statusSymbol returns a coloured marker for a task status.
func statusSymbol(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskCompleted:
		return colorOK.Sprint("✓")
	case scheduler.TaskRunning:
		return colorRunning.Sprint("●")
	case scheduler.TaskFailed:
		return colorFailed.Sprint("✗")
	case scheduler.TaskCancelled:
		return colorMuted.Sprint("⊘")
	default:
		return colorMuted.Sprint("○")
	}
}

// readBatch reads a batch document from path, or stdin when path is "-".
// The returned source names it in replies and events.
func readBatch(cmd *cobra.Command, path string) ([]byte, string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", fmt.Errorf("failed to read batch from stdin: %w", err)
		}
		return data, "stdin", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read batch: %w", err)
	}
	return data, filepath.Base(path), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
