package butler

import (
	"fmt"
	"strings"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

// FormatReply renders the summary shown after a batch is accepted.
func FormatReply(res *scheduler.BatchResult) string {
	var b strings.Builder
	b.WriteString("Tasks dispatched and started.\n")
	fmt.Fprintf(&b, "Group: %s\n", res.GroupID)
	fmt.Fprintf(&b, "Created %d task(s).", len(res.Tasks))

	for i, task := range res.Tasks {
		deps := "independent"
		if n := len(task.DependsOnTaskIDs); n > 0 {
			deps = fmt.Sprintf("depends:%d", n)
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s (%s)", i+1, task.Mode, task.Title, deps)
	}

	if len(res.Notes) > 0 {
		b.WriteString("\n[Notes]")
		for _, note := range res.Notes {
			b.WriteString("\n")
			b.WriteString(note)
		}
	}
	return b.String()
}
