package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/Antony-Jia/butler/internal/persistence"
)

// ThreadStore records execution threads. Implemented by persistence.SQLiteStore.
type ThreadStore interface {
	SaveThread(ctx context.Context, thread persistence.Thread) error
	GetThread(ctx context.Context, threadID string) (persistence.Thread, error)
}

// AllocatorConfig configures the allocator
type AllocatorConfig struct {
	RootPath string           // Directory that holds one folder per task
	Threads  ThreadStore      // Required
	Logger   *slog.Logger     // Optional
	Now      func() time.Time // Defaults to time.Now
}
