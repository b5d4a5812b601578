// Package workspace gives every task a fresh working folder and binds it to
// an execution thread.
package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Antony-Jia/butler/internal/persistence"
	"github.com/Antony-Jia/butler/internal/scheduler"
	"github.com/google/uuid"
)

var _ scheduler.Allocator = (*Allocator)(nil)

// Allocator creates task folders under a root directory and records the
// thread each task runs on.
type Allocator struct {
	config AllocatorConfig
}

// NewAllocator creates a new allocator
func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Allocator{config: cfg}
}

// Allocate creates a task folder and a thread for a new task. A request with
// ReuseThreadID keeps that thread's id and session state; only the thread's
// current workspace moves to the new folder.
func (a *Allocator) Allocate(ctx context.Context, req scheduler.AllocateRequest) (scheduler.Allocation, error) {
	path, err := a.CreateFolder(req.Mode)
	if err != nil {
		return scheduler.Allocation{}, err
	}

	thread := persistence.Thread{
		ID:            uuid.NewString(),
		Mode:          req.Mode,
		Title:         req.Title,
		WorkspacePath: path,
	}

	if req.ReuseThreadID != "" {
		thread.ID = req.ReuseThreadID
		existing, err := a.config.Threads.GetThread(ctx, req.ReuseThreadID)
		switch {
		case err == nil:
			thread.Title = existing.Title
		case errors.Is(err, persistence.ErrNotFound):
			a.config.Logger.Warn("reused thread has no record, creating one", "threadID", req.ReuseThreadID)
		default:
			return scheduler.Allocation{}, fmt.Errorf("failed to look up thread %s: %w", req.ReuseThreadID, err)
		}
	}

	if err := a.config.Threads.SaveThread(ctx, thread); err != nil {
		return scheduler.Allocation{}, fmt.Errorf("failed to save thread: %w", err)
	}

	return scheduler.Allocation{
		TaskID:        uuid.NewString(),
		ThreadID:      thread.ID,
		WorkspacePath: path,
	}, nil
}

// CreateFolder creates <root>/<YYYY-MM-DD>_<mode>_<hex6> and returns its path.
func (a *Allocator) CreateFolder(mode scheduler.Mode) (string, error) {
	code, err := shortCode()
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_%s", a.config.Now().Format("2006-01-02"), mode, code)
	path := filepath.Join(a.config.RootPath, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create task folder: %w", err)
	}
	return path, nil
}

func shortCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate folder code: %w", err)
	}
	return hex.EncodeToString(b), nil
}
