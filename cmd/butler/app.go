package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Antony-Jia/butler/internal/butler"
	"github.com/Antony-Jia/butler/internal/config"
	"github.com/Antony-Jia/butler/internal/events"
	"github.com/Antony-Jia/butler/internal/orchestrator"
	"github.com/Antony-Jia/butler/internal/persistence"
	"github.com/Antony-Jia/butler/internal/scheduler"
	"github.com/Antony-Jia/butler/internal/workspace"
)

const (
	// shutdownTimeout bounds how long a stop waits for running tasks to settle.
	shutdownTimeout = 10 * time.Second
	// agentGrace is how long agents get to exit on SIGTERM before being killed.
	agentGrace = 5 * time.Second
)

// app holds the wired components shared by the commands that run tasks.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *persistence.SQLiteStore
	bus      *events.EventBus
	executor *orchestrator.AgentExecutor
	sched    *scheduler.Scheduler
	svc      *butler.Service
}

// openStore opens the SQLite database named by the config.
func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Butler.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return persistence.NewSQLiteStore(ctx, cfg.Butler.DBPath)
}

// openApp wires store, executor, scheduler and dispatch service, then
// recovers persisted tasks. Tasks a previous process left unfinished are
// marked failed, so only one process should run tasks at a time.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		bus:    events.NewEventBus(),
	}

	a.executor, err = orchestrator.NewExecutor(orchestrator.ExecutorConfig{
		Config:  cfg,
		Threads: store,
		Logger:  logger.With("component", "executor"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	alloc := workspace.NewAllocator(workspace.AllocatorConfig{
		RootPath: cfg.Butler.RootPath,
		Threads:  store,
		Logger:   logger.With("component", "workspace"),
	})

	// Agent runs outlive a cancelled command context; shutdown stops them
	// through the process manager instead.
	base := context.WithoutCancel(ctx)

	notifier := events.NewNotifier(a.bus)
	a.sched = scheduler.New(a.executor, alloc, store, scheduler.Options{
		MaxConcurrent: cfg.Butler.MaxConcurrent,
		Notifier:      notifier,
		Threads:       store,
		Logger:        logger.With("component", "scheduler"),
		BaseContext:   func() context.Context { return base },
	})
	if err := a.sched.Recover(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.svc = butler.NewService(a.sched, store, notifier, logger.With("component", "butler"))
	return a, nil
}

// stopAgents terminates running agents and waits for their tasks to settle.
func (a *app) stopAgents() {
	a.logger.Info("shutting down", "running", a.sched.Stats().Running)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	graceCtx, graceCancel := context.WithTimeout(ctx, agentGrace)
	defer graceCancel()
	if err := a.executor.Processes().Shutdown(graceCtx); err != nil {
		a.logger.Warn("failed to kill agent processes", "error", err)
	}

	if err := a.sched.WaitIdle(ctx); err != nil {
		a.logger.Warn("shutdown timeout exceeded, tasks left running", "error", err)
	}
}

// Close kills agent subprocesses and releases the store and bus.
func (a *app) Close() error {
	var errs []error
	if a.executor != nil {
		if err := a.executor.Processes().KillAll(); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill agent processes: %w", err))
		}
	}
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
