package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Antony-Jia/butler/internal/backend"
	"github.com/Antony-Jia/butler/internal/config"
	"github.com/Antony-Jia/butler/internal/persistence"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

// LoopStartedResult is the task result reported for loop-mode tasks.
const LoopStartedResult = "loop task started and will run according to schedule"

// ThreadStore is the slice of persistence the executor needs.
type ThreadStore interface {
	GetThread(ctx context.Context, threadID string) (persistence.Thread, error)
	MarkThreadStarted(ctx context.Context, threadID string) error
	StartLoop(ctx context.Context, threadID string, cfg scheduler.LoopConfig) error
}

// BackendFactory creates a backend for one task run.
type BackendFactory func(cfg backend.Config) (backend.Backend, error)

// ExecutorConfig wires an AgentExecutor.
type ExecutorConfig struct {
	Config   *config.Config
	Threads  ThreadStore
	Procs    *backend.ProcessManager // Defaults to a fresh manager
	Factory  BackendFactory          // Defaults to backend.New
	Retry    RetryConfig
	Breakers *CircuitBreakerRegistry // Defaults to a registry built from Config.Retry
	Logger   *slog.Logger
}

// AgentExecutor runs scheduled tasks by sending their prompt to the agent
// configured for the task mode. Each thread keeps one agent session, so a
// task on a reused thread resumes the conversation.
type AgentExecutor struct {
	cfg      *config.Config
	threads  ThreadStore
	procs    *backend.ProcessManager
	factory  BackendFactory
	retry    RetryConfig
	breakers *CircuitBreakerRegistry
	logger   *slog.Logger
}

var _ scheduler.Executor = (*AgentExecutor)(nil)

// NewExecutor creates an AgentExecutor.
func NewExecutor(ec ExecutorConfig) (*AgentExecutor, error) {
	if ec.Config == nil {
		return nil, errors.New("executor: config is required")
	}
	if ec.Threads == nil {
		return nil, errors.New("executor: thread store is required")
	}

	logger := ec.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	procs := ec.Procs
	if procs == nil {
		procs = backend.NewProcessManager()
	}
	retry := ec.Retry
	if retry.InitialInterval == 0 {
		retry = RetryFromConfig(ec.Config.Retry)
	}
	breakers := ec.Breakers
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(BreakerSettings{
			ConsecutiveFailures: ec.Config.Retry.BreakerFailures,
			Timeout:             ec.Config.Retry.BreakerTimeout,
		}, logger)
	}

	e := &AgentExecutor{
		cfg:      ec.Config,
		threads:  ec.Threads,
		procs:    procs,
		factory:  ec.Factory,
		retry:    retry,
		breakers: breakers,
		logger:   logger,
	}
	if e.factory == nil {
		e.factory = func(cfg backend.Config) (backend.Backend, error) {
			return backend.New(cfg, e.procs)
		}
	}
	return e, nil
}

// Processes returns the process manager tracking agent subprocesses.
func (e *AgentExecutor) Processes() *backend.ProcessManager {
	return e.procs
}

// Execute implements scheduler.Executor.
func (e *AgentExecutor) Execute(ctx context.Context, task scheduler.Task) (string, error) {
	logger := e.logger.With("taskID", task.ID, "threadID", task.ThreadID, "mode", string(task.Mode))

	if task.Mode == scheduler.ModeLoop {
		return e.startLoop(ctx, task, logger)
	}

	agent, provider, err := e.cfg.Agent(string(task.Mode))
	if err != nil {
		return "", err
	}

	resume := false
	thread, err := e.threads.GetThread(ctx, task.ThreadID)
	switch {
	case err == nil:
		resume = thread.Started
	case errors.Is(err, persistence.ErrNotFound):
		logger.Warn("thread record missing, starting a new session")
	default:
		return "", fmt.Errorf("failed to load thread: %w", err)
	}

	b, err := e.factory(backend.Config{
		Type:         provider.Type,
		Command:      provider.Command,
		Args:         provider.Args,
		WorkDir:      task.WorkspacePath,
		SessionID:    task.ThreadID,
		Resume:       resume,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s backend: %w", provider.Type, err)
	}
	defer b.Close()

	logger.Info("sending task to agent", "provider", agent.Provider, "resume", resume)
	resp, err := sendWithRetry(ctx, b, backend.Message{Content: task.Prompt, Role: "user"}, e.breakers.Get(string(task.Mode)), e.retry)
	if err != nil {
		return "", fmt.Errorf("agent %s failed: %w", agent.Provider, err)
	}

	if !resume {
		if err := e.threads.MarkThreadStarted(ctx, task.ThreadID); err != nil {
			logger.Warn("failed to mark thread started", "error", err)
		}
	}
	return resp.Content, nil
}

func (e *AgentExecutor) startLoop(ctx context.Context, task scheduler.Task, logger *slog.Logger) (string, error) {
	cfg := scheduler.DefaultLoopConfig(task.Prompt)
	if task.LoopConfig != nil {
		cfg = *task.LoopConfig
	}
	if err := e.threads.StartLoop(ctx, task.ThreadID, cfg); err != nil {
		return "", fmt.Errorf("failed to start loop: %w", err)
	}
	logger.Info("loop started", "trigger", cfg.Trigger.Type)
	return LoopStartedResult, nil
}
