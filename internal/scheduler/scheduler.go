package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotRecovered  = errors.New("scheduler has not recovered persisted tasks")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskNotQueued = errors.New("task is not queued")
)

// Executor runs one task to completion. It knows nothing about the graph.
type Executor interface {
	Execute(ctx context.Context, task Task) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task Task) (string, error) { return f(ctx, task) }

// AllocateRequest asks for an execution thread and working directory.
type AllocateRequest struct {
	Mode          Mode
	Title         string
	ReuseThreadID string // Empty requests a fresh thread
}

// Allocation is the identity and resources assigned to a new task.
type Allocation struct {
	TaskID        string
	ThreadID      string
	WorkspacePath string
}

// Allocator creates or reuses execution contexts for new tasks.
type Allocator interface {
	Allocate(ctx context.Context, req AllocateRequest) (Allocation, error)
}

// Store is the write-through persistence side-channel used for crash recovery.
type Store interface {
	Put(ctx context.Context, task *Task) error
	List(ctx context.Context) ([]*Task, error)
	Remove(ctx context.Context, taskIDs []string) error
}

// ThreadLookup reports whether an execution thread still exists. Recover drops
// persisted tasks whose thread is gone.
type ThreadLookup interface {
	ThreadExists(ctx context.Context, threadID string) (bool, error)
}

// Notifier receives a snapshot after every graph mutation. Implementations
// must not block and must not call back into the Scheduler.
type Notifier interface {
	TasksChanged(tasks []Task)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(tasks []Task)

func (f NotifierFunc) TasksChanged(tasks []Task) { f(tasks) }

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	MaxConcurrent int                    // Executor calls in flight (default 2, minimum 1)
	Notifier      Notifier               // Optional
	Threads       ThreadLookup           // Optional; enables orphan removal in Recover
	Handoff       *HandoffAssembler      // Defaults to NewHandoffAssembler(Logger)
	Logger        *slog.Logger           // Defaults to a discarding logger
	BaseContext   func() context.Context // Context for executor calls and status writes
	Now           func() time.Time
}

// BatchResult describes a batch accepted by Submit.
type BatchResult struct {
	GroupID      string
	Tasks        []Task   // Batch order
	ReadyTaskIDs []string // Enqueued immediately
	Order        []string // Task IDs, dependencies first
	Notes        []string // Non-fatal remarks, e.g. thread reuse fallbacks
}

// Stats counts tasks per status.
type Stats struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Scheduler owns the task graph and dispatches ready tasks to the Executor
// with bounded concurrency and one running task per thread. All graph state is
// guarded by mu, so submissions, completions and pumps form one logical loop.
type Scheduler struct {
	exec     Executor
	alloc    Allocator
	store    Store
	notifier Notifier
	lookup   ThreadLookup
	handoff  *HandoffAssembler
	logger   *slog.Logger
	baseCtx  func() context.Context
	now      func() time.Time

	maxConcurrent int

	mu         sync.Mutex
	tasks      map[string]*Task
	order      []string // creation order, oldest first
	queue      []string // ready task IDs, FIFO
	running    map[string]struct{}
	threads    threadSet
	children   map[string][]string            // parent ID -> dependent IDs
	unresolved map[string]map[string]struct{} // child ID -> parents not yet completed
	recovered  bool
	idle       chan struct{} // closed while nothing is running
}

// New creates a Scheduler. Recover must succeed before Submit accepts work.
func New(exec Executor, alloc Allocator, store Store, opts Options) *Scheduler {
	switch {
	case opts.MaxConcurrent == 0:
		opts.MaxConcurrent = 2
	case opts.MaxConcurrent < 0:
		opts.MaxConcurrent = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Handoff == nil {
		opts.Handoff = NewHandoffAssembler(opts.Logger)
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		exec:          exec,
		alloc:         alloc,
		store:         store,
		notifier:      opts.Notifier,
		lookup:        opts.Threads,
		handoff:       opts.Handoff,
		logger:        opts.Logger,
		baseCtx:       opts.BaseContext,
		now:           opts.Now,
		maxConcurrent: opts.MaxConcurrent,
		tasks:         make(map[string]*Task),
		running:       make(map[string]struct{}),
		threads:       make(threadSet),
		children:      make(map[string][]string),
		unresolved:    make(map[string]map[string]struct{}),
		idle:          idle,
	}
}

// MaxConcurrent returns the configured concurrency budget.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// Submit validates a batch, materializes its tasks and enqueues the ready ones.
// A validation failure returns a *BatchError and creates nothing.
func (s *Scheduler) Submit(ctx context.Context, descs []Descriptor) (*BatchResult, error) {
	if len(descs) == 0 {
		return nil, &BatchError{Kind: ErrInvalidBatch, Msg: "batch is empty"}
	}
	if err := ValidateBatch(descs); err != nil {
		return nil, err
	}
	keyOrder, err := TopologicalOrder(descs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recovered {
		return nil, ErrNotRecovered
	}

	res, byKey, err := s.build(ctx, descs)
	if err != nil {
		s.notifyLocked()
		return nil, err
	}

	for _, key := range keyOrder {
		res.Order = append(res.Order, byKey[key].ID)
	}

	for _, id := range res.ReadyTaskIDs {
		s.enqueue(id)
	}

	s.logger.Info("batch accepted",
		"groupID", res.GroupID,
		"tasks", len(res.Tasks),
		"ready", len(res.ReadyTaskIDs))

	s.notifyLocked()
	s.pump()

	return res, nil
}

// Cancel withdraws a task that has not started. Its queued descendants fail.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskQueued {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotQueued, taskID, task.Status)
	}

	now := s.now()
	task.Status = TaskCancelled
	task.CompletedAt = &now
	task.ResultBrief = "cancelled"
	task.ResultDetail = "cancelled"
	s.persist(ctx, task)
	s.settle(ctx, task)

	s.notifyLocked()
	s.pump()
	return nil
}

// Get returns a copy of the task with the given ID.
func (s *Scheduler) Get(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task.Clone(), true
}

// Tasks returns copies of all known tasks, newest first.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.snapshotLocked()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats returns per-status task counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.tasks)}
	for _, task := range s.tasks {
		switch task.Status {
		case TaskQueued:
			st.Queued++
		case TaskRunning:
			st.Running++
		case TaskCompleted:
			st.Completed++
		case TaskFailed:
			st.Failed++
		case TaskCancelled:
			st.Cancelled++
		}
	}
	return st
}

// WaitIdle blocks until no task is running or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue appends a ready task to the queue unless it is already there.
func (s *Scheduler) enqueue(taskID string) {
	for _, id := range s.queue {
		if id == taskID {
			return
		}
	}
	s.queue = append(s.queue, taskID)
}

// pump dispatches ready tasks until the budget is spent or nothing in the
// queue can start. The whole queue is scanned because the head may be waiting
// on a busy thread while a later entry is not.
func (s *Scheduler) pump() {
	for len(s.running) < s.maxConcurrent && len(s.queue) > 0 {
		next := -1
		for i := 0; i < len(s.queue); i++ {
			task, ok := s.tasks[s.queue[i]]
			if !ok || task.Status != TaskQueued {
				// Stale entry: removed, cancelled or failed by a cascade
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				i--
				continue
			}
			if s.threads.held(task.ThreadID) {
				continue
			}
			if s.canStart(task) {
				next = i
				break
			}
		}

		if next < 0 {
			break
		}

		id := s.queue[next]
		s.queue = append(s.queue[:next], s.queue[next+1:]...)
		s.start(s.tasks[id])
	}

	s.signalIdleLocked()
}

// canStart re-checks dependencies at dispatch time. A missing, failed or
// cancelled parent fails the task on the spot.
func (s *Scheduler) canStart(task *Task) bool {
	if task.Status != TaskQueued {
		return false
	}

	for _, parentID := range task.DependsOnTaskIDs {
		parent, ok := s.tasks[parentID]
		if !ok {
			s.failDependent(task, fmt.Sprintf("dependency missing: %s", parentID))
			return false
		}
		if parent.Status == TaskFailed || parent.Status == TaskCancelled {
			s.failDependent(task, dependencyFailure(parent))
			return false
		}
		if parent.Status != TaskCompleted {
			return false
		}
	}

	return true
}

// start marks a task running and hands it to the executor.
func (s *Scheduler) start(task *Task) {
	ctx := s.baseCtx()

	now := s.now()
	task.Status = TaskRunning
	task.StartedAt = &now
	s.running[task.ID] = struct{}{}
	s.threads.acquire(task.ThreadID)
	s.persist(ctx, task)

	parents := s.parentsOf(task)
	for i, p := range parents {
		parents[i] = p.Clone()
	}

	execTask := *task.Clone()
	execTask.Prompt = s.handoff.Prompt(task, parents)

	s.logger.Info("task dispatched", "taskID", task.ID, "threadID", task.ThreadID, "mode", task.Mode)
	s.notifyLocked()

	go s.run(ctx, execTask, parents)
}

// run stages the handoff artifact and invokes the executor outside the lock,
// then reports back.
func (s *Scheduler) run(ctx context.Context, task Task, parents []*Task) {
	s.handoff.Stage(&task, parents)
	result, err := s.invoke(ctx, task)
	s.complete(ctx, task.ID, task.ThreadID, result, err)
}

// invoke shields the scheduler from executor panics.
func (s *Scheduler) invoke(ctx context.Context, task Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.exec.Execute(ctx, task)
}

// complete records the executor outcome, settles dependents and pumps again.
func (s *Scheduler) complete(ctx context.Context, taskID, threadID, result string, execErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, taskID)
	s.threads.release(threadID)

	task, ok := s.tasks[taskID]
	if ok && task.Status == TaskRunning {
		now := s.now()
		task.CompletedAt = &now
		if execErr != nil {
			task.Status = TaskFailed
			task.ResultBrief = brief(execErr.Error())
			task.ResultDetail = execErr.Error()
			s.logger.Warn("task failed", "taskID", taskID, "error", execErr)
		} else {
			task.Status = TaskCompleted
			task.ResultBrief = brief(result)
			task.ResultDetail = result
			s.logger.Info("task completed", "taskID", taskID)
		}
		s.persist(ctx, task)
		s.settle(ctx, task)
	}

	s.notifyLocked()
	s.pump()
}

// persist writes a task through to the store. The in-memory copy stays
// authoritative when the write fails.
func (s *Scheduler) persist(ctx context.Context, task *Task) {
	if err := s.store.Put(ctx, task); err != nil {
		s.logger.Error("failed to persist task", "taskID", task.ID, "status", task.Status, "error", err)
	}
}

// parentsOf returns the task's dependencies that still exist, in order.
func (s *Scheduler) parentsOf(task *Task) []*Task {
	parents := make([]*Task, 0, len(task.DependsOnTaskIDs))
	for _, id := range task.DependsOnTaskIDs {
		if parent, ok := s.tasks[id]; ok {
			parents = append(parents, parent)
		}
	}
	return parents
}

// snapshotLocked copies all tasks in creation order.
func (s *Scheduler) snapshotLocked() []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		if task, ok := s.tasks[id]; ok {
			out = append(out, *task.Clone())
		}
	}
	return out
}

func (s *Scheduler) notifyLocked() {
	if s.notifier == nil {
		return
	}
	s.notifier.TasksChanged(s.snapshotLocked())
}

func (s *Scheduler) signalIdleLocked() {
	select {
	case <-s.idle:
		if len(s.running) > 0 {
			s.idle = make(chan struct{})
		}
	default:
		if len(s.running) == 0 {
			close(s.idle)
		}
	}
}

// brief returns the first non-empty line of text, capped at 200 runes.
func brief(text string) string {
	const limit = 200

	line := ""
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit-3]) + "..."
	}
	return line
}
