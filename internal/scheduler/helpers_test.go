package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// memStore is an in-memory Store recording every write.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	puts    int
	failPut error
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*Task)}
}

func (m *memStore) Put(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *memStore) List(ctx context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// knownThreads is a ThreadLookup over a fixed set of thread IDs.
type knownThreads struct {
	ids map[string]bool
	err error
}

func (k knownThreads) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	if k.err != nil {
		return false, k.err
	}
	return k.ids[threadID], nil
}

func (m *memStore) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}

func (m *memStore) get(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task.Clone(), ok
}

// fakeAllocator hands out sequential IDs. threadFor overrides thread choice
// for fresh threads; failOn makes the n-th call (1-based) fail.
type fakeAllocator struct {
	mu        sync.Mutex
	root      string
	calls     int
	failOn    int
	threadFor func(req AllocateRequest) string
	requests  []AllocateRequest
}

func (a *fakeAllocator) Allocate(ctx context.Context, req AllocateRequest) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	a.requests = append(a.requests, req)
	if a.calls == a.failOn {
		return Allocation{}, errors.New("disk full")
	}

	threadID := req.ReuseThreadID
	if threadID == "" {
		threadID = fmt.Sprintf("thread-%d", a.calls)
		if a.threadFor != nil {
			threadID = a.threadFor(req)
		}
	}

	return Allocation{
		TaskID:        fmt.Sprintf("task-%d", a.calls),
		ThreadID:      threadID,
		WorkspacePath: filepath.Join(a.root, fmt.Sprintf("ws-%d", a.calls)),
	}, nil
}

type outcome struct {
	result string
	err    error
}

// call is one executor invocation parked until the test releases it.
type call struct {
	task Task
	done chan outcome
}

func (c call) succeed(result string) { c.done <- outcome{result: result} }
func (c call) fail(err error)        { c.done <- outcome{err: err} }

// gateExecutor blocks every Execute until the test releases it, and records
// concurrency and per-thread overlap while doing so.
type gateExecutor struct {
	calls chan call

	mu              sync.Mutex
	running         int
	maxRunning      int
	threads         map[string]int
	threadOverlap   bool
	executedTaskIDs []string
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{
		calls:   make(chan call, 64),
		threads: make(map[string]int),
	}
}

func (g *gateExecutor) Execute(ctx context.Context, task Task) (string, error) {
	g.mu.Lock()
	g.running++
	if g.running > g.maxRunning {
		g.maxRunning = g.running
	}
	g.threads[task.ThreadID]++
	if g.threads[task.ThreadID] > 1 {
		g.threadOverlap = true
	}
	g.executedTaskIDs = append(g.executedTaskIDs, task.ID)
	g.mu.Unlock()

	c := call{task: task, done: make(chan outcome, 1)}
	g.calls <- c
	out := <-c.done

	g.mu.Lock()
	g.running--
	g.threads[task.ThreadID]--
	g.mu.Unlock()

	return out.result, out.err
}

// next waits for the next executor invocation.
func (g *gateExecutor) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for executor call")
		return call{}
	}
}

// expectNoCall asserts nothing is dispatched within a short grace period.
func (g *gateExecutor) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-g.calls:
		t.Fatalf("unexpected executor call for %s (%s)", c.task.TaskKey, c.task.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func (g *gateExecutor) stats() (maxRunning int, overlap bool, executed []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxRunning, g.threadOverlap, append([]string(nil), g.executedTaskIDs...)
}

type harness struct {
	sched *Scheduler
	store *memStore
	alloc *fakeAllocator
	exec  *gateExecutor
}

// newHarness builds a recovered Scheduler over in-memory fakes.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		store: newMemStore(),
		alloc: &fakeAllocator{root: t.TempDir()},
		exec:  newGateExecutor(),
	}
	h.sched = New(h.exec, h.alloc, h.store, opts)
	require.NoError(t, h.sched.Recover(context.Background()))
	return h
}

// submit submits descs and returns task IDs keyed by task key.
func (h *harness) submit(t *testing.T, descs ...Descriptor) (*BatchResult, map[string]string) {
	t.Helper()

	res, err := h.sched.Submit(context.Background(), descs)
	require.NoError(t, err)

	ids := make(map[string]string, len(res.Tasks))
	for _, task := range res.Tasks {
		ids[task.TaskKey] = task.ID
	}
	return res, ids
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.sched.WaitIdle(ctx))
}

func (h *harness) task(t *testing.T, id string) Task {
	t.Helper()
	task, ok := h.sched.Get(id)
	require.True(t, ok, "task %s not found", id)
	return task
}
