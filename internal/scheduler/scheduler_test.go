package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/clock"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/metrics"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

// recordingExecutor records execution order and returns a canned result.
type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	err   error
	// before runs inside Execute, e.g. to advance a manual clock.
	before func(t queue.Task)
}

func (r *recordingExecutor) Execute(_ context.Context, t queue.Task) error {
	if r.before != nil {
		r.before(t)
	}
	r.mu.Lock()
	r.order = append(r.order, t.ID)
	r.mu.Unlock()
	return r.err
}

func (r *recordingExecutor) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// blockingExecutor holds every execution until release is closed.
type blockingExecutor struct {
	release chan struct{}
	started chan string
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{}), started: make(chan string, 16)}
}

func (b *blockingExecutor) Execute(_ context.Context, t queue.Task) error {
	b.started <- t.ID
	<-b.release
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	tasks   []queue.Task
	workers []queue.Worker
}

func (n *recordingNotifier) TaskUpdated(t queue.Task) {
	n.mu.Lock()
	n.tasks = append(n.tasks, t)
	n.mu.Unlock()
}

func (n *recordingNotifier) WorkerUpdated(w queue.Worker) {
	n.mu.Lock()
	n.workers = append(n.workers, w)
	n.mu.Unlock()
}

type fixture struct {
	s     *Scheduler
	clk   *clock.Manual
	store *kv.Store
	m     *metrics.Metrics
}

func newFixture(t *testing.T, exec Executor, opts Options, extra ...Option) fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	quiet := log.New(&bytes.Buffer{}, "", 0)
	store := kv.New(kv.WithClock(clk), kv.WithLogger(quiet))
	m := &metrics.Metrics{}
	n := 0
	options := []Option{
		WithClock(clk),
		WithLogger(quiet),
		WithMetrics(m),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("task-%d", n) }),
	}
	options = append(options, extra...)
	s := New(exec, store, opts, options...)
	return fixture{s: s, clk: clk, store: store, m: m}
}

// start flips the scheduler to running without launching real timers, so
// tests drive ticks by hand.
func (f fixture) start() {
	f.s.mu.Lock()
	f.s.running = true
	f.s.mu.Unlock()
}

func checkInvariants(t *testing.T, s *Scheduler) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		hasWorker := task.WorkerID != ""
		assigned := task.Status == queue.StatusRunning || task.Status.Terminal()
		if hasWorker != assigned {
			t.Fatalf("task %s: status %s with workerId %q", id, task.Status, task.WorkerID)
		}
	}
	for _, id := range s.queue.IDs() {
		if s.tasks[id].Status != queue.StatusPending {
			t.Fatalf("queue holds %s in status %s", id, s.tasks[id].Status)
		}
	}
	for id, w := range s.workers {
		if w.Status == queue.WorkerBusy && w.CurrentTask == "" {
			t.Fatalf("worker %s BUSY without a task", id)
		}
		if w.Status == queue.WorkerOnline && w.CurrentTask != "" {
			t.Fatalf("worker %s ONLINE with task %s", id, w.CurrentTask)
		}
	}
}

func TestPriorityScenarioExecutionOrder(t *testing.T) {
	exec := &recordingExecutor{}
	f := newFixture(t, exec, DefaultOptions())
	f.start()
	if err := f.s.RegisterWorker("w1", "worker one", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, p := range []int{1, 5, 5} {
		if _, err := f.s.AddTask("CLEANUP", nil, p); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Second)
		f.s.AssignTick()
		f.s.inflight.Wait()
		checkInvariants(t, f.s)
	}

	got := exec.executed()
	want := []string{"task-2", "task-3", "task-1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("execution order: got %v want %v", got, want)
	}
	m := f.s.SystemMetrics()
	if m.Tasks.Completed != 3 || m.QueueLength != 0 {
		t.Fatalf("metrics after run: %+v", m)
	}
}

func TestAssignTickWithoutFreeWorkerKeepsQueue(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	f.start()
	id, _ := f.s.AddTask("DATA_SYNC", nil, 1)

	f.s.AssignTick()
	task, _ := f.s.GetTask(id)
	if task.Status != queue.StatusPending {
		t.Fatalf("status: got %s want PENDING", task.Status)
	}
	if got := f.s.QueuedIDs(); len(got) != 1 {
		t.Fatalf("queue drained without a worker: %v", got)
	}
}

func TestAssignTickNoopWhenStopped(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	_ = f.s.RegisterWorker("w1", "w", nil)
	id, _ := f.s.AddTask("DATA_SYNC", nil, 1)

	f.s.AssignTick()
	if task, _ := f.s.GetTask(id); task.Status != queue.StatusPending {
		t.Fatalf("stopped scheduler assigned a task: %s", task.Status)
	}
}

func TestMaxAssignmentsPerTick(t *testing.T) {
	for _, tc := range []struct {
		max  int
		want int
	}{{1, 1}, {2, 2}, {5, 3}} {
		t.Run(fmt.Sprintf("max=%d", tc.max), func(t *testing.T) {
			exec := newBlockingExecutor()
			opts := DefaultOptions()
			opts.MaxAssignmentsPerTick = tc.max
			f := newFixture(t, exec, opts)
			f.start()
			for i := 0; i < 3; i++ {
				_ = f.s.RegisterWorker(fmt.Sprintf("w%d", i), "w", nil)
			}
			for i := 0; i < 4; i++ {
				_, _ = f.s.AddTask("CLEANUP", nil, 0)
			}
			f.s.AssignTick()
			m := f.s.SystemMetrics()
			close(exec.release)
			f.s.inflight.Wait()
			if m.Tasks.Running != tc.want || m.Workers.Busy != tc.want {
				t.Fatalf("running=%d busy=%d want %d", m.Tasks.Running, m.Workers.Busy, tc.want)
			}
		})
	}
}

func TestSuccessUpdatesPerformance(t *testing.T) {
	exec := &recordingExecutor{}
	f := newFixture(t, exec, DefaultOptions())
	exec.before = func(queue.Task) { f.clk.Advance(4 * time.Second) }
	f.start()
	_ = f.s.RegisterWorker("w1", "w", []string{"CLEANUP"})
	id, _ := f.s.AddTask("CLEANUP", []byte(`{"n":1}`), 1)

	f.s.AssignTick()
	f.s.inflight.Wait()

	task, _ := f.s.GetTask(id)
	if task.Status != queue.StatusCompleted || task.CompletedAt == nil || task.WorkerID != "w1" {
		t.Fatalf("task: %+v", task)
	}
	w, _ := f.s.GetWorker("w1")
	if w.Status != queue.WorkerOnline || w.CurrentTask != "" {
		t.Fatalf("worker not released: %+v", w)
	}
	if w.Performance.TasksCompleted != 1 {
		t.Fatalf("tasksCompleted: got %d", w.Performance.TasksCompleted)
	}
	if w.Performance.AverageExecutionTime != 2000 {
		t.Fatalf("averageExecutionTime: got %v want 2000", w.Performance.AverageExecutionTime)
	}
	if w.Performance.SuccessRate != 100 {
		t.Fatalf("successRate: got %v", w.Performance.SuccessRate)
	}
}

func TestFailureLowersSuccessRateFlooredAtZero(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("bank unreachable")}
	opts := DefaultOptions()
	opts.SuccessRatePenalty = 40
	f := newFixture(t, exec, opts)
	f.start()
	_ = f.s.RegisterWorker("w1", "w", nil)

	var last string
	for i := 0; i < 3; i++ {
		last, _ = f.s.AddTask("USER_ANALYSIS", nil, 1)
		f.s.AssignTick()
		f.s.inflight.Wait()
		checkInvariants(t, f.s)
	}

	task, _ := f.s.GetTask(last)
	if task.Status != queue.StatusFailed || task.Error != "bank unreachable" {
		t.Fatalf("task: %+v", task)
	}
	w, _ := f.s.GetWorker("w1")
	if w.Performance.SuccessRate != 0 {
		t.Fatalf("successRate: got %v want 0", w.Performance.SuccessRate)
	}
	if w.Status != queue.WorkerOnline {
		t.Fatalf("worker should stay available after failure, got %s", w.Status)
	}
	if f.m.Snapshot().Failed != 3 {
		t.Fatalf("failed counter: %+v", f.m.Snapshot())
	}
}

func TestTerminalTasksAreImmutable(t *testing.T) {
	exec := &recordingExecutor{}
	f := newFixture(t, exec, DefaultOptions())
	f.start()
	_ = f.s.RegisterWorker("w1", "w", nil)
	id, _ := f.s.AddTask("CLEANUP", nil, 1)
	f.s.AssignTick()
	f.s.inflight.Wait()

	done, _ := f.s.GetTask(id)
	// A late duplicate outcome must not flip the terminal state.
	f.s.finish(done, errors.New("late"))
	again, _ := f.s.GetTask(id)
	if again.Status != queue.StatusCompleted || again.Error != "" {
		t.Fatalf("terminal task mutated: %+v", again)
	}
}

func TestNotifierSeesTransitions(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, &recordingExecutor{}, DefaultOptions(), WithNotifier(n))
	f.start()
	_ = f.s.RegisterWorker("w1", "w", nil)
	_, _ = f.s.AddTask("CLEANUP", nil, 1)
	f.s.AssignTick()
	f.s.inflight.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	var statuses []queue.TaskStatus
	for _, task := range n.tasks {
		statuses = append(statuses, task.Status)
	}
	want := []queue.TaskStatus{queue.StatusPending, queue.StatusRunning, queue.StatusCompleted}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("task updates: got %v want %v", statuses, want)
	}
	if len(n.workers) != 3 { // registered, busy, released
		t.Fatalf("worker updates: got %d want 3", len(n.workers))
	}
}

func TestSystemMetricsIsReadOnly(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	_ = f.s.RegisterWorker("w1", "w", nil)
	_, _ = f.s.AddTask("CLEANUP", nil, 1)
	v1, _ := f.store.GetVersionInfo(TasksKey)

	a := f.s.SystemMetrics()
	b := f.s.SystemMetrics()
	if a.Tasks != b.Tasks || a.Workers != b.Workers || a.QueueLength != b.QueueLength {
		t.Fatalf("metrics changed between reads: %+v vs %+v", a, b)
	}
	if a.Tasks.Pending != 1 || a.Workers.Online != 1 || a.QueueLength != 1 {
		t.Fatalf("metrics: %+v", a)
	}
	if v2, _ := f.store.GetVersionInfo(TasksKey); v2.Version != v1.Version {
		t.Fatalf("metrics read wrote to the store")
	}
}

func TestAddTaskValidation(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	if _, err := f.s.AddTask("", nil, 1); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("got %v want ErrInvalidTask", err)
	}
	if err := f.s.RegisterWorker("", "x", nil); !errors.Is(err, ErrInvalidWorker) {
		t.Fatalf("got %v want ErrInvalidWorker", err)
	}
	if err := f.s.RecordHeartbeat("ghost"); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("got %v want ErrUnknownWorker", err)
	}
}

func TestPruneTasks(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	f.start()
	_ = f.s.RegisterWorker("w1", "w", nil)
	done, _ := f.s.AddTask("CLEANUP", nil, 1)
	f.s.AssignTick()
	f.s.inflight.Wait()
	pending, _ := f.s.AddTask("CLEANUP", nil, 1)

	f.clk.Advance(2 * time.Hour)
	if n := f.s.PruneTasks(time.Hour); n != 1 {
		t.Fatalf("pruned %d want 1", n)
	}
	if _, ok := f.s.GetTask(done); ok {
		t.Fatalf("completed task survived prune")
	}
	if _, ok := f.s.GetTask(pending); !ok {
		t.Fatalf("pending task was pruned")
	}
}

func TestListTasksAndWorkers(t *testing.T) {
	f := newFixture(t, &recordingExecutor{}, DefaultOptions())
	_ = f.s.RegisterWorker("b", "b", nil)
	_ = f.s.RegisterWorker("a", "a", nil)
	for i := 0; i < 3; i++ {
		_, _ = f.s.AddTask("CLEANUP", nil, i)
		f.clk.Advance(time.Second)
	}

	tasks := f.s.ListTasks(queue.StatusPending, 2)
	if len(tasks) != 2 || tasks[0].ID != "task-3" || tasks[1].ID != "task-2" {
		t.Fatalf("list tasks: %+v", tasks)
	}
	if got := f.s.ListTasks(queue.StatusCompleted, 0); len(got) != 0 {
		t.Fatalf("completed filter: %+v", got)
	}
	workers := f.s.ListWorkers()
	if len(workers) != 2 || workers[0].ID != "b" || workers[1].ID != "a" {
		t.Fatalf("workers not in registration order: %+v", workers)
	}
}

func TestStartStop(t *testing.T) {
	exec := &recordingExecutor{}
	opts := DefaultOptions()
	opts.AssignInterval = 5 * time.Millisecond
	opts.LivenessInterval = time.Hour
	f := newFixture(t, exec, opts)
	_ = f.s.RegisterWorker("w1", "w", nil)
	id, _ := f.s.AddTask("CLEANUP", nil, 1)

	f.s.Start(context.Background())
	f.s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, _ := f.s.GetTask(id); task.Status == queue.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.s.Stop()
	f.s.Stop()
	f.s.inflight.Wait()

	if task, _ := f.s.GetTask(id); task.Status != queue.StatusCompleted {
		t.Fatalf("task not completed by timer-driven scheduler: %s", task.Status)
	}
	if f.s.Running() {
		t.Fatalf("scheduler still running after Stop")
	}
}
