package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tushkiz/go-tiny-orchestrator/internal/clock"
	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/metrics"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

// Store keys holding the scheduler snapshot.
const (
	TasksKey   = "orchestrator_tasks"
	WorkersKey = "orchestrator_workers"
	QueueKey   = "orchestrator_queue"
)

var (
	ErrUnknownWorker = errors.New("scheduler: unknown worker")
	ErrUnknownTask   = errors.New("scheduler: unknown task")
	ErrInvalidTask   = errors.New("scheduler: task type is required")
	ErrInvalidWorker = errors.New("scheduler: worker id is required")
)

// Executor runs one task. It is where a real dispatcher would call out to a
// remote worker process.
type Executor interface {
	Execute(ctx context.Context, t queue.Task) error
}

// Notifier is told about every task and worker transition. Calls happen
// outside the scheduler lock and must not block.
type Notifier interface {
	TaskUpdated(t queue.Task)
	WorkerUpdated(w queue.Worker)
}

type Options struct {
	AssignInterval time.Duration
	// MaxAssignmentsPerTick caps dispatches per assignment tick.
	MaxAssignmentsPerTick int
	LivenessInterval      time.Duration
	HeartbeatTimeout      time.Duration
	// RequeueOnOffline returns a RUNNING task to the queue when its worker
	// is marked OFFLINE. When false the task is left RUNNING.
	RequeueOnOffline   bool
	SuccessRatePenalty float64
}

func OptionsFrom(c config.SchedulerConfig) Options {
	return Options{
		AssignInterval:        c.AssignInterval,
		MaxAssignmentsPerTick: c.MaxAssignmentsPerTick,
		LivenessInterval:      c.LivenessInterval,
		HeartbeatTimeout:      c.HeartbeatTimeout,
		RequeueOnOffline:      c.RequeueOnOffline,
		SuccessRatePenalty:    c.SuccessRatePenalty,
	}
}

func DefaultOptions() Options {
	return OptionsFrom(config.Default().Scheduler)
}

// Scheduler owns the task table, the worker table and the pending queue.
// A single mutex guards all three; every tick holds it for its whole body so
// a tick is one atomic transaction.
type Scheduler struct {
	mu          sync.Mutex
	tasks       map[string]*queue.Task
	workers     map[string]*queue.Worker
	workerOrder []string
	queue       *queue.Queue
	running     bool
	stopTimers  context.CancelFunc

	opts     Options
	exec     Executor
	store    *kv.Store
	clock    clock.Clock
	logger   *log.Logger
	notifier Notifier
	metrics  *metrics.Metrics
	newID    func() string
	bootedAt time.Time

	// persistMu orders snapshot writes so an older snapshot never lands
	// after a newer one.
	persistMu sync.Mutex
	inflight  sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithIDGenerator overrides task id generation (uuid by default).
func WithIDGenerator(fn func() string) Option { return func(s *Scheduler) { s.newID = fn } }

// New builds a stopped scheduler. store may be nil, in which case nothing
// is snapshotted.
func New(exec Executor, store *kv.Store, opts Options, options ...Option) *Scheduler {
	if opts.MaxAssignmentsPerTick <= 0 {
		opts.MaxAssignmentsPerTick = 1
	}
	s := &Scheduler{
		tasks:   make(map[string]*queue.Task),
		workers: make(map[string]*queue.Worker),
		queue:   queue.NewQueue(),
		opts:    opts,
		exec:    exec,
		store:   store,
		clock:   clock.Real{},
		logger:  log.Default(),
		metrics: &metrics.Default,
		newID:   uuid.NewString,
	}
	for _, o := range options {
		o(s)
	}
	s.bootedAt = s.clock.Now()
	return s
}

// Start launches the assignment and liveness timers.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Println("scheduler: already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stopTimers = cancel
	s.mu.Unlock()

	go s.loop(ctx, s.opts.AssignInterval, s.AssignTick)
	go s.loop(ctx, s.opts.LivenessInterval, s.LivenessTick)
	s.logger.Printf("scheduler: started (assign every %s, liveness every %s, heartbeat timeout %s)",
		s.opts.AssignInterval, s.opts.LivenessInterval, s.opts.HeartbeatTimeout)
}

// Stop halts the timers. In-flight executions are not cancelled; their
// outcomes are still recorded when they finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.stopTimers
	s.stopTimers = nil
	s.mu.Unlock()

	cancel()
	s.persist()
	s.logger.Println("scheduler: stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, tick func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// RegisterWorker adds a worker in ONLINE state. Registering a known id
// refreshes its name, capabilities and heartbeat but keeps its assignment
// and performance history.
func (s *Scheduler) RegisterWorker(id, name string, capabilities []string) error {
	if id == "" {
		return ErrInvalidWorker
	}
	now := s.clock.Now()
	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok {
		w = &queue.Worker{
			ID:           id,
			Status:       queue.WorkerOnline,
			Performance:  queue.Performance{SuccessRate: 100},
			RegisteredAt: now,
		}
		s.workers[id] = w
		s.workerOrder = append(s.workerOrder, id)
	}
	w.Name = name
	w.Capabilities = append([]string(nil), capabilities...)
	w.LastHeartbeat = now
	snap := w.Clone()
	s.mu.Unlock()

	if ok {
		s.logger.Printf("scheduler: worker re-registered: %s (%s)", id, name)
	} else {
		s.logger.Printf("scheduler: worker registered: %s (%s)", id, name)
	}
	s.notifyWorker(snap)
	s.persist()
	return nil
}

// RecordHeartbeat stamps the worker as seen now. Its status is re-derived at
// the next liveness tick.
func (s *Scheduler) RecordHeartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return ErrUnknownWorker
	}
	w.LastHeartbeat = s.clock.Now()
	return nil
}

// AddTask queues a PENDING task and returns its id. Assignment happens on a
// later tick.
func (s *Scheduler) AddTask(taskType string, payload json.RawMessage, priority int) (string, error) {
	if taskType == "" {
		return "", ErrInvalidTask
	}
	t := &queue.Task{
		ID:        s.newID(),
		Type:      taskType,
		Status:    queue.StatusPending,
		Priority:  priority,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: s.clock.Now(),
	}
	s.mu.Lock()
	if _, dup := s.tasks[t.ID]; dup {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler: duplicate task id %s", t.ID)
	}
	s.tasks[t.ID] = t
	s.queue.Push(t.ID, t.Priority)
	snap := t.Clone()
	s.mu.Unlock()

	s.logger.Printf("scheduler: task added: %s (%s, priority %d)", t.ID, t.Type, t.Priority)
	s.notifyTask(snap)
	s.persist()
	return t.ID, nil
}

func (s *Scheduler) GetTask(id string) (queue.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return queue.Task{}, false
	}
	return t.Clone(), true
}

func (s *Scheduler) GetWorker(id string) (queue.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return queue.Worker{}, false
	}
	return w.Clone(), true
}

// ListTasks returns tasks newest first, optionally filtered by status.
// limit <= 0 means no limit.
func (s *Scheduler) ListTasks(status queue.TaskStatus, limit int) []queue.Task {
	s.mu.Lock()
	out := make([]queue.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListWorkers returns workers in registration order.
func (s *Scheduler) ListWorkers() []queue.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.Worker, 0, len(s.workerOrder))
	for _, id := range s.workerOrder {
		out = append(out, s.workers[id].Clone())
	}
	return out
}

// QueuedIDs returns the pending queue in pop order.
func (s *Scheduler) QueuedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.IDs()
}

// PruneTasks deletes terminal tasks that completed more than olderThan ago
// and returns how many were removed.
func (s *Scheduler) PruneTasks(olderThan time.Duration) int {
	cutoff := s.clock.Now().Add(-olderThan)
	s.mu.Lock()
	n := 0
	for id, t := range s.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.logger.Printf("scheduler: pruned %d task(s) older than %s", n, olderThan)
		s.persist()
	}
	return n
}

func (s *Scheduler) notifyTask(t queue.Task) {
	if s.notifier != nil {
		s.notifier.TaskUpdated(t)
	}
}

func (s *Scheduler) notifyWorker(w queue.Worker) {
	if s.notifier != nil {
		s.notifier.WorkerUpdated(w)
	}
}
