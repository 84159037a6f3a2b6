package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/metrics"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

type TaskCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type WorkerCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// SystemMetrics is a read-only snapshot of scheduler state.
type SystemMetrics struct {
	Tasks       TaskCounts      `json:"tasks"`
	Workers     WorkerCounts    `json:"workers"`
	QueueLength int             `json:"queueLength"`
	Uptime      float64         `json:"uptime"` // seconds
	Dispatch    metrics.Counter `json:"dispatch"`
	Running     bool            `json:"running"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SystemMetrics aggregates counts without mutating anything.
func (s *Scheduler) SystemMetrics() SystemMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	m := SystemMetrics{
		QueueLength: s.queue.Len(),
		Uptime:      now.Sub(s.bootedAt).Seconds(),
		Dispatch:    s.metrics.Snapshot(),
		Running:     s.running,
		Timestamp:   now,
	}
	m.Tasks.Total = len(s.tasks)
	for _, t := range s.tasks {
		switch t.Status {
		case queue.StatusPending:
			m.Tasks.Pending++
		case queue.StatusRunning:
			m.Tasks.Running++
		case queue.StatusCompleted:
			m.Tasks.Completed++
		case queue.StatusFailed:
			m.Tasks.Failed++
		}
	}
	m.Workers.Total = len(s.workers)
	for _, w := range s.workers {
		switch w.Status {
		case queue.WorkerOnline:
			m.Workers.Online++
		case queue.WorkerBusy:
			m.Workers.Busy++
		case queue.WorkerOffline:
			m.Workers.Offline++
		}
	}
	return m
}

// persist copies the tables into the store under the three snapshot keys.
func (s *Scheduler) persist() {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	tasks := make(map[string]queue.Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t.Clone()
	}
	workers := make(map[string]queue.Worker, len(s.workers))
	for id, w := range s.workers {
		workers[id] = w.Clone()
	}
	ids := s.queue.IDs()
	s.mu.Unlock()

	s.store.Set(TasksKey, tasks)
	s.store.Set(WorkersKey, workers)
	s.store.Set(QueueKey, ids)
}

// Restore loads the task table, worker table and queue from the store.
// Queue entries that are no longer PENDING are dropped, and PENDING tasks
// missing from the queue are appended in creation order.
func (s *Scheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	var (
		tasks   map[string]queue.Task
		workers map[string]queue.Worker
		ids     []string
	)
	if err := s.store.GetInto(TasksKey, &tasks); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("scheduler: restore tasks: %w", err)
	}
	if err := s.store.GetInto(WorkersKey, &workers); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("scheduler: restore workers: %w", err)
	}
	if err := s.store.GetInto(QueueKey, &ids); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("scheduler: restore queue: %w", err)
	}

	s.mu.Lock()
	s.tasks = make(map[string]*queue.Task, len(tasks))
	for id, t := range tasks {
		t := t
		t.ID = id
		s.tasks[id] = &t
	}
	s.workers = make(map[string]*queue.Worker, len(workers))
	s.workerOrder = s.workerOrder[:0]
	for id, w := range workers {
		w := w
		w.ID = id
		s.workers[id] = &w
		s.workerOrder = append(s.workerOrder, id)
	}
	sort.Slice(s.workerOrder, func(i, j int) bool {
		a, b := s.workers[s.workerOrder[i]], s.workers[s.workerOrder[j]]
		if a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.ID < b.ID
		}
		return a.RegisteredAt.Before(b.RegisteredAt)
	})

	s.queue = queue.NewQueue()
	s.queue.Restore(ids, func(id string) (int, bool) {
		t, ok := s.tasks[id]
		if !ok || t.Status != queue.StatusPending {
			return 0, false
		}
		return t.Priority, true
	})
	queued := make(map[string]bool, s.queue.Len())
	for _, id := range s.queue.IDs() {
		queued[id] = true
	}
	var orphans []*queue.Task
	for id, t := range s.tasks {
		if t.Status == queue.StatusPending && !queued[id] {
			orphans = append(orphans, t)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].CreatedAt.Before(orphans[j].CreatedAt) })
	for _, t := range orphans {
		s.queue.Push(t.ID, t.Priority)
	}
	nt, nw, nq := len(s.tasks), len(s.workers), s.queue.Len()
	s.mu.Unlock()

	s.logger.Printf("scheduler: restored %d task(s), %d worker(s), %d queued", nt, nw, nq)
	return nil
}
