package scheduler

import (
	"context"

	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

type assignment struct {
	task   queue.Task
	worker queue.Worker
}

// AssignTick pairs free workers with the head of the queue, at most
// MaxAssignmentsPerTick times. It does nothing while stopped or when no
// worker is free; the queue is not drained in that case.
func (s *Scheduler) AssignTick() {
	s.mu.Lock()
	if !s.running || s.queue.Len() == 0 {
		s.mu.Unlock()
		return
	}
	var assigned []assignment
	for len(assigned) < s.opts.MaxAssignmentsPerTick {
		w := s.freeWorkerLocked()
		if w == nil {
			break
		}
		id, ok := s.queue.Pop()
		if !ok {
			break
		}
		t, ok := s.tasks[id]
		if !ok || t.Status != queue.StatusPending {
			s.logger.Printf("scheduler: dropping non-pending queue entry %s", id)
			continue
		}
		now := s.clock.Now()
		t.Status = queue.StatusRunning
		t.StartedAt = &now
		t.WorkerID = w.ID
		t.Attempt++
		w.CurrentTask = t.ID
		w.Status = queue.WorkerBusy
		assigned = append(assigned, assignment{task: t.Clone(), worker: w.Clone()})
	}
	s.mu.Unlock()

	for _, a := range assigned {
		s.metrics.IncAssigned()
		s.logger.Printf("scheduler: task %s assigned to worker %s", a.task.ID, a.worker.ID)
		s.notifyTask(a.task)
		s.notifyWorker(a.worker)
		s.launch(a.task)
	}
	if len(assigned) > 0 {
		s.persist()
	}
}

// freeWorkerLocked returns the first ONLINE worker without a task, in
// registration order.
func (s *Scheduler) freeWorkerLocked() *queue.Worker {
	for _, id := range s.workerOrder {
		w := s.workers[id]
		if w.Status == queue.WorkerOnline && w.CurrentTask == "" {
			return w
		}
	}
	return nil
}

func (s *Scheduler) launch(t queue.Task) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		// Executions outlive Stop, so they get their own context.
		err := s.exec.Execute(context.Background(), t)
		s.finish(t, err)
	}()
}

// finish records the outcome of one execution. Outcomes for an attempt that
// has since been requeued are discarded.
func (s *Scheduler) finish(run queue.Task, execErr error) {
	s.mu.Lock()
	t, ok := s.tasks[run.ID]
	if !ok || t.Status != queue.StatusRunning || t.WorkerID != run.WorkerID || t.Attempt != run.Attempt {
		s.mu.Unlock()
		s.logger.Printf("scheduler: discarding stale outcome for task %s (attempt %d)", run.ID, run.Attempt)
		return
	}
	now := s.clock.Now()
	t.CompletedAt = &now
	w := s.workers[run.WorkerID]
	if execErr == nil {
		t.Status = queue.StatusCompleted
		if w != nil {
			elapsed := float64(now.Sub(*t.StartedAt).Milliseconds())
			w.Performance.TasksCompleted++
			w.Performance.AverageExecutionTime = (w.Performance.AverageExecutionTime + elapsed) / 2
		}
	} else {
		t.Status = queue.StatusFailed
		t.Error = execErr.Error()
		if w != nil {
			w.Performance.SuccessRate -= s.opts.SuccessRatePenalty
			if w.Performance.SuccessRate < 0 {
				w.Performance.SuccessRate = 0
			}
		}
	}
	var wsnap *queue.Worker
	if w != nil && w.CurrentTask == t.ID {
		w.CurrentTask = ""
		// An OFFLINE worker stays OFFLINE until the liveness tick sees a
		// fresh heartbeat.
		if w.Status == queue.WorkerBusy {
			w.Status = queue.WorkerOnline
		}
		c := w.Clone()
		wsnap = &c
	}
	tsnap := t.Clone()
	s.mu.Unlock()

	if execErr == nil {
		s.metrics.IncCompleted()
		s.logger.Printf("scheduler: task %s completed by %s", tsnap.ID, tsnap.WorkerID)
	} else {
		s.metrics.IncFailed()
		s.logger.Printf("scheduler: task %s failed on %s: %v", tsnap.ID, tsnap.WorkerID, execErr)
	}
	s.notifyTask(tsnap)
	if wsnap != nil {
		s.notifyWorker(*wsnap)
	}
	s.persist()
}

// LivenessTick derives worker status from heartbeat age. A worker whose
// heartbeat is older than HeartbeatTimeout goes OFFLINE once per lapse; an
// OFFLINE worker with a fresh heartbeat comes back.
func (s *Scheduler) LivenessTick() {
	s.mu.Lock()
	now := s.clock.Now()
	var (
		changedWorkers []queue.Worker
		changedTasks   []queue.Task
		offline        int
		requeued       int
	)
	for _, id := range s.workerOrder {
		w := s.workers[id]
		stale := now.Sub(w.LastHeartbeat) > s.opts.HeartbeatTimeout
		switch {
		case stale && w.Status != queue.WorkerOffline:
			w.Status = queue.WorkerOffline
			offline++
			if w.CurrentTask != "" && s.opts.RequeueOnOffline {
				if t := s.requeueLocked(w); t != nil {
					changedTasks = append(changedTasks, t.Clone())
					requeued++
				}
			}
			changedWorkers = append(changedWorkers, w.Clone())
		case !stale && w.Status == queue.WorkerOffline:
			if w.CurrentTask != "" {
				w.Status = queue.WorkerBusy
			} else {
				w.Status = queue.WorkerOnline
			}
			changedWorkers = append(changedWorkers, w.Clone())
		}
	}
	s.mu.Unlock()

	for _, w := range changedWorkers {
		if w.Status == queue.WorkerOffline {
			s.metrics.IncWentOffline()
			s.logger.Printf("scheduler: worker %s marked offline", w.ID)
		} else {
			s.metrics.IncCameOnline()
			s.logger.Printf("scheduler: worker %s back online", w.ID)
		}
		s.notifyWorker(w)
	}
	for _, t := range changedTasks {
		s.metrics.IncRequeued()
		s.logger.Printf("scheduler: task %s requeued after its worker went offline", t.ID)
		s.notifyTask(t)
	}
	if offline > 0 {
		s.logger.Printf("scheduler: %d worker(s) marked offline, %d task(s) requeued", offline, requeued)
	}
	s.persist()
}

// requeueLocked moves the worker's current task back to PENDING.
func (s *Scheduler) requeueLocked(w *queue.Worker) *queue.Task {
	t, ok := s.tasks[w.CurrentTask]
	w.CurrentTask = ""
	if !ok || t.Status != queue.StatusRunning || t.WorkerID != w.ID {
		return nil
	}
	t.Status = queue.StatusPending
	t.WorkerID = ""
	t.StartedAt = nil
	s.queue.Push(t.ID, t.Priority)
	return t
}
