package queue

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "ONLINE"
	WorkerOffline WorkerStatus = "OFFLINE"
	WorkerBusy    WorkerStatus = "BUSY"
)

// Task is a unit of schedulable work. Payload is opaque to the scheduler.
// WorkerID is set iff Status is RUNNING, COMPLETED or FAILED.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      TaskStatus      `json:"status"`
	Priority    int             `json:"priority"`
	Payload     json.RawMessage `json:"data,omitempty"`
	Attempt     int             `json:"attempt"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	WorkerID    string          `json:"workerId,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type Performance struct {
	TasksCompleted       int     `json:"tasksCompleted"`
	AverageExecutionTime float64 `json:"averageExecutionTime"` // milliseconds
	SuccessRate          float64 `json:"successRate"`
}

// Worker is an executor tracked by liveness and assignment. CurrentTask is
// set iff Status is BUSY, except for a worker that went OFFLINE mid-task
// while stuck tasks are left in place.
type Worker struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	Capabilities  []string     `json:"capabilities"`
	CurrentTask   string       `json:"currentTask,omitempty"`
	Performance   Performance  `json:"performance"`
	RegisteredAt  time.Time    `json:"registeredAt"`
}

// Clone returns a deep copy safe to hand outside the scheduler lock.
func (t *Task) Clone() Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

func (w *Worker) Clone() Worker {
	c := *w
	c.Capabilities = append([]string(nil), w.Capabilities...)
	return c
}
