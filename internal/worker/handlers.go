package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

// Handler implements the work for a given task type
type Handler func(ctx context.Context, payload []byte) error

// Registry maps task types to handlers
type Registry map[string]Handler

// Typed adapts a handler that wants a decoded payload. A payload that does
// not decode into T fails the task.
func Typed[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, raw []byte) error {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
		}
		return fn(ctx, v)
	}
}

// Simulate waits d and succeeds. It stands in for a remote call.
func Simulate(d time.Duration) Handler {
	return func(ctx context.Context, _ []byte) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

const DefaultSimulatedDuration = 2 * time.Second

// SimulatedDurations is the per-type execution time used by DefaultRegistry.
var SimulatedDurations = map[string]time.Duration{
	"CLEANUP":              2 * time.Second,
	"USER_ANALYSIS":        5 * time.Second,
	"DATA_SYNC":            3 * time.Second,
	"REPORT_GENERATION":    4 * time.Second,
	"CHATBOT_OPTIMIZATION": 1 * time.Second,
}

func DefaultRegistry() Registry {
	reg := Registry{}
	for typ, d := range SimulatedDurations {
		reg[typ] = Simulate(d)
	}
	return reg
}

// Executor dispatches a task to the handler for its type, falling back to
// Fallback for unknown types.
type Executor struct {
	Registry Registry
	Fallback Handler
}

func NewExecutor(reg Registry) *Executor {
	return &Executor{Registry: reg, Fallback: Simulate(DefaultSimulatedDuration)}
}

func (e *Executor) Execute(ctx context.Context, t queue.Task) (err error) {
	h, ok := e.Registry[t.Type]
	if !ok {
		h = e.Fallback
	}
	if h == nil {
		return fmt.Errorf("no handler registered for type %s", t.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t.Payload)
}
