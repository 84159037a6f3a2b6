package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

func TestExecutorDispatchesByType(t *testing.T) {
	var seen string
	exec := &Executor{Registry: Registry{
		"DATA_SYNC": func(_ context.Context, payload []byte) error {
			seen = string(payload)
			return nil
		},
	}}
	err := exec.Execute(context.Background(), queue.Task{Type: "DATA_SYNC", Payload: json.RawMessage(`{"x":1}`)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if seen != `{"x":1}` {
		t.Fatalf("payload: got %s", seen)
	}

	if err := exec.Execute(context.Background(), queue.Task{Type: "UNKNOWN"}); err == nil {
		t.Fatalf("expected error for unknown type without fallback")
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	exec := &Executor{Registry: Registry{
		"BOOM": func(context.Context, []byte) error { panic("kaboom") },
	}}
	err := exec.Execute(context.Background(), queue.Task{Type: "BOOM"})
	if err == nil {
		t.Fatalf("expected panic to be reported as error")
	}
}

func TestTypedHandler(t *testing.T) {
	type report struct {
		UserID string `json:"userId"`
	}
	var got report
	h := Typed(func(_ context.Context, r report) error {
		got = r
		if r.UserID == "" {
			return errors.New("missing user")
		}
		return nil
	})
	if err := h(context.Background(), []byte(`{"userId":"u1"}`)); err != nil {
		t.Fatalf("typed: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("decoded: %+v", got)
	}
	if err := h(context.Background(), []byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSimulateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Simulate(time.Hour)(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if err := Simulate(time.Millisecond)(context.Background(), nil); err != nil {
		t.Fatalf("simulate: %v", err)
	}
}
