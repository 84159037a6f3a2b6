package queue

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestQueuePopsByPriorityThenFIFO(t *testing.T) {
	q := NewQueue()
	q.Push("task-1", 1)
	q.Push("task-2", 5)
	q.Push("task-3", 5)

	want := []string{"task-2", "task-3", "task-1"}
	for i, w := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if got != w {
			t.Fatalf("pop %d: got %s want %s", i, got, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueOrderingProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		q := NewQueue()
		prio := map[string]int{}
		order := map[string]int{}
		n := 1 + r.Intn(40)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			p := r.Intn(5) - 2
			prio[id] = p
			order[id] = i
			q.Push(id, p)
		}
		prev := ""
		for q.Len() > 0 {
			id, _ := q.Pop()
			if prev != "" {
				if prio[id] > prio[prev] {
					t.Fatalf("round %d: %s (p=%d) popped after %s (p=%d)", round, id, prio[id], prev, prio[prev])
				}
				if prio[id] == prio[prev] && order[id] < order[prev] {
					t.Fatalf("round %d: FIFO broken within priority %d: %s before %s", round, prio[id], prev, id)
				}
			}
			prev = id
		}
	}
}

func TestQueueRemoveAndRestore(t *testing.T) {
	q := NewQueue()
	q.Push("a", 1)
	q.Push("b", 3)
	q.Push("c", 1)
	if !q.Remove("b") {
		t.Fatalf("remove b reported false")
	}
	if q.Remove("b") {
		t.Fatalf("second remove of b reported true")
	}
	if got := q.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("ids after remove: %v", got)
	}

	prio := map[string]int{"x": 1, "y": 9, "z": 1}
	r := NewQueue()
	r.Restore([]string{"x", "gone", "y", "z"}, func(id string) (int, bool) {
		p, ok := prio[id]
		return p, ok
	})
	if got := r.IDs(); len(got) != 3 || got[0] != "y" || got[1] != "x" || got[2] != "z" {
		t.Fatalf("restored ids: %v", got)
	}
	if head, _ := r.Peek(); head != "y" {
		t.Fatalf("peek: got %s", head)
	}
}
