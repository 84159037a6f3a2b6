package queue

import "sort"

type item struct {
	id       string
	priority int
}

// Queue orders pending task ids by descending priority, FIFO within equal
// priority. It is not safe for concurrent use; the scheduler owns it.
type Queue struct {
	items []item
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts id after every queued item of greater or equal priority,
// which is the position a stable sort of the appended slice would give it.
func (q *Queue) Push(id string, priority int) {
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].priority < priority })
	q.items = append(q.items, item{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item{id: id, priority: priority}
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	return head.id, true
}

func (q *Queue) Peek() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	return q.items[0].id, true
}

// Remove drops id from the queue, reporting whether it was present.
func (q *Queue) Remove(id string) bool {
	for i, it := range q.items {
		if it.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.items) }

// IDs returns the queued ids in pop order.
func (q *Queue) IDs() []string {
	out := make([]string, len(q.items))
	for i, it := range q.items {
		out[i] = it.id
	}
	return out
}

// Restore rebuilds the queue from ids in their persisted order. priorityOf
// reports each id's priority and whether it should be kept; the result is
// re-sorted stably so a hand-edited snapshot still pops correctly.
func (q *Queue) Restore(ids []string, priorityOf func(id string) (int, bool)) {
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		p, ok := priorityOf(id)
		if !ok {
			continue
		}
		items = append(items, item{id: id, priority: p})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].priority > items[j].priority })
	q.items = items
}
