package metrics

import (
	"sync/atomic"
	"time"
)

// Counter is a point-in-time copy of the dispatch counters.
type Counter struct {
	Assigned    uint64 `json:"assigned"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
	Requeued    uint64 `json:"requeued"`
	WentOffline uint64 `json:"wentOffline"`
	CameOnline  uint64 `json:"cameOnline"`
}

type Metrics struct {
	assigned    atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	requeued    atomic.Uint64
	wentOffline atomic.Uint64
	cameOnline  atomic.Uint64
}

func (m *Metrics) IncAssigned()    { m.assigned.Add(1) }
func (m *Metrics) IncCompleted()   { m.completed.Add(1) }
func (m *Metrics) IncFailed()      { m.failed.Add(1) }
func (m *Metrics) IncRequeued()    { m.requeued.Add(1) }
func (m *Metrics) IncWentOffline() { m.wentOffline.Add(1) }
func (m *Metrics) IncCameOnline()  { m.cameOnline.Add(1) }

func (m *Metrics) Snapshot() Counter {
	return Counter{
		Assigned:    m.assigned.Load(),
		Completed:   m.completed.Load(),
		Failed:      m.failed.Load(),
		Requeued:    m.requeued.Load(),
		WentOffline: m.wentOffline.Load(),
		CameOnline:  m.cameOnline.Load(),
	}
}

var Default Metrics

// Every runs f on a ticker until the returned stop function is called.
func Every(d time.Duration, f func()) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				f()
			}
		}
	}()
	return func() { close(stop) }
}
