package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/clock"
	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/events"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/metrics"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
	"github.com/tushkiz/go-tiny-orchestrator/internal/scheduler"
)

// MetricsKey holds the latest published SystemMetrics in the store.
const MetricsKey = "orchestrator_metrics"

// Hub message types for state changes.
const (
	TypeTaskUpdate   = "task_update"
	TypeWorkerUpdate = "worker_update"
)

// SystemMetrics is the scheduler snapshot plus hub stats.
type SystemMetrics struct {
	scheduler.SystemMetrics
	Hub events.Stats `json:"hub"`
}

// Orchestrator wires the store, scheduler and hub into one service. Build
// one per process with New and tear it down with Stop.
type Orchestrator struct {
	cfg    config.Config
	store  *kv.Store
	sched  *scheduler.Scheduler
	hub    *events.Hub
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stops   []func()
}

type options struct {
	clock     clock.Clock
	logger    *log.Logger
	metrics   *metrics.Metrics
	newID     func() string
	onMessage func(clientID string, m events.Custom)
}

type Option func(*options)

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithIDGenerator overrides task ids.
func WithIDGenerator(fn func() string) Option { return func(o *options) { o.newID = fn } }

// WithMessageHandler receives hub messages the hub does not handle itself.
func WithMessageHandler(fn func(clientID string, m events.Custom)) Option {
	return func(o *options) { o.onMessage = fn }
}

// New builds the orchestrator and restores the store's last snapshot into
// the scheduler. Snapshot errors are logged; the orchestrator starts empty
// in that case. Start and Stop never reload, so state recorded after New
// survives a Stop/Start cycle.
func New(ctx context.Context, cfg config.Config, exec scheduler.Executor, store *kv.Store, opts ...Option) *Orchestrator {
	o := options{clock: clock.Real{}, logger: log.Default(), metrics: &metrics.Default}
	for _, fn := range opts {
		fn(&o)
	}
	orch := &Orchestrator{cfg: cfg, store: store, logger: o.logger}

	hubOpts := []events.Option{
		events.WithClock(o.clock),
		events.WithLogger(o.logger),
		events.OnConnect(orch.greet),
	}
	if o.onMessage != nil {
		hubOpts = append(hubOpts, events.OnMessage(o.onMessage))
	}
	orch.hub = events.NewHub(cfg.Hub, hubOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithClock(o.clock),
		scheduler.WithLogger(o.logger),
		scheduler.WithMetrics(o.metrics),
		scheduler.WithNotifier(orch),
	}
	if o.newID != nil {
		schedOpts = append(schedOpts, scheduler.WithIDGenerator(o.newID))
	}
	orch.sched = scheduler.New(exec, store, scheduler.OptionsFrom(cfg.Scheduler), schedOpts...)

	if err := store.LoadSnapshot(ctx); err != nil {
		orch.logger.Printf("orchestrator: %v", err)
	}
	if err := orch.sched.Restore(); err != nil {
		orch.logger.Printf("orchestrator: %v", err)
	}
	return orch
}

// Start launches the hub, the scheduler timers, periodic snapshots and
// metrics publishing.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()

	var stops []func()
	stops = append(stops, o.store.Subscribe(MetricsKey, func(_ string, v any) {
		if v != nil {
			o.hub.SendSystemMetrics(v)
		}
	}))
	o.hub.Start(ctx)
	o.sched.Start(ctx)
	if o.cfg.Snapshot.Interval > 0 {
		stops = append(stops, o.store.StartSnapshots(ctx, o.cfg.Snapshot.Interval))
	}
	if every := o.cfg.Scheduler.LivenessInterval; every > 0 {
		stops = append(stops, metrics.Every(every, o.PublishMetrics))
	}

	o.mu.Lock()
	o.stops = stops
	o.mu.Unlock()
	o.logger.Println("orchestrator: started")
}

// Stop halts every timer, disconnects hub clients and writes a final
// snapshot. In-flight executions are left to finish on their own.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	stops := o.stops
	o.stops = nil
	o.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	o.sched.Stop()
	o.hub.Stop()
	if err := o.store.SaveSnapshot(ctx); err != nil {
		o.logger.Printf("orchestrator: final snapshot: %v", err)
	}
	o.logger.Println("orchestrator: stopped")
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) RegisterWorker(id, name string, capabilities []string) error {
	return o.sched.RegisterWorker(id, name, capabilities)
}

func (o *Orchestrator) Heartbeat(workerID string) error {
	return o.sched.RecordHeartbeat(workerID)
}

// AddTask queues a task. payload is JSON-encoded unless it already is JSON.
func (o *Orchestrator) AddTask(taskType string, payload any, priority int) (string, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("orchestrator: encode payload: %w", err)
		}
		raw = b
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return "", fmt.Errorf("orchestrator: payload is not valid JSON")
	}
	return o.sched.AddTask(taskType, raw, priority)
}

func (o *Orchestrator) GetTaskStatus(id string) (queue.Task, bool) {
	return o.sched.GetTask(id)
}

func (o *Orchestrator) GetWorkerStatus(id string) (queue.Worker, bool) {
	return o.sched.GetWorker(id)
}

func (o *Orchestrator) ListTasks(status queue.TaskStatus, limit int) []queue.Task {
	return o.sched.ListTasks(status, limit)
}

func (o *Orchestrator) ListWorkers() []queue.Worker {
	return o.sched.ListWorkers()
}

func (o *Orchestrator) PruneTasks(olderThan time.Duration) int {
	return o.sched.PruneTasks(olderThan)
}

func (o *Orchestrator) GetSystemMetrics() SystemMetrics {
	return SystemMetrics{SystemMetrics: o.sched.SystemMetrics(), Hub: o.hub.Stats()}
}

// PublishMetrics writes the current metrics to MetricsKey. Subscribers of
// the hub's system_metrics channel receive them through the store.
func (o *Orchestrator) PublishMetrics() {
	o.store.Set(MetricsKey, o.GetSystemMetrics())
}

// Hub exposes the broadcast hub, e.g. to mount it as an http.Handler.
func (o *Orchestrator) Hub() *events.Hub { return o.hub }

func (o *Orchestrator) Store() *kv.Store { return o.store }

// TaskUpdated implements scheduler.Notifier.
func (o *Orchestrator) TaskUpdated(t queue.Task) {
	o.hub.BroadcastToAll(events.Message{Type: TypeTaskUpdate, Data: t})
	o.hub.SendTaskStatus(t.ID, t.Status)
}

// WorkerUpdated implements scheduler.Notifier.
func (o *Orchestrator) WorkerUpdated(w queue.Worker) {
	o.hub.BroadcastToAll(events.Message{Type: TypeWorkerUpdate, Data: w})
}

func (o *Orchestrator) greet(clientID string) {
	o.hub.SendToClient(clientID, events.Message{Type: events.TypeSystemMetrics, Data: o.GetSystemMetrics()})
}
