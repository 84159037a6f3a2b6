package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/metrics"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

// worker is an external agent: it registers with the orchestrator and keeps
// its heartbeat fresh. Execution itself happens on the orchestrator side.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		id   = flag.String("id", util.Getenv("WORKER_ID", ""), "worker id (random uuid if empty)")
		name = flag.String("name", util.Getenv("WORKER_NAME", ""), "display name")
		caps = flag.String("capabilities", util.Getenv("WORKER_CAPABILITIES", ""), "comma-separated task types (advisory)")
	)
	flag.Parse()

	heartbeatEvery := util.GetenvDuration("WORKER_HEARTBEAT_INTERVAL", 5*time.Second)
	baseURL := util.Getenv("ORCH_URL", "http://127.0.0.1:8888")

	workerID := *id
	if workerID == "" {
		workerID = uuid.NewString()
	}
	if *name == "" {
		host, _ := os.Hostname()
		*name = "worker@" + host
	}
	var capabilities []string
	for _, c := range strings.Split(*caps, ",") {
		if c = strings.TrimSpace(c); c != "" {
			capabilities = append(capabilities, c)
		}
	}

	c := client.New(baseURL)
	if _, err := c.RegisterWorker(ctx, workerID, *name, capabilities); err != nil {
		panic(fmt.Errorf("worker: register error: %w", err))
	}
	fmt.Println("worker: registered, id =", workerID, "heartbeat every", heartbeatEvery)

	stopStatus := metrics.Every(10*time.Second, func() {
		w, err := c.GetWorker(ctx, workerID)
		if err != nil {
			fmt.Println("worker: status error:", err)
			return
		}
		fmt.Printf("worker: status=%s task=%q completed=%d avg=%.0fms success=%.0f%%\n",
			w.Status, w.CurrentTask, w.Performance.TasksCompleted,
			w.Performance.AverageExecutionTime, w.Performance.SuccessRate)
	})
	defer stopStatus()

	runHeartbeat(ctx, c, workerID, *name, capabilities, heartbeatEvery)
	fmt.Println("worker: stopping")
}

// runHeartbeat beats until ctx is done. If the orchestrator forgot the worker
// (e.g. it restarted without a snapshot) the worker registers again.
func runHeartbeat(ctx context.Context, c *client.Client, id, name string, caps []string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.Heartbeat(ctx, id)
			if errors.Is(err, client.ErrNotFound) {
				if _, err := c.RegisterWorker(ctx, id, name, caps); err != nil {
					fmt.Println("worker: re-register error:", err)
				}
				continue
			}
			if err != nil {
				fmt.Println("worker: heartbeat error:", err)
			}
		}
	}
}
