package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(util.Getenv("ORCH_URL", "http://127.0.0.1:8888"))
	every := util.GetenvDuration("MONITOR_REFRESH", time.Second)

	fmt.Println("monitor: starting (Ctrl-C to exit)")
	runTUI(ctx, c, every)
	fmt.Println("monitor: stopped")
}

// runTUI redraws the metrics screen on every tick. When stdout is not a
// terminal it prints one block per tick instead of clearing the screen.
func runTUI(ctx context.Context, c *client.Client, every time.Duration) {
	fd := int(os.Stdout.Fd())
	tty := term.IsTerminal(fd)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			width := 60
			if tty {
				if w, _, err := term.GetSize(fd); err == nil && w > 0 {
					width = w
				}
				fmt.Print("\033[2J\033[H")
			}
			rule := strings.Repeat("-", min(width, 80))

			fmt.Println("Tiny Orchestrator - Metrics")
			fmt.Println(time.Now().UTC().Format(time.RFC3339))
			m, err := c.Metrics(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(rule)
			fmt.Printf("Scheduler running  : %v (uptime %s)\n", m.Running, (time.Duration(m.Uptime) * time.Second).String())
			fmt.Printf("Queue length       : %d\n", m.QueueLength)
			fmt.Println()
			fmt.Printf("Tasks pending      : %d\n", m.Tasks.Pending)
			fmt.Printf("Tasks running      : %d\n", m.Tasks.Running)
			fmt.Printf("Tasks completed    : %d\n", m.Tasks.Completed)
			fmt.Printf("Tasks failed       : %d\n", m.Tasks.Failed)
			fmt.Println()
			fmt.Printf("Workers online     : %d\n", m.Workers.Online)
			fmt.Printf("Workers busy       : %d\n", m.Workers.Busy)
			fmt.Printf("Workers offline    : %d\n", m.Workers.Offline)
			fmt.Println()
			fmt.Printf("Dispatched         : %d\n", m.Dispatch.Assigned)
			fmt.Printf("Requeued*          : %d\n", m.Dispatch.Requeued)
			fmt.Printf("Offline transitions: %d\n", m.Dispatch.WentOffline)
			fmt.Println()
			fmt.Printf("Hub clients        : %d\n", m.Hub.TotalClients)
			fmt.Printf("Hub channels       : %d\n", m.Hub.TotalChannels)
			fmt.Println(rule)
			fmt.Println("* Requeued: tasks returned to the queue after their worker went offline")
			if tty {
				fmt.Println()
				fmt.Println("Press Ctrl-C to exit")
			}
		}
	}
}
