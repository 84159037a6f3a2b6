package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

func main() {
	ctx := context.Background()

	var (
		status = flag.String("status", "all", "Task status to filter: pending | running | completed | failed | all")
		limit  = flag.Int("limit", 50, "Maximum number of tasks to list (max 500)")
		asJSON = flag.Bool("json", false, "Output as JSON")
	)
	flag.Parse()

	c := client.New(util.Getenv("ORCH_URL", "http://127.0.0.1:8888"))
	tasks, err := c.ListTasks(ctx, *status, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: ", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		_ = enc.Encode(tasks)
		return
	}

	fmt.Printf("Listing %d task(s) (status=%s)\n\n", len(tasks), *status)
	fmt.Printf("%-36s  %-20s  %-8s  %-9s  %-36s  %-26s\n", "ID", "TYPE", "PRIORITY", "STATUS", "WORKER", "CREATED_AT")
	fmt.Println("--------------------------------------------------------------------------------------------------------------------------------------")
	for _, t := range tasks {
		fmt.Printf(
			"%-36s  %-20s  %8d  %-9s  %-36s  %-26s\n",
			t.ID,
			t.Type,
			t.Priority,
			t.Status,
			t.WorkerID,
			t.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if t.Error != "" {
			fmt.Printf("    error: %s\n", t.Error)
		}
	}
}
