package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

func main() {
	ctx := context.Background()

	taskID := flag.String("task", "", "task id to show")
	workerID := flag.String("worker", "", "worker id to show")
	workers := flag.Bool("workers", false, "list all workers")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [ -task <task_id> | -worker <worker_id> | -workers ]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	actions := 0
	if *taskID != "" {
		actions++
	}
	if *workerID != "" {
		actions++
	}
	if *workers {
		actions++
	}
	if actions != 1 {
		fmt.Fprintln(os.Stderr, "error: exactly one of -task, -worker, -workers must be specified")
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(util.Getenv("ORCH_URL", "http://127.0.0.1:8888"))

	var (
		out any
		err error
	)
	switch {
	case *taskID != "":
		out, err = c.GetTask(ctx, *taskID)
	case *workerID != "":
		out, err = c.GetWorker(ctx, *workerID)
	case *workers:
		out, err = c.ListWorkers(ctx)
	}
	if errors.Is(err, client.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
