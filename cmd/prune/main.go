package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

func main() {
	ctx := context.Background()

	olderThanStr := flag.String("older-than", "168h", "Delete completed or failed tasks that finished longer ago than this (e.g., 24h, 168h)")
	flag.Parse()

	olderThan, err := time.ParseDuration(*olderThanStr)
	if err != nil || olderThan < 0 {
		fmt.Fprintf(os.Stderr, "invalid -older-than: %q\n", *olderThanStr)
		os.Exit(2)
	}

	c := client.New(util.Getenv("ORCH_URL", "http://127.0.0.1:8888"))
	n, err := c.PruneTasks(ctx, olderThan)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("prune: deleted %d finished task(s) older than %s\n", n, olderThan)
}
