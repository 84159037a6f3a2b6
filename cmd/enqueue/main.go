package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/tushkiz/go-tiny-orchestrator/internal/client"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

func main() {
	ctx := context.Background()

	// Flags: -type <string> -payload '<json>' -priority <n>
	var (
		taskType   = flag.String("type", "", "task type (required)")
		payloadStr = flag.String("payload", "", "payload as JSON string")
		priority   = flag.Int("priority", 0, "priority, higher runs first")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -type <type> [-payload '<json>'] [-priority <n>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *taskType == "" {
		flag.Usage()
		os.Exit(2)
	}

	var payload json.RawMessage
	if *payloadStr != "" {
		if !json.Valid([]byte(*payloadStr)) {
			fmt.Fprintln(os.Stderr, "invalid payload JSON")
			os.Exit(2)
		}
		payload = json.RawMessage(*payloadStr)
	}

	c := client.New(util.Getenv("ORCH_URL", "http://127.0.0.1:8888"))
	id, err := c.AddTask(ctx, *taskType, payload, *priority)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	t, err := c.GetTask(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Printf(
		"enqueued task:\n"+
			"  id         = %s\n"+
			"  type       = %s\n"+
			"  status     = %s\n"+
			"  priority   = %d\n"+
			"  created_at = %s\n",
		t.ID,
		t.Type,
		t.Status,
		t.Priority,
		t.CreatedAt,
	)
}
