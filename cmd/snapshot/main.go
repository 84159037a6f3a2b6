package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/persist"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

// snapshot checks that the configured backend is reachable and prints what
// it holds. With -export it copies the snapshot into a JSON file.
func main() {
	configPath := flag.String("config", util.Getenv("ORCH_CONFIG", ""), "path to a YAML config file (optional)")
	export := flag.String("export", "", "write the snapshot to this JSON file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sn, err := persist.Open(ctx, cfg.Snapshot)
	if err != nil {
		log.Fatalf("snapshot: backend %s init failed: %v", cfg.Snapshot.Backend, err)
	}
	if sn == nil {
		fmt.Println("snapshot: backend is none, nothing to inspect")
		return
	}
	if g, ok := sn.(*persist.GormSnapshotter); ok {
		defer g.Close()
		if err := g.Ping(ctx); err != nil {
			log.Fatalf("snapshot: database ping failed: %v", err)
		}
	}

	store := kv.New(kv.WithSnapshotter(sn))
	if err := store.LoadSnapshot(ctx); err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	fmt.Printf("snapshot: backend %s OK\n\n", cfg.Snapshot.Backend)

	entries := store.Entries()
	fmt.Printf("%-32s  %-8s  %-30s  %s\n", "KEY", "VERSION", "TIMESTAMP", "EXPIRES")
	for _, e := range entries {
		expires := "-"
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-32s  %8d  %-30s  %s\n", e.Key, e.Version, e.Timestamp.Format(time.RFC3339Nano), expires)
	}
	st := store.Stats()
	fmt.Printf("\n%d entries, %d bytes\n", st.TotalEntries, st.TotalSize)

	if *export != "" {
		if err := store.ExportTo(ctx, persist.NewFile(*export)); err != nil {
			log.Fatalf("snapshot: export: %v", err)
		}
		fmt.Println("snapshot: exported to", *export)
	}
}
