package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/api"
	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
	"github.com/tushkiz/go-tiny-orchestrator/internal/orchestrator"
	"github.com/tushkiz/go-tiny-orchestrator/internal/persist"
	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
	"github.com/tushkiz/go-tiny-orchestrator/internal/worker"
)

func main() {
	configPath := flag.String("config", util.Getenv("ORCH_CONFIG", ""), "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sn, err := persist.Open(ctx, cfg.Snapshot)
	if err != nil {
		log.Fatalf("orchestrator: snapshot backend init failed: %v", err)
	}
	if c, ok := sn.(io.Closer); ok {
		defer c.Close()
	}
	storeOpts := []kv.Option{}
	if sn != nil {
		storeOpts = append(storeOpts, kv.WithSnapshotter(sn))
	}
	store := kv.New(storeOpts...)

	exec := worker.NewExecutor(worker.DefaultRegistry())
	orch := orchestrator.New(ctx, cfg, exec, store)
	orch.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewHandler(orch, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		fmt.Println("orchestrator: listening on", cfg.Listen, "snapshot backend", cfg.Snapshot.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("orchestrator: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("orchestrator: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("orchestrator: http shutdown: %v", err)
	}
}
