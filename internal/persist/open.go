package persist

import (
	"context"
	"fmt"

	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
)

// Open builds the snapshotter selected by cfg.Backend. It returns nil for
// backend "none".
func Open(ctx context.Context, cfg config.SnapshotConfig) (kv.Snapshotter, error) {
	switch cfg.Backend {
	case "file":
		return NewFile(cfg.Path), nil
	case "mysql", "sqlite":
		dsn := cfg.DSN
		if cfg.Backend == "sqlite" {
			dsn = cfg.Path
		}
		g, err := OpenGorm(cfg.Backend, dsn)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "minio":
		m, err := NewMinio(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", cfg.Backend)
	}
}
