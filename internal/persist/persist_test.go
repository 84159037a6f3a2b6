package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
)

func sampleEntries() []kv.Entry {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := ts.Add(time.Hour)
	return []kv.Entry{
		{Key: "orchestrator_queue", Value: json.RawMessage(`["t1","t2"]`), Version: 3, Timestamp: ts},
		{Key: "session", Value: json.RawMessage(`{"user":"u1"}`), Version: 1, Timestamp: ts, ExpiresAt: &exp},
	}
}

func checkEntries(t *testing.T, got []kv.Entry) {
	t.Helper()
	if len(got) != 2 {
		t.Fatalf("entries: got %d want 2", len(got))
	}
	byKey := map[string]kv.Entry{}
	for _, e := range got {
		byKey[e.Key] = e
	}
	q := byKey["orchestrator_queue"]
	if q.Version != 3 {
		t.Fatalf("version: got %d want 3", q.Version)
	}
	var ids []string
	if err := kv.Decode(q.Value, &ids); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("queue value: got %v", ids)
	}
	s := byKey["session"]
	if s.ExpiresAt == nil || !s.ExpiresAt.Equal(time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("ttl not preserved: %v", s.ExpiresAt)
	}
}

func TestFileSnapshotterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snap.json")
	f := NewFile(path)
	ctx := context.Background()

	got, err := f.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("load before save: got %v, %v; want nil, nil", got, err)
	}
	if err := f.Save(ctx, sampleEntries()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = f.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	checkEntries(t, got)
}

func TestFileSnapshotterCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error for corrupt snapshot")
	}
}

func TestGormSnapshotterSQLite(t *testing.T) {
	g, err := OpenGorm("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Skipf("skipping: sqlite unavailable: %v", err)
	}
	defer g.Close()
	ctx := context.Background()

	if err := g.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	got, err := g.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty load: got %v, %v", got, err)
	}

	if err := g.Save(ctx, sampleEntries()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = g.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	checkEntries(t, got)

	// A second snapshot without "session" must drop its row.
	if err := g.Save(ctx, sampleEntries()[:1]); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = g.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(got) != 1 || got[0].Key != "orchestrator_queue" {
		t.Fatalf("after shrink: got %+v", got)
	}
}

func TestStoreThroughFileBackend(t *testing.T) {
	ctx := context.Background()
	sn, err := Open(ctx, config.SnapshotConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "db.json")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	src := kv.New(kv.WithSnapshotter(sn))
	src.Set("k", map[string]int{"a": 2})
	if err := src.SaveSnapshot(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := kv.New(kv.WithSnapshotter(sn))
	if err := dst.LoadSnapshot(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	var got map[string]int
	if err := dst.GetInto("k", &got); err != nil || got["a"] != 2 {
		t.Fatalf("reloaded: %v %v", got, err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.SnapshotConfig{Backend: "tape"}); err == nil {
		t.Fatalf("expected error")
	}
	sn, err := Open(context.Background(), config.SnapshotConfig{Backend: "none"})
	if err != nil || sn != nil {
		t.Fatalf("none backend: got %v, %v", sn, err)
	}
}
