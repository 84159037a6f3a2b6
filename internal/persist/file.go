package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
)

// FileSnapshotter writes the snapshot as an indented JSON array of entries.
// Writes go to a temp file that is renamed over the target.
type FileSnapshotter struct {
	Path string
}

func NewFile(path string) *FileSnapshotter {
	return &FileSnapshotter{Path: path}
}

func (f *FileSnapshotter) Save(_ context.Context, entries []kv.Entry) error {
	if entries == nil {
		entries = []kv.Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("persist: create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Load returns nil entries when no snapshot file exists yet.
func (f *FileSnapshotter) Load(_ context.Context) ([]kv.Entry, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}
	return decodeEntries(data)
}

// decodeEntries parses a JSON snapshot keeping values raw.
func decodeEntries(data []byte) ([]kv.Entry, error) {
	var raw []struct {
		kv.Entry
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	out := make([]kv.Entry, 0, len(raw))
	for _, r := range raw {
		e := r.Entry
		e.Value = r.Value
		out = append(out, e)
	}
	return out, nil
}
