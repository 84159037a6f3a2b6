package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshotter is durable storage for the full contents of a Store.
// Load returns values as json.RawMessage.
type Snapshotter interface {
	Save(ctx context.Context, entries []Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// SaveSnapshot writes every live entry to the attached snapshotter.
func (s *Store) SaveSnapshot(ctx context.Context) error {
	if s.snapshotter == nil {
		return nil
	}
	return s.ExportTo(ctx, s.snapshotter)
}

// LoadSnapshot replaces the in-memory contents with what the attached
// snapshotter holds. A missing snapshot leaves the store untouched.
func (s *Store) LoadSnapshot(ctx context.Context) error {
	if s.snapshotter == nil {
		return nil
	}
	return s.ImportFrom(ctx, s.snapshotter)
}

// ExportTo writes the store to an arbitrary snapshotter, e.g. to migrate
// between backends.
func (s *Store) ExportTo(ctx context.Context, sn Snapshotter) error {
	entries, err := s.encodedEntries()
	if err != nil {
		return err
	}
	if err := sn.Save(ctx, entries); err != nil {
		return fmt.Errorf("kv: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) ImportFrom(ctx context.Context, sn Snapshotter) error {
	entries, err := sn.Load(ctx)
	if err != nil {
		return fmt.Errorf("kv: load snapshot: %w", err)
	}
	if entries == nil {
		return nil
	}
	now := s.clock.Now()
	data := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Key == "" || e.expired(now) {
			continue
		}
		data[e.Key] = e
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	s.logger.Printf("kv: snapshot loaded: %d entries", len(data))
	return nil
}

// encodedEntries copies the live entries with values pre-encoded as JSON so
// backends never touch caller-owned values outside the lock.
func (s *Store) encodedEntries() ([]Entry, error) {
	s.mu.Lock()
	entries := s.liveEntriesLocked()
	s.mu.Unlock()

	for i, e := range entries {
		if raw, ok := e.Value.(json.RawMessage); ok {
			entries[i].Value = raw
			continue
		}
		b, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("kv: encode %q: %w", e.Key, err)
		}
		entries[i].Value = json.RawMessage(b)
	}
	return entries, nil
}

// StartSnapshots saves a snapshot every interval until ctx is done or the
// returned stop function is called. Failures are logged; the in-memory state
// stays authoritative.
func (s *Store) StartSnapshots(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx); err != nil {
					s.logger.Printf("kv: snapshot failed: %v", err)
				}
			}
		}
	}()
	return cancel
}
