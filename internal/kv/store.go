package kv

import (
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/clock"
)

var ErrNotFound = errors.New("kv: key not found")

// Entry is one versioned value. ExpiresAt is an absolute instant; nil means
// the entry never expires.
type Entry struct {
	Key       string     `json:"key"`
	Value     any        `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
	Version   int        `json:"version"`
	ExpiresAt *time.Time `json:"ttl,omitempty"`
}

func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Pair is a key/value result of a scan.
type Pair struct {
	Key   string
	Value any
}

type VersionInfo struct {
	Version   int
	Timestamp time.Time
}

// Callback receives the new value on set, or nil on delete.
type Callback func(key string, value any)

type subscriber struct {
	id int
	fn Callback
}

type notification struct {
	value any
	subs  []Callback
}

// Store is the process-wide versioned key/value map. It is safe for
// concurrent use. Subscribers run after the store lock has been released,
// on the goroutine that is draining the key's notifications. Notifications
// for one key are delivered in write order.
type Store struct {
	mu       sync.Mutex
	data     map[string]Entry
	subs     map[string][]subscriber
	nextID   int
	pending  map[string][]notification
	draining map[string]bool

	clock  clock.Clock
	logger *log.Logger

	snapshotter Snapshotter
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSnapshotter attaches durable storage used by SaveSnapshot,
// LoadSnapshot and the periodic snapshot loop.
func WithSnapshotter(sn Snapshotter) Option {
	return func(s *Store) { s.snapshotter = sn }
}

func New(opts ...Option) *Store {
	s := &Store{
		data:   make(map[string]Entry),
		subs:     make(map[string][]subscriber),
		pending:  make(map[string][]notification),
		draining: make(map[string]bool),
		clock:    clock.Real{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set overwrites key, bumps its version and notifies subscribers.
func (s *Store) Set(key string, value any) {
	s.set(key, value, nil)
}

// SetWithTTL is Set with an expiry ttl from now. A non-positive ttl stores
// the value without expiry.
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		s.set(key, value, nil)
		return
	}
	exp := s.clock.Now().Add(ttl)
	s.set(key, value, &exp)
}

func (s *Store) set(key string, value any, expiresAt *time.Time) {
	s.mu.Lock()
	now := s.clock.Now()
	version := 1
	if prev, ok := s.liveLocked(key, now); ok {
		version = prev.Version + 1
	}
	s.data[key] = Entry{
		Key:       key,
		Value:     value,
		Timestamp: now,
		Version:   version,
		ExpiresAt: expiresAt,
	}
	drain := s.enqueueLocked(key, value)
	s.mu.Unlock()

	if drain {
		s.drain(key)
	}
}

// Get returns the value for key. An expired entry is deleted and reported
// absent.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key, s.clock.Now())
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetInto decodes the value stored at key into out. Values loaded from a
// snapshot come back as raw JSON, so callers that need a concrete type use
// this instead of a type assertion.
func (s *Store) GetInto(key string, out any) error {
	v, ok := s.Get(key)
	if !ok {
		return ErrNotFound
	}
	return Decode(v, out)
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key and notifies subscribers with nil. It reports whether
// a live entry was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.liveLocked(key, s.clock.Now())
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.data, key)
	drain := s.enqueueLocked(key, nil)
	s.mu.Unlock()

	if drain {
		s.drain(key)
	}
	return true
}

// Clear drops every entry without notifying subscribers.
func (s *Store) Clear() {
	s.mu.Lock()
	s.data = make(map[string]Entry)
	s.mu.Unlock()
	s.logger.Println("kv: store cleared")
}

func (s *Store) GetVersionInfo(key string) (VersionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key, s.clock.Now())
	if !ok {
		return VersionInfo{}, false
	}
	return VersionInfo{Version: e.Version, Timestamp: e.Timestamp}, true
}

// Subscribe registers fn for key and returns a function that removes it.
// Callbacks fire in registration order. When writers race on the same key,
// Set may return before its callbacks ran; they still run, in write order,
// on the goroutine already delivering for that key.
func (s *Store) Subscribe(key string, fn Callback) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[key] = append(s.subs[key], subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(key, id) })
	}
}

func (s *Store) unsubscribe(key string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[key]
	for i, sub := range list {
		if sub.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, key)
		return
	}
	s.subs[key] = list
}

func (s *Store) subscribersLocked(key string) []Callback {
	list := s.subs[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]Callback, len(list))
	for i, sub := range list {
		out[i] = sub.fn
	}
	return out
}

// enqueueLocked queues a notification for key and reports whether the
// caller must drain the queue.
func (s *Store) enqueueLocked(key string, value any) bool {
	subs := s.subscribersLocked(key)
	if len(subs) == 0 {
		return false
	}
	s.pending[key] = append(s.pending[key], notification{value: value, subs: subs})
	if s.draining[key] {
		return false
	}
	s.draining[key] = true
	return true
}

// drain delivers queued notifications for key until none are left. A
// callback that writes key again only queues; this loop delivers it next.
func (s *Store) drain(key string) {
	for {
		s.mu.Lock()
		q := s.pending[key]
		if len(q) == 0 {
			delete(s.pending, key)
			delete(s.draining, key)
			s.mu.Unlock()
			return
		}
		n := q[0]
		q[0] = notification{}
		s.pending[key] = q[1:]
		s.mu.Unlock()

		for _, fn := range n.subs {
			s.invoke(key, n.value, fn)
		}
	}
}

func (s *Store) invoke(key string, value any, fn Callback) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("kv: subscriber for %q panicked: %v", key, r)
		}
	}()
	fn(key, value)
}

// liveLocked returns the entry for key, deleting it first if it has expired.
func (s *Store) liveLocked(key string, now time.Time) (Entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return Entry{}, false
	}
	if e.expired(now) {
		delete(s.data, key)
		return Entry{}, false
	}
	return e, true
}

// liveEntriesLocked returns every unexpired entry sorted by key, evicting
// expired ones along the way.
func (s *Store) liveEntriesLocked() []Entry {
	now := s.clock.Now()
	out := make([]Entry, 0, len(s.data))
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.liveEntriesLocked())
}

func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.liveEntriesLocked()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of every live entry, sorted by key.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveEntriesLocked()
}

func (s *Store) filter(keep func(Entry) bool) []Pair {
	s.mu.Lock()
	entries := s.liveEntriesLocked()
	s.mu.Unlock()

	out := make([]Pair, 0)
	for _, e := range entries {
		if keep(e) {
			out = append(out, Pair{Key: e.Key, Value: e.Value})
		}
	}
	return out
}

// Find returns entries whose key matches pattern.
func (s *Store) Find(pattern *regexp.Regexp) []Pair {
	return s.filter(func(e Entry) bool { return pattern.MatchString(e.Key) })
}

func (s *Store) FindByValue(pred func(any) bool) []Pair {
	return s.filter(func(e Entry) bool { return pred(e.Value) })
}

func (s *Store) FilterByPrefix(prefix string) []Pair {
	return s.filter(func(e Entry) bool { return strings.HasPrefix(e.Key, prefix) })
}

func (s *Store) FilterBySuffix(suffix string) []Pair {
	return s.filter(func(e Entry) bool { return strings.HasSuffix(e.Key, suffix) })
}

// FilterByAge returns entries written within maxAge of now.
func (s *Store) FilterByAge(maxAge time.Duration) []Pair {
	cutoff := s.clock.Now().Add(-maxAge)
	return s.filter(func(e Entry) bool { return e.Timestamp.After(cutoff) })
}

func (s *Store) SetMultiple(values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Set(k, values[k])
	}
}

// GetMultiple returns the live subset of keys.
func (s *Store) GetMultiple(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func (s *Store) DeleteMultiple(keys []string) int {
	n := 0
	for _, k := range keys {
		if s.Delete(k) {
			n++
		}
	}
	return n
}

// Cleanup deletes every entry last written before now-maxAge and returns
// how many were removed.
func (s *Store) Cleanup(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)
	s.mu.Lock()
	entries := s.liveEntriesLocked()
	s.mu.Unlock()

	stale := make([]string, 0)
	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			stale = append(stale, e.Key)
		}
	}
	return s.DeleteMultiple(stale)
}

type Stats struct {
	TotalEntries     int        `json:"totalEntries"`
	TotalSize        int        `json:"totalSize"`
	OldestEntry      *time.Time `json:"oldestEntry"`
	NewestEntry      *time.Time `json:"newestEntry"`
	AverageValueSize float64    `json:"averageValueSize"`
}

// Stats sizes values by their JSON encoding.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := s.liveEntriesLocked()
	s.mu.Unlock()

	var st Stats
	if len(entries) == 0 {
		return st
	}
	st.TotalEntries = len(entries)
	oldest, newest := entries[0].Timestamp, entries[0].Timestamp
	for _, e := range entries {
		if b, err := json.Marshal(e.Value); err == nil {
			st.TotalSize += len(b)
		}
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	st.OldestEntry = &oldest
	st.NewestEntry = &newest
	st.AverageValueSize = float64(st.TotalSize) / float64(len(entries))
	return st
}

// Decode converts a stored value into out. json.RawMessage and []byte are
// decoded directly; anything else round-trips through JSON.
func Decode(v any, out any) error {
	switch raw := v.(type) {
	case json.RawMessage:
		return json.Unmarshal(raw, out)
	case []byte:
		return json.Unmarshal(raw, out)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}
}
