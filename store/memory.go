package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultSweepInterval is how often a Memory store evicts expired records.
const DefaultSweepInterval = 5 * time.Minute

// record is the per-key state of a fixed window. count is at least 1 while the
// record exists.
type record struct {
	count   int64
	resetAt time.Time
}

// Memory is an in-memory implementation of Store using a map with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each process keeps its own counters, so with N instances behind a load balancer
// a client can make up to N times the configured limit. A restart also resets
// every counter. Use the Redis store when limits must be shared.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time

	sweepEvery time.Duration
	stopCh     chan struct{}
	closeOnce  sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces time.Now as the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithSweepInterval sets how often expired records are evicted.
// A non-positive interval disables the background sweeper; Sweep can still be
// called directly.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.sweepEvery = d
	}
}

// NewMemory creates a new in-memory store and starts its background sweeper,
// which runs every DefaultSweepInterval unless configured otherwise.
//
// Important: You must call Close() when done to stop the sweeper goroutine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records:    make(map[string]*record),
		now:        time.Now,
		sweepEvery: DefaultSweepInterval,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sweepEvery > 0 {
		go m.sweepLoop()
	}
	return m
}

// Allow is the fixed-window admission primitive. The first request for a key, or
// the first after its window has ended, opens a new window with a count of 1.
// Inside an open window the request is admitted while the count is below
// maxRequests; otherwise it is rejected and the record is left untouched.
//
// Windows are fixed, not sliding: maxRequests at the end of one window followed by
// maxRequests at the start of the next are all admitted.
func (m *Memory) Allow(key string, maxRequests int64, window time.Duration) bool {
	return m.check(key, maxRequests, window).Allowed
}

// Check implements Store. It never returns an error.
func (m *Memory) Check(_ context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	return m.check(key, limit, window), nil
}

func (m *Memory) check(key string, limit int64, window time.Duration) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, exists := m.records[key]

	if !exists || now.After(rec.resetAt) {
		rec = &record{count: 1, resetAt: now.Add(window)}
		m.records[key] = rec
		return decide(rec.count, limit, true, rec.resetAt)
	}

	if rec.count >= limit {
		return decide(rec.count, limit, false, rec.resetAt)
	}

	rec.count++
	return decide(rec.count, limit, true, rec.resetAt)
}

// Get retrieves the current count for the given key without incrementing.
// Returns 0 if the key doesn't exist or has expired.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[key]
	if !exists || m.now().After(rec.resetAt) {
		return 0, nil
	}
	return rec.count, nil
}

// Reset removes the counter for the given key.
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

// Stats reports every record currently held, including expired records the
// sweeper has not reached yet. Keys are sorted.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	slices.Sort(keys)
	return Stats{TotalEntries: len(keys), Keys: keys}, nil
}

// Close stops the sweeper and drops all records. Safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		clear(m.records)
		m.mu.Unlock()
	})
	return nil
}

// Sweep removes every record whose window ended before now and returns how many
// were removed. Candidates are collected under the read lock and re-checked under
// the write lock, so a record that was renewed in between survives.
func (m *Memory) Sweep() int {
	now := m.now()
	var expired []string

	m.mu.RLock()
	for key, rec := range m.records {
		if now.After(rec.resetAt) {
			expired = append(expired, key)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	removed := 0
	m.mu.Lock()
	now = m.now()
	for _, key := range expired {
		if rec, exists := m.records[key]; exists && now.After(rec.resetAt) {
			delete(m.records, key)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}
