// Package expiring implements a generic, thread-safe map whose entries
// expire after a fixed TTL.
//
// Expiry is lazy: an entry older than the TTL is treated as absent and
// removed on the next lookup. An optional background sweep bounds memory
// for keys that are never read again.
package expiring

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	val     V
	savedAt time.Time
}

// Map is a TTL map. K must be comparable, V can be any type.
type Map[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[K]entry[V]
	now   func() time.Time
}

// Option configures a Map.
type Option[K comparable, V any] func(*Map[K, V])

// WithNow overrides the clock. Used in tests.
func WithNow[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(m *Map[K, V]) { m.now = now }
}

// NewMap creates a Map with the given TTL.
// Panics if ttl <= 0.
func NewMap[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Map[K, V] {
	if ttl <= 0 {
		panic("expiring: ttl must be positive")
	}
	m := &Map[K, V]{
		ttl:   ttl,
		items: make(map[K]entry[V]),
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the live value for key. Expired entries are purged and
// reported as absent.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if m.now().Sub(e.savedAt) >= m.ttl {
		delete(m.items, key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Put stores a value, resetting its expiry.
func (m *Map[K, V]) Put(key K, val V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = entry[V]{val: val, savedAt: m.now()}
}

// PutIfAbsent stores a value only if no live entry exists for key.
// Returns true if the value was stored. The check and the store happen
// under one lock, so concurrent callers cannot both win.
func (m *Map[K, V]) PutIfAbsent(key K, val V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key]; ok {
		if m.now().Sub(e.savedAt) < m.ttl {
			return false
		}
		delete(m.items, key)
	}
	m.items[key] = entry[V]{val: val, savedAt: m.now()}
	return true
}

// Delete removes a key. Returns true if a live entry existed.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return false
	}
	delete(m.items, key)
	return m.now().Sub(e.savedAt) < m.ttl
}

// Len returns the number of stored entries, expired ones included.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep removes all expired entries and returns how many were dropped.
func (m *Map[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	now := m.now()
	for k, e := range m.items {
		if now.Sub(e.savedAt) >= m.ttl {
			delete(m.items, k)
			dropped++
		}
	}
	return dropped
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (m *Map[K, V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
