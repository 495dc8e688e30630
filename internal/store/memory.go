// ABOUTME: In-memory Store with ETag checks and a TTL sweep of stale dedup entries
// ABOUTME: Suitable for single-instance deployments and tests

package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryEntry stores the version, creation time, and list element for a key.
type memoryEntry struct {
	etag      string
	createdAt time.Time
	element   *list.Element
}

// MemoryStore is a process-local Store. Writes are serialized by a mutex, so
// version checks are linearizable within the process only.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*memoryEntry
	order   *list.List // keys in insertion order (oldest at front)
	dialogs map[string][]byte
	ttl     time.Duration
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates a MemoryStore. A positive ttl starts a background
// goroutine that periodically sweeps entries older than ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	m := &MemoryStore{
		items:   make(map[string]*memoryEntry),
		order:   list.New(),
		dialogs: make(map[string][]byte),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go m.cleanup()
	}
	return m
}

// Write applies all items atomically.
func (m *MemoryStore) Write(ctx context.Context, items map[string]Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every key before touching any of them
	for key, item := range items {
		entry, exists := m.items[key]
		if !exists || item.ETag == AnyETag {
			continue
		}
		if item.ETag == "" || item.ETag != entry.etag {
			return &ConflictError{Key: key, ExpectedETag: item.ETag, CurrentETag: entry.etag}
		}
	}

	now := time.Now()
	for key := range items {
		etag := uuid.New().String()
		if entry, exists := m.items[key]; exists {
			entry.etag = etag
			continue
		}
		elem := m.order.PushBack(key)
		m.items[key] = &memoryEntry{etag: etag, createdAt: now, element: elem}
	}
	return nil
}

// Delete removes the listed keys.
func (m *MemoryStore) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if entry, ok := m.items[key]; ok {
			m.order.Remove(entry.element)
			delete(m.items, key)
		}
	}
	return nil
}

// ETag returns the current version of key, or ErrNotFound.
func (m *MemoryStore) ETag(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return entry.etag, nil
}

// Len returns the number of dedup entries held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// LoadDialog returns the saved dialog state for key.
func (m *MemoryStore) LoadDialog(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.dialogs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, nil
}

// SaveDialog stores dialog state for key.
func (m *MemoryStore) SaveDialog(ctx context.Context, key string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]byte, len(state))
	copy(saved, state)
	m.dialogs[key] = saved
	return nil
}

// DeleteDialog removes dialog state for key.
func (m *MemoryStore) DeleteDialog(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialogs, key)
	return nil
}

// Sweep removes entries created before cutoff. Entries are kept in creation
// order, so the scan stops at the first entry that is new enough.
func (m *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for front := m.order.Front(); front != nil; front = m.order.Front() {
		key, _ := front.Value.(string)
		entry := m.items[key]
		if entry == nil {
			m.order.Remove(front)
			continue
		}
		if !entry.createdAt.Before(cutoff) {
			break
		}
		m.order.Remove(front)
		delete(m.items, key)
		removed++
	}
	return removed, nil
}

// cleanup runs in a background goroutine, periodically sweeping expired entries.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Sweep(context.Background(), time.Now().Add(-m.ttl))
		case <-m.done:
			return
		}
	}
}

// Ping fails once the store has been closed.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
