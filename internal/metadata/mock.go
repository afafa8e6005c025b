package metadata

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MockStore is an in-memory MetadataStore. It backs the "memory" metadata
// backend and tests across helix. Versions come from one store-wide counter,
// like a single Oxia shard.
type MockStore struct {
	mu      sync.RWMutex
	entries map[string]KV
	version Version
	closed  bool

	puts, deletes int
}

func NewMockStore() *MockStore {
	return &MockStore{entries: make(map[string]KV)}
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	kv, ok := m.entries[key]
	if !ok {
		return GetResult{}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	current, exists := m.entries[key]
	if !PutCondition(opts).Holds(current.Version, exists) {
		return 0, ErrVersionMismatch
	}

	m.version++
	m.puts++
	m.entries[key] = KV{Key: key, Value: slices.Clone(value), Version: m.version}
	return m.version, nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	current, exists := m.entries[key]
	if !exists {
		return nil
	}
	if !DeleteCondition(opts).Holds(current.Version, true) {
		return ErrVersionMismatch
	}
	m.deletes++
	delete(m.entries, key)
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	inRange := func(k string) bool { return k >= startKey && k < endKey }
	if endKey == "" {
		inRange = func(k string) bool { return strings.HasPrefix(k, startKey) }
	}

	var matched []string
	for k := range m.entries {
		if inRange(k) {
			matched = append(matched, k)
		}
	}
	slices.Sort(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]KV, 0, len(matched))
	for _, k := range matched {
		out = append(out, m.entries[k])
	}
	return out, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// WriteCounts returns how many puts and deletes have been applied. Tests use
// it to assert that a dry run leaves the keyspace untouched.
func (m *MockStore) WriteCounts() (puts, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts, m.deletes
}

func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ MetadataStore = (*MockStore)(nil)
