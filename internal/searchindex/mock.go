package searchindex

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by MockIndex when a failure is injected.
var ErrInjected = errors.New("searchindex: injected failure")

// MockIndex is an in-memory Index for tests.
type MockIndex struct {
	mu   sync.Mutex
	docs map[string]Document

	unreachable bool
	// failDeletes and failUpdates count the next calls that fail.
	failDeletes int
	failUpdates int

	deleteCalls int
	updateCalls int
}

// NewMockIndex creates an empty MockIndex.
func NewMockIndex() *MockIndex {
	return &MockIndex{docs: make(map[string]Document)}
}

// SetReachable toggles reachability.
func (m *MockIndex) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = !ok
}

// FailNextDeletes makes the next n Delete calls fail.
func (m *MockIndex) FailNextDeletes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeletes = n
}

// FailNextUpdates makes the next n Update calls fail.
func (m *MockIndex) FailNextUpdates(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdates = n
}

func (m *MockIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.failDeletes > 0 {
		m.failDeletes--
		return ErrInjected
	}
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *MockIndex) Update(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdates > 0 {
		m.failUpdates--
		return ErrInjected
	}
	for _, d := range docs {
		d.Studies = append([]int(nil), d.Studies...)
		m.docs[d.ID] = d
	}
	return nil
}

func (m *MockIndex) Reachable(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unreachable
}

// Doc returns the stored document with the given id.
func (m *MockIndex) Doc(id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

// Len returns the number of stored documents.
func (m *MockIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Calls returns the number of Delete and Update calls so far.
func (m *MockIndex) Calls() (deletes, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls, m.updateCalls
}

var _ Index = (*MockIndex)(nil)
