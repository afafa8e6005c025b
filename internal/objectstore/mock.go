package objectstore

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// MockStore keeps objects in memory. Tests across helix use it as a report
// location.
type MockStore struct {
	// PutErr fails every Put when set.
	PutErr error

	mu      sync.RWMutex
	objects map[string]mockObject
}

type mockObject struct {
	body []byte
	meta ObjectMeta
}

func NewMockStore() *MockStore {
	return &MockStore{objects: make(map[string]mockObject)}
}

func (s *MockStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.PutErr != nil {
		return &ObjectError{Op: "Put", Key: key, Err: s.PutErr}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}
	if size >= 0 && int64(len(body)) != size {
		return &ObjectError{Op: "Put", Key: key, Err: fmt.Errorf("read %d bytes, declared %d", len(body), size)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = mockObject{
		body: body,
		meta: ObjectMeta{Key: key, Size: int64(len(body)), ContentType: contentType, LastModified: time.Now()},
	}
	return nil
}

func (s *MockStore) lookup(op, key string) (mockObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return mockObject{}, &ObjectError{Op: op, Key: key, Err: ErrNotFound}
	}
	return obj, nil
}

func (s *MockStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.lookup("Get", key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (s *MockStore) Head(_ context.Context, key string) (ObjectMeta, error) {
	obj, err := s.lookup("Head", key)
	return obj.meta, err
}

func (s *MockStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MockStore) List(_ context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ObjectMeta
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.meta)
		}
	}
	slices.SortFunc(out, func(a, b ObjectMeta) int { return cmp.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *MockStore) Close() error { return nil }

var _ Store = (*MockStore)(nil)
