package metadata

import (
	"context"
	"errors"
	"time"
)

// MetricsRecorder receives one observation per store call. metrics.KVMetrics
// implements it.
type MetricsRecorder interface {
	RecordOperation(operation string, durationSeconds float64, success bool)
}

const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// InstrumentedStore times every call of the wrapped store. Lost CAS races
// are recorded as successes: the backend answered, the caller retries.
type InstrumentedStore struct {
	MetadataStore
	rec MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil recorder disables recording.
func NewInstrumentedStore(store MetadataStore, rec MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{MetadataStore: store, rec: rec}
}

func observe[T any](s *InstrumentedStore, op string, call func() (T, error)) (T, error) {
	start := time.Now()
	v, err := call()
	if s.rec != nil {
		ok := err == nil || errors.Is(err, ErrVersionMismatch)
		s.rec.RecordOperation(op, time.Since(start).Seconds(), ok)
	}
	return v, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	return observe(s, OpGet, func() (GetResult, error) {
		return s.MetadataStore.Get(ctx, key)
	})
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	return observe(s, OpPut, func() (Version, error) {
		return s.MetadataStore.Put(ctx, key, value, opts...)
	})
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	_, err := observe(s, OpDelete, func() (struct{}, error) {
		return struct{}{}, s.MetadataStore.Delete(ctx, key, opts...)
	})
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	return observe(s, OpList, func() ([]KV, error) {
		return s.MetadataStore.List(ctx, startKey, endKey, limit)
	})
}

var _ MetadataStore = (*InstrumentedStore)(nil)
