package objectstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"
)

// MetricsRecorder receives one observation per store call.
// metrics.ObjectStoreMetrics implements it.
type MetricsRecorder interface {
	RecordObjectOperation(operation string, durationSeconds float64, success bool, bytes int64)
}

// InstrumentedStore times every call of the wrapped store and counts the
// bytes of puts and gets.
type InstrumentedStore struct {
	Store
	rec MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil recorder disables recording.
func NewInstrumentedStore(store Store, rec MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{Store: store, rec: rec}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error, n int64) {
	if s.rec != nil {
		s.rec.RecordObjectOperation(op, time.Since(start).Seconds(), err == nil, n)
	}
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.Store.Put(ctx, key, r, size, contentType)
	s.observe(OpPut, start, err, size)
	return err
}

// Get is recorded when the returned reader is closed, with the bytes read
// by then.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.Store.Get(ctx, key)
	if err != nil {
		s.observe(OpGet, start, err, 0)
		return nil, err
	}
	if s.rec == nil {
		return rc, nil
	}
	return &countingReader{ReadCloser: rc, done: func(n int64, err error) { s.observe(OpGet, start, err, n) }}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.Store.Head(ctx, key)
	s.observe(OpHead, start, err, 0)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	s.observe(OpDelete, start, err, 0)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	objects, err := s.Store.List(ctx, prefix)
	s.observe(OpList, start, err, 0)
	return objects, err
}

// countingReader reports the bytes read and the first read or close error
// exactly once, on the first Close.
type countingReader struct {
	io.ReadCloser
	n       int64
	readErr error
	once    sync.Once
	done    func(n int64, err error)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && r.readErr == nil {
		r.readErr = err
	}
	return n, err
}

func (r *countingReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.ReadCloser.Close()
		if err != nil {
			r.done(r.n, err)
		} else {
			r.done(r.n, r.readErr)
		}
	})
	return err
}

var _ Store = (*InstrumentedStore)(nil)
