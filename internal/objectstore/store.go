// Package objectstore holds prune report runs and their exports.
//
// A report location is either a directory (package local) or an
// s3://bucket/prefix (package s3). Both back the same Store interface, so
// the report writer, reader and retention never see which one they got.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")

	// ErrInvalidKey rejects keys that would resolve outside a local root.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectError records which call failed on which key. errors.Is sees
// through it to the sentinels above.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

// ObjectMeta describes a stored object. ContentType is empty when the
// backend does not keep one.
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is safe for concurrent use. Keys are relative to the store root,
// which is the bucket for s3 and the directory for local.
type Store interface {
	// Put writes exactly size bytes from r to key, replacing any object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens key for reading. A missing key yields ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object under prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	Close() error
}
