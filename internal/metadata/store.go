// Package metadata is the ordered key-value keyspace helix keeps its durable
// state in: variant rows, the chromosome registry, study and task records,
// and the pending deletion queue.
//
// Backends only need point reads, versioned writes and deletes, and ordered
// range listing. Oxia serves production; MockStore serves tests and the
// "memory" backend.
package metadata

import (
	"context"
	"errors"
)

var (
	// ErrVersionMismatch means a conditional write lost against a concurrent
	// writer. Callers re-read and retry.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version is the per-key write counter of a backend. It grows on every
// write; zero never names a stored value.
type Version int64

// KV is one listed entry.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the outcome of a point read. A missing key is reported with
// Exists=false, not an error.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// Condition is the version precondition of a write.
type Condition struct {
	Version Version
	Set     bool
}

// Holds reports whether a key in the given state satisfies c. Version 0
// requires the key to be absent.
func (c Condition) Holds(current Version, exists bool) bool {
	if !c.Set {
		return true
	}
	if !exists {
		return c.Version == 0
	}
	return current == c.Version
}

type PutOption func(*Condition)

// WithExpectedVersion makes a Put conditional on the key's current version.
// Use 0 to create a key that must not exist yet.
func WithExpectedVersion(v Version) PutOption {
	return func(c *Condition) { *c = Condition{Version: v, Set: true} }
}

type DeleteOption func(*Condition)

// WithDeleteExpectedVersion makes a Delete conditional on the key's current
// version. Deleting a missing key still succeeds.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(c *Condition) { *c = Condition{Version: v, Set: true} }
}

// PutCondition folds Put options into their precondition.
func PutCondition(opts []PutOption) Condition {
	var c Condition
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// DeleteCondition folds Delete options into their precondition.
func DeleteCondition(opts []DeleteOption) Condition {
	var c Condition
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// MetadataStore is implemented by every metadata backend. Implementations
// are safe for concurrent use.
//
//	store, err := oxia.New(ctx, oxia.Config{ServiceAddress: "localhost:6648", Namespace: "helix"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	v, err := store.Put(ctx, keys.StudyKeyPath(7), raw, metadata.WithExpectedVersion(0))
type MetadataStore interface {
	Get(ctx context.Context, key string) (GetResult, error)

	// Put writes value and returns the key's new version.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// List returns the entries in [startKey, endKey) in key order, or every
	// key under the prefix startKey when endKey is empty. A limit <= 0 means
	// no limit.
	//
	// Range bounds must have the same number of '/' segments as the keys
	// they select; see the keys package.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// Close releases the backend. Later calls return ErrStoreClosed.
	Close() error
}
