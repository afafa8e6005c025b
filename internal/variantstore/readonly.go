package variantstore

import (
	"context"

	"github.com/helix-io/helix/internal/variant"
)

// readOnly wraps a Reader and refuses every mutation.
type readOnly struct {
	Reader
}

// ReadOnly returns a Store view over r whose Put and Apply always fail with
// ErrReadOnly. Passing a Store does not leak its mutation methods.
func ReadOnly(r Reader) Store {
	if ro, ok := r.(readOnly); ok {
		return ro
	}
	return readOnly{Reader: narrow{r}}
}

func (readOnly) Put(context.Context, variant.Row) error {
	return ErrReadOnly
}

func (readOnly) Apply(context.Context, Mutation) error {
	return ErrReadOnly
}

// IsReadOnly reports whether s was created by ReadOnly.
func IsReadOnly(s Store) bool {
	_, ok := s.(readOnly)
	return ok
}

// narrow hides everything but the Reader methods of the wrapped value, so a
// type assertion on the view cannot recover the underlying Store.
type narrow struct {
	r Reader
}

func (n narrow) Get(ctx context.Context, v variant.Variant, studyIDs []int) (variant.Row, bool, error) {
	return n.r.Get(ctx, v, studyIDs)
}

func (n narrow) Scan(ctx context.Context, p Partition, batchSize int, fn RowFunc) error {
	return n.r.Scan(ctx, p, batchSize, fn)
}

func (n narrow) ScanOutOfSync(ctx context.Context, batchSize int, fn RowFunc) error {
	return n.r.ScanOutOfSync(ctx, batchSize, fn)
}

func (n narrow) Partitions(ctx context.Context, window uint64) ([]Partition, error) {
	return n.r.Partitions(ctx, window)
}
