// Package variantstore implements the column-oriented variant table on top of
// the metadata key-value store.
//
// Each variant row is a single key under /helix/v1/variants holding the
// msgpack-encoded column map of the row. Row mutations are read-modify-write
// cycles guarded by the key version, so concurrent writers to the same row
// never lose each other's columns.
//
// The store is scanned in partitions: disjoint position windows of one
// chromosome. Partitions are derived from the chromosome registry, which
// records the largest position written per chromosome.
package variantstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/helix-io/helix/internal/metadata/keys"
	"github.com/helix-io/helix/internal/variant"
)

var (
	// ErrReadOnly is returned by every mutation on a read-only view.
	ErrReadOnly = errors.New("variantstore: read-only view")

	// ErrTooManyConflicts is returned when a row mutation keeps losing the
	// version race against other writers.
	ErrTooManyConflicts = errors.New("variantstore: too many concurrent modifications")

	// ErrEmptyMutation is returned for a mutation that changes nothing.
	ErrEmptyMutation = errors.New("variantstore: empty mutation")

	// ErrRowChanged is returned when a row no longer holds the columns a
	// mutation expects.
	ErrRowChanged = errors.New("variantstore: row changed")
)

// Partition is a disjoint row-key range: positions [Start, End) of one chromosome.
type Partition struct {
	ID         int
	Chromosome string
	Start      uint64
	// End is exclusive. A value above keys.MaxPosition means "to the end of
	// the chromosome".
	End uint64
}

// Open reports whether the partition extends to the end of its chromosome.
func (p Partition) Open() bool {
	return p.End > keys.MaxPosition
}

// StartKey returns the inclusive lower key bound of the partition.
func (p Partition) StartKey() string {
	return keys.VariantRangeStart(p.Chromosome, p.Start)
}

// EndKey returns the exclusive upper key bound of the partition.
func (p Partition) EndKey() string {
	if p.Open() {
		return keys.VariantRangeEnd(p.Chromosome)
	}
	return keys.VariantRangeStart(p.Chromosome, p.End)
}

func (p Partition) String() string {
	if p.Open() {
		return fmt.Sprintf("p%05d[%s:%d-]", p.ID, p.Chromosome, p.Start)
	}
	return fmt.Sprintf("p%05d[%s:%d-%d)", p.ID, p.Chromosome, p.Start, p.End)
}

// Mutation describes a change to one row. DeleteRow takes precedence over the
// column changes. Deleting the last column of a row deletes the row.
//
// A mutation that deletes anything is a no-op on a missing row; only a pure
// set creates one.
type Mutation struct {
	Variant       variant.Variant
	DeleteRow     bool
	DeleteColumns []string
	SetColumns    map[string][]byte

	// Expect, when non-nil, is the exact column set the row must still hold.
	// Otherwise Apply changes nothing and returns ErrRowChanged.
	Expect map[string][]byte
}

func (m Mutation) empty() bool {
	return !m.DeleteRow && len(m.DeleteColumns) == 0 && len(m.SetColumns) == 0
}

// RowFunc is called for every row visited by a scan. Returning an error stops
// the scan and the error is returned from it.
type RowFunc func(row variant.Row) error

// Reader is the read side of the variant table.
type Reader interface {
	// Get fetches one row. A non-nil studyIDs restricts the returned columns to
	// those studies. The boolean is false if the row does not exist.
	Get(ctx context.Context, v variant.Variant, studyIDs []int) (variant.Row, bool, error)

	// Scan visits every row of a partition in key order, fetching batchSize
	// rows per round trip.
	Scan(ctx context.Context, p Partition, batchSize int, fn RowFunc) error

	// ScanOutOfSync visits every row flagged with variant.IndexNotSyncColumn.
	ScanOutOfSync(ctx context.Context, batchSize int, fn RowFunc) error

	// Partitions splits the table into position windows of the given width.
	// A zero window yields one partition per chromosome.
	Partitions(ctx context.Context, window uint64) ([]Partition, error)
}

// Store is the full variant table.
type Store interface {
	Reader

	// Put writes a row, replacing any existing row for the same variant, and
	// records the position in the chromosome registry.
	Put(ctx context.Context, row variant.Row) error

	// Apply performs a row mutation. Mutations of missing rows that delete
	// anything are no-ops.
	Apply(ctx context.Context, m Mutation) error
}
