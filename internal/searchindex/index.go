// Package searchindex defines the downstream variant search index that the
// reconciler keeps in step with the variant table.
//
// Implementations must make Delete and Update idempotent: the pending
// deletion queue delivers work at least once, so the same id can be deleted
// or refreshed several times.
package searchindex

import (
	"context"

	"github.com/helix-io/helix/internal/variant"
)

// Document is the indexed form of one variant row.
type Document struct {
	ID         string `json:"id"`
	Chromosome string `json:"chromosome"`
	Position   uint64 `json:"start"`
	Reference  string `json:"reference"`
	Alternate  string `json:"alternate"`
	Studies    []int  `json:"studies"`
}

// Index is a search index holding one document per variant.
type Index interface {
	// Delete removes documents by id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// Update inserts or replaces documents.
	Update(ctx context.Context, docs []Document) error

	// Reachable reports whether the index can currently serve requests.
	Reachable(ctx context.Context) bool
}

// DocumentID returns the id of the document of v.
func DocumentID(v variant.Variant) string {
	return v.String()
}

// DocumentFromRow builds the document of a variant row.
func DocumentFromRow(row variant.Row) Document {
	v := row.Variant
	return Document{
		ID:         DocumentID(v),
		Chromosome: v.Chromosome,
		Position:   v.Position,
		Reference:  v.Reference,
		Alternate:  v.Alternate,
		Studies:    row.Studies(),
	}
}
