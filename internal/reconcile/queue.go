// Package reconcile keeps the search index in step with the variant table.
//
// Fully pruned variants are recorded in a durable pending deletion queue
// before their rows are deleted. A reconcile pass removes each queued variant
// from the search index and only then deletes its queue entry, so a crash in
// between is retried on the next pass. Partially pruned rows carry the
// index-not-in-sync flag and are refreshed after the queue is drained.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/keys"
	"github.com/helix-io/helix/internal/variant"
)

// Entry is one pending deletion.
type Entry struct {
	Variant variant.Variant `json:"-"`

	// RunID is the prune run that deleted the row.
	RunID string `json:"runId,omitempty"`

	// EnqueuedAtMs is when the entry was written (unix milliseconds).
	EnqueuedAtMs int64 `json:"enqueuedAtMs"`
}

// Queue is the pending deletion queue stored in the metadata store.
type Queue struct {
	meta metadata.MetadataStore
}

// NewQueue creates a queue on meta.
func NewQueue(meta metadata.MetadataStore) *Queue {
	return &Queue{meta: meta}
}

// Enqueue records that v must be removed from the search index. Enqueueing a
// variant twice keeps one entry.
func (q *Queue) Enqueue(ctx context.Context, v variant.Variant, runID string) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(Entry{RunID: runID, EnqueuedAtMs: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("reconcile: marshal entry: %w", err)
	}
	if _, err := q.meta.Put(ctx, v.PendingDeletionKey(), data); err != nil {
		return fmt.Errorf("reconcile: enqueue %s: %w", v, err)
	}
	return nil
}

// Remove deletes the entry of v. Removing a missing entry is not an error.
func (q *Queue) Remove(ctx context.Context, v variant.Variant) error {
	if err := q.meta.Delete(ctx, v.PendingDeletionKey()); err != nil {
		return fmt.Errorf("reconcile: remove %s: %w", v, err)
	}
	return nil
}

// Page returns up to limit entries in key order, starting after the entry of
// after. A nil after starts at the beginning of the queue.
func (q *Queue) Page(ctx context.Context, after *variant.Variant, limit int) ([]Entry, error) {
	start := keys.PendingDeletionStart()
	if after != nil {
		start = keys.After(after.PendingDeletionKey())
	}
	kvs, err := q.meta.List(ctx, start, keys.PendingDeletionEnd(), limit)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list queue: %w", err)
	}

	entries := make([]Entry, 0, len(kvs))
	for _, kv := range kvs {
		v, err := variant.FromPendingDeletionKey(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("reconcile: queue key %q: %w", kv.Key, err)
		}
		var e Entry
		if len(kv.Value) > 0 {
			if err := json.Unmarshal(kv.Value, &e); err != nil {
				return nil, fmt.Errorf("reconcile: queue entry %s: %w", v, err)
			}
		}
		e.Variant = v
		entries = append(entries, e)
	}
	return entries, nil
}

// Each visits the queue in pages of batchSize entries until fn returns an
// error or the queue is exhausted. fn may remove entries it was given.
func (q *Queue) Each(ctx context.Context, batchSize int, fn func([]Entry) error) error {
	var after *variant.Variant
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := q.Page(ctx, after, batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		last := page[len(page)-1].Variant
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batchSize {
			return nil
		}
		after = &last
	}
}

// Len counts the queued entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.Each(ctx, 1000, func(page []Entry) error {
		n += int64(len(page))
		return nil
	})
	return n, err
}
