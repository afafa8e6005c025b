package variantstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/keys"
	"github.com/helix-io/helix/internal/variant"
)

const (
	defaultBatchSize   = 1000
	defaultMaxAttempts = 16
)

// KVStore implements Store on a metadata.MetadataStore.
type KVStore struct {
	meta        metadata.MetadataStore
	maxAttempts int
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithMaxAttempts bounds the read-modify-write retries of a row mutation.
func WithMaxAttempts(n int) Option {
	return func(s *KVStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New creates a KVStore.
func New(meta metadata.MetadataStore, opts ...Option) *KVStore {
	s := &KVStore{meta: meta, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// chromosomeRecord is stored at /helix/v1/chromosomes/<chrom>.
type chromosomeRecord struct {
	MaxPosition uint64 `json:"maxPosition"`
}

func decodeRow(kv metadata.KV) (variant.Row, error) {
	v, err := variant.FromKey(kv.Key)
	if err != nil {
		return variant.Row{}, err
	}
	columns, err := variant.DecodeColumns(kv.Value)
	if err != nil {
		return variant.Row{}, fmt.Errorf("variantstore: row %s: %w", v, err)
	}
	return variant.Row{Variant: v, Columns: columns}, nil
}

func (s *KVStore) Get(ctx context.Context, v variant.Variant, studyIDs []int) (variant.Row, bool, error) {
	key := v.Key()
	result, err := s.meta.Get(ctx, key)
	if err != nil {
		return variant.Row{}, false, fmt.Errorf("variantstore: get %s: %w", v, err)
	}
	if !result.Exists {
		return variant.Row{}, false, nil
	}
	row, err := decodeRow(metadata.KV{Key: key, Value: result.Value, Version: result.Version})
	if err != nil {
		return variant.Row{}, false, err
	}
	if studyIDs != nil {
		row = row.Filter(studyIDs)
	}
	return row, true, nil
}

func (s *KVStore) Scan(ctx context.Context, p Partition, batchSize int, fn RowFunc) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	startKey := p.StartKey()
	endKey := p.EndKey()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		kvs, err := s.meta.List(ctx, startKey, endKey, batchSize)
		if err != nil {
			return fmt.Errorf("variantstore: scan %s: %w", p, err)
		}
		for _, kv := range kvs {
			row, err := decodeRow(kv)
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}

		if len(kvs) < batchSize {
			return nil
		}
		startKey = keys.After(kvs[len(kvs)-1].Key)
	}
}

func (s *KVStore) ScanOutOfSync(ctx context.Context, batchSize int, fn RowFunc) error {
	partitions, err := s.Partitions(ctx, 0)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		err := s.Scan(ctx, p, batchSize, func(row variant.Row) error {
			if !row.HasColumn(variant.IndexNotSyncColumn) {
				return nil
			}
			return fn(row)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) Partitions(ctx context.Context, window uint64) ([]Partition, error) {
	chroms, err := s.chromosomes(ctx)
	if err != nil {
		return nil, err
	}

	var partitions []Partition
	for _, c := range chroms {
		if window == 0 {
			partitions = append(partitions, Partition{ID: len(partitions), Chromosome: c.name, Start: 0, End: keys.MaxPosition + 1})
			continue
		}
		for start := uint64(0); ; start += window {
			end := start + window
			if end > c.maxPosition || end > keys.MaxPosition {
				// The last window stays open so rows written after the
				// registry was read are still covered.
				partitions = append(partitions, Partition{ID: len(partitions), Chromosome: c.name, Start: start, End: keys.MaxPosition + 1})
				break
			}
			partitions = append(partitions, Partition{ID: len(partitions), Chromosome: c.name, Start: start, End: end})
		}
	}
	return partitions, nil
}

type chromosome struct {
	name        string
	maxPosition uint64
}

func (s *KVStore) chromosomes(ctx context.Context) ([]chromosome, error) {
	kvs, err := s.meta.List(ctx, keys.ChromosomesListPrefix(), "", 0)
	if err != nil {
		return nil, fmt.Errorf("variantstore: list chromosomes: %w", err)
	}
	chroms := make([]chromosome, 0, len(kvs))
	for _, kv := range kvs {
		name, err := keys.ParseChromosomeKey(kv.Key)
		if err != nil {
			continue
		}
		var rec chromosomeRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("variantstore: chromosome %s: %w", name, err)
		}
		chroms = append(chroms, chromosome{name: name, maxPosition: rec.MaxPosition})
	}
	sort.Slice(chroms, func(i, j int) bool { return chroms[i].name < chroms[j].name })
	return chroms, nil
}

func (s *KVStore) Put(ctx context.Context, row variant.Row) error {
	if err := row.Variant.Validate(); err != nil {
		return err
	}
	if err := s.registerPosition(ctx, row.Variant.Chromosome, row.Variant.Position); err != nil {
		return err
	}
	data, err := variant.EncodeColumns(row.Columns)
	if err != nil {
		return err
	}
	if _, err := s.meta.Put(ctx, row.Variant.Key(), data); err != nil {
		return fmt.Errorf("variantstore: put %s: %w", row.Variant, err)
	}
	return nil
}

// registerPosition raises the registry's max position for chrom to at least pos.
func (s *KVStore) registerPosition(ctx context.Context, chrom string, pos uint64) error {
	key := keys.ChromosomeKeyPath(chrom)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		result, err := s.meta.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("variantstore: get chromosome %s: %w", chrom, err)
		}

		expected := metadata.Version(0)
		if result.Exists {
			var rec chromosomeRecord
			if err := json.Unmarshal(result.Value, &rec); err != nil {
				return fmt.Errorf("variantstore: chromosome %s: %w", chrom, err)
			}
			if rec.MaxPosition >= pos {
				return nil
			}
			expected = result.Version
		}

		data, err := json.Marshal(chromosomeRecord{MaxPosition: pos})
		if err != nil {
			return fmt.Errorf("variantstore: marshal chromosome: %w", err)
		}
		_, err = s.meta.Put(ctx, key, data, metadata.WithExpectedVersion(expected))
		if err == nil {
			return nil
		}
		if !errors.Is(err, metadata.ErrVersionMismatch) {
			return fmt.Errorf("variantstore: put chromosome %s: %w", chrom, err)
		}
	}
	return fmt.Errorf("%w: chromosome %s", ErrTooManyConflicts, chrom)
}

func (s *KVStore) Apply(ctx context.Context, m Mutation) error {
	if m.empty() {
		return ErrEmptyMutation
	}
	key := m.Variant.Key()

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		result, err := s.meta.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("variantstore: get %s: %w", m.Variant, err)
		}

		err = s.applyOnce(ctx, key, m, result)
		if err == nil {
			return nil
		}
		if !errors.Is(err, metadata.ErrVersionMismatch) {
			return fmt.Errorf("variantstore: apply %s: %w", m.Variant, err)
		}
	}
	return fmt.Errorf("%w: %s", ErrTooManyConflicts, m.Variant)
}

func (s *KVStore) applyOnce(ctx context.Context, key string, m Mutation, current metadata.GetResult) error {
	if !current.Exists {
		if m.DeleteRow || len(m.DeleteColumns) > 0 || len(m.SetColumns) == 0 {
			return nil
		}
		if err := s.registerPosition(ctx, m.Variant.Chromosome, m.Variant.Position); err != nil {
			return err
		}
		data, err := variant.EncodeColumns(m.SetColumns)
		if err != nil {
			return err
		}
		_, err = s.meta.Put(ctx, key, data, metadata.WithExpectedVersion(0))
		return err
	}

	if m.DeleteRow && m.Expect == nil {
		return s.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(current.Version))
	}

	columns, err := variant.DecodeColumns(current.Value)
	if err != nil {
		return err
	}
	if m.Expect != nil && !maps.EqualFunc(columns, m.Expect, bytes.Equal) {
		return ErrRowChanged
	}
	if m.DeleteRow {
		return s.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(current.Version))
	}

	for _, name := range m.DeleteColumns {
		delete(columns, name)
	}
	for name, value := range m.SetColumns {
		columns[name] = value
	}
	if len(columns) == 0 {
		return s.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(current.Version))
	}

	data, err := variant.EncodeColumns(columns)
	if err != nil {
		return err
	}
	_, err = s.meta.Put(ctx, key, data, metadata.WithExpectedVersion(current.Version))
	return err
}

var _ Store = (*KVStore)(nil)
