package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/helix-io/helix/internal/objectstore"
)

// ParquetRecord is the row schema of a report's parquet export.
type ParquetRecord struct {
	Variant    string  `parquet:"variant"`
	Chromosome string  `parquet:"chromosome,dict"`
	Position   int64   `parquet:"position"`
	Reference  string  `parquet:"reference"`
	Alternate  string  `parquet:"alternate"`
	Type       string  `parquet:"type,dict"`
	Studies    []int32 `parquet:"studies,list"`
}

// ExportStats describes a written parquet export.
type ExportStats struct {
	Key         string
	RecordCount int64
	SizeBytes   int64
}

const exportBatchSize = 4096

func toParquet(rec Record) ParquetRecord {
	studies := make([]int32, len(rec.Studies))
	for i, id := range rec.Studies {
		studies[i] = int32(id)
	}
	return ParquetRecord{
		Variant:    rec.Variant.String(),
		Chromosome: rec.Variant.Chromosome,
		Position:   int64(rec.Variant.Position),
		Reference:  rec.Variant.Reference,
		Alternate:  rec.Variant.Alternate,
		Type:       string(rec.Type),
		Studies:    studies,
	}
}

// ExportParquet converts run ts into a single parquet file written to dst at
// key. An empty run produces a parquet file with no rows.
func ExportParquet(ctx context.Context, r *Reader, ts string, dst objectstore.Store, key string) (ExportStats, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[ParquetRecord](&buf)

	stats := ExportStats{Key: key}
	batch := make([]ParquetRecord, 0, exportBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := writer.Write(batch)
		if err != nil {
			return fmt.Errorf("parquet: write records: %w", err)
		}
		if n != len(batch) {
			return fmt.Errorf("parquet: wrote %d of %d records", n, len(batch))
		}
		stats.RecordCount += int64(n)
		batch = batch[:0]
		return nil
	}

	err := r.Each(ctx, ts, func(rec Record) error {
		batch = append(batch, toParquet(rec))
		if len(batch) == cap(batch) {
			return flush()
		}
		return nil
	})
	if err != nil {
		return ExportStats{}, err
	}
	if err := flush(); err != nil {
		return ExportStats{}, err
	}
	if err := writer.Close(); err != nil {
		return ExportStats{}, fmt.Errorf("parquet: close: %w", err)
	}

	stats.SizeBytes = int64(buf.Len())
	if err := dst.Put(ctx, key, bytes.NewReader(buf.Bytes()), stats.SizeBytes, "application/vnd.apache.parquet"); err != nil {
		return ExportStats{}, fmt.Errorf("report: write %s: %w", key, err)
	}
	return stats, nil
}
