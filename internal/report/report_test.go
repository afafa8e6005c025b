package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/variant"
)

func TestRecordFormat(t *testing.T) {
	tests := []struct {
		rec  Record
		line string
	}{
		{Record{variant.New("1", 100, "A", "T"), Partial, []int{1}}, "1:100:A:T\tPARTIAL\t1"},
		{Record{variant.New("2", 200, "G", "C"), Full, []int{1}}, "2:200:G:C\tFULL\t1"},
		{Record{variant.New("X", 7, "", "AC"), Full, []int{2, 10, 31}}, "X:7:-:AC\tFULL\t2,10,31"},
		{Record{variant.New("2", 321681, "G", "G]17:198982]"), Partial, []int{4}}, "2:321681:G:G]17%3A198982]\tPARTIAL\t4"},
		{Record{variant.New("17", 198982, "A", "]2:321681]A"), Full, []int{4, 5}}, "17:198982:A:]2%3A321681]A\tFULL\t4,5"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.line, tt.rec.String())

			parsed, err := ParseRecord(tt.line + "\n")
			require.NoError(t, err)
			assert.Equal(t, tt.rec, parsed)
		})
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"1:100:A:T\tPARTIAL",
		"1:100:A:T\tPARTIAL\t1\textra",
		"1:100:A\tPARTIAL\t1",
		"1:100:A:T\tSKIP\t1",
		"1:100:A:T\tFULL\t",
		"1:100:A:T\tFULL\t1,x",
		"1:100:A:T\tFULL\t2,1",
		"1:100:A:T\tFULL\t1,1",
	} {
		t.Run(fmt.Sprintf("%q", line), func(t *testing.T) {
			_, err := ParseRecord(line)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestPartNames(t *testing.T) {
	ts := Timestamp(time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600)))
	assert.Equal(t, "20260304040607", ts)

	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd, CodecLZ4, CodecSnappy} {
		name := PartName(ts, 3, 12, codec)
		part, ok := ParsePartName(name)
		require.True(t, ok, name)
		assert.Equal(t, Part{Timestamp: ts, Partition: 3, Seq: 12, Codec: codec}, part)
	}
	assert.Equal(t, "variant_prune_report.20260304040607.p00003-0012.tsv.zst", PartName(ts, 3, 12, CodecZstd))

	for _, name := range []string{
		ParquetName(ts),
		ManifestName(ts),
		"variant_prune_report.2026.p00000-0000.tsv",
		"variant_prune_report.20260304040607.p00000-0000.tsv.bz2",
		"other.20260304040607.p00000-0000.tsv",
	} {
		_, ok := ParsePartName(name)
		assert.False(t, ok, name)
	}

	got, ok := ParseManifestName(ManifestName(ts))
	require.True(t, ok)
	assert.Equal(t, ts, got)
	_, ok = ParseManifestName(ParquetName(ts))
	assert.False(t, ok)
}

func TestCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("1:100:A:T\tPARTIAL\t1\n"), 500)
	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd, CodecLZ4, CodecSnappy} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := codec.NewCompressor(&buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := codec.NewDecompressor(&buf)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, got)
		})
	}

	_, err := ParseCodec("brotli")
	assert.Error(t, err)
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)
}

type capturePublisher struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, r := range records {
		c.records = append(c.records, Record{Variant: r.Variant, Type: r.Type, Studies: append([]int(nil), r.Studies...)})
	}
	return nil
}

func writeRun(t *testing.T, store objectstore.Store, loc objectstore.Location, ts string, opts WriterOptions, perPartition map[int][]Record) *Writer {
	t.Helper()
	ctx := context.Background()
	w := NewWriter(store, loc, ts, opts)

	var wg sync.WaitGroup
	for id, recs := range perPartition {
		wg.Add(1)
		go func(id int, recs []Record) {
			defer wg.Done()
			pw := w.Partition(id)
			for _, rec := range recs {
				assert.NoError(t, pw.Write(ctx, rec))
			}
			assert.NoError(t, pw.Close(ctx))
		}(id, recs)
	}
	wg.Wait()
	require.NoError(t, w.Finish(ctx))
	return w
}

func records(chrom string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		typ := Full
		if i%2 == 1 {
			typ = Partial
		}
		out[i] = Record{Variant: variant.New(chrom, uint64(i+1), "A", "T"), Type: typ, Studies: []int{1, 2}}
	}
	return out
}

func TestWriterReader_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd, CodecLZ4, CodecSnappy} {
		t.Run(string(codec), func(t *testing.T) {
			ctx := context.Background()
			store := objectstore.NewMockStore()
			loc, err := objectstore.ParseLocation("s3://bucket/reports")
			require.NoError(t, err)

			pub := &capturePublisher{}
			input := map[int][]Record{0: records("1", 25), 1: records("2", 7), 2: nil}
			w := writeRun(t, store, loc, "20260101000000", WriterOptions{Codec: codec, PartRecords: 10, Publisher: pub}, input)

			parts := w.Parts()
			require.Len(t, parts, 4)
			assert.Equal(t, "reports/variant_prune_report.20260101000000.p00000-0000.tsv"+codec.Extension(), parts[0].Key)
			assert.Equal(t, 1, parts[3].Partition)

			r := NewReader(store, loc)
			n, err := r.Count(ctx, "20260101000000")
			require.NoError(t, err)
			assert.EqualValues(t, 32, n)

			m, err := r.Manifest(ctx, "20260101000000")
			require.NoError(t, err)
			assert.EqualValues(t, 32, m.Records)
			assert.Equal(t, 4, m.Parts)

			var got []Record
			require.NoError(t, r.Each(ctx, "20260101000000", func(rec Record) error {
				got = append(got, rec)
				return nil
			}))
			want := append(append([]Record(nil), input[0]...), input[1]...)
			assert.Equal(t, want, got)
			assert.Len(t, pub.records, 32)
		})
	}
}

func TestWriter_EmptyRunIsDiscoverable(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	loc, err := objectstore.ParseLocation("/tmp/unused")
	require.NoError(t, err)

	writeRun(t, store, loc, "20260101000000", WriterOptions{}, map[int][]Record{0: nil, 1: nil})

	r := NewReader(store, loc)
	latest, err := r.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260101000000", latest)

	n, err := r.Count(ctx, latest)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReader_Runs(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	loc := objectstore.Location{}

	_, err := NewReader(store, loc).Latest(ctx)
	assert.ErrorIs(t, err, ErrNoReport)

	writeRun(t, store, loc, "20260102000000", WriterOptions{}, map[int][]Record{0: records("1", 1)})
	writeRun(t, store, loc, "20260101000000", WriterOptions{}, map[int][]Record{0: records("1", 1)})
	require.NoError(t, store.Put(ctx, "notes.txt", bytes.NewReader([]byte("x")), 1, ""))

	r := NewReader(store, loc)
	runs, err := r.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260101000000", "20260102000000"}, runs)

	latest, err := r.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260102000000", latest)

	_, err = r.Parts(ctx, "20250101000000")
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestReader_SkipsUnfinishedRun(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	loc := objectstore.Location{Bucket: "b", Prefix: "reports"}

	writeRun(t, store, loc, "20260101000000", WriterOptions{Codec: CodecZstd}, map[int][]Record{0: records("1", 3), 1: records("2", 2)})

	// A run whose partition failed: parts were flushed but Finish never ran.
	w := NewWriter(store, loc, "20260102000000", WriterOptions{PartRecords: 1})
	pw := w.Partition(0)
	require.NoError(t, pw.Write(ctx, records("3", 1)[0]))

	r := NewReader(store, loc)
	runs, err := r.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260101000000"}, runs)

	incomplete, err := r.Incomplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260102000000"}, incomplete)

	latest, err := r.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260101000000", latest)

	_, err = r.Count(ctx, "20260102000000")
	assert.ErrorIs(t, err, ErrIncompleteRun)
	_, err = r.Manifest(ctx, "20260102000000")
	assert.ErrorIs(t, err, ErrIncompleteRun)
	_, err = r.Manifest(ctx, "20250101000000")
	assert.ErrorIs(t, err, ErrNoReport)

	m, err := r.Manifest(ctx, "20260101000000")
	require.NoError(t, err)
	assert.Equal(t, "20260101000000", m.Timestamp)
	assert.EqualValues(t, 5, m.Records)
	assert.Equal(t, 2, m.Parts)
	assert.Equal(t, CodecZstd, m.Codec)
	assert.False(t, m.Finished.IsZero())
}

func TestReader_MalformedLine(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	data := []byte("1:100:A:T\tPARTIAL\t1\ngarbage\n")
	key := PartName("20260101000000", 1, 0, CodecNone)
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), ""))
	require.NoError(t, NewWriter(store, objectstore.Location{}, "20260101000000", WriterOptions{}).Finish(ctx))

	_, err := NewReader(store, objectstore.Location{}).Count(ctx, "20260101000000")
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestWriter_PublishFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("broker down")
	w := NewWriter(objectstore.NewMockStore(), objectstore.Location{}, "20260101000000", WriterOptions{Publisher: &capturePublisher{err: boom}})
	pw := w.Partition(0)
	require.NoError(t, pw.Write(ctx, records("1", 1)[0]))
	assert.ErrorIs(t, pw.Close(ctx), boom)
}

func TestWriter_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	store.PutErr = objectstore.ErrAccessDenied
	w := NewWriter(store, objectstore.Location{}, "20260101000000", WriterOptions{PartRecords: 1})
	err := w.Partition(0).Write(ctx, records("1", 1)[0])
	assert.ErrorIs(t, err, objectstore.ErrAccessDenied)
}

func TestExportParquet(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	loc := objectstore.Location{}
	input := records("7", 9)
	writeRun(t, store, loc, "20260101000000", WriterOptions{Codec: CodecZstd}, map[int][]Record{0: input})

	stats, err := ExportParquet(ctx, NewReader(store, loc), "20260101000000", store, ParquetName("20260101000000"))
	require.NoError(t, err)
	assert.EqualValues(t, 9, stats.RecordCount)

	rc, err := store.Get(ctx, stats.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()

	rows, err := parquet.Read[ParquetRecord](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, rows, 9)
	assert.Equal(t, "7:1:A:T", rows[0].Variant)
	assert.Equal(t, "FULL", rows[0].Type)
	assert.Equal(t, []int32{1, 2}, rows[0].Studies)
	assert.EqualValues(t, 9, rows[8].Position)
}

func TestKafkaRecords(t *testing.T) {
	recs := kafkaRecords("prune", records("1", 2))
	require.Len(t, recs, 2)
	assert.Equal(t, "prune", recs[0].Topic)
	assert.Equal(t, "1:1:A:T", string(recs[0].Key))
	assert.Equal(t, "1:1:A:T\tFULL\t1,2", string(recs[0].Value))
	assert.Equal(t, "PARTIAL", string(recs[1].Headers[0].Value))

	_, err := NewKafkaPublisher(context.Background(), KafkaConfig{Topic: "x"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(context.Background(), KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
