package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/helix-io/helix/internal/objectstore"
)

const defaultPartRecords = 100000

// Publisher mirrors report records to another system as parts are written.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// WriterOptions configure a report Writer.
type WriterOptions struct {
	Codec Codec
	// PartRecords is the number of records after which a partition rolls to
	// a new part file.
	PartRecords int
	// Publisher, when set, receives every record of every flushed part.
	Publisher Publisher
}

// Writer writes the parts of one report run. Each scan partition gets its own
// PartitionWriter; the Writer itself only tracks the written parts and is
// safe for concurrent use.
type Writer struct {
	store objectstore.Store
	loc   objectstore.Location
	ts    string
	opts  WriterOptions

	mu    sync.Mutex
	parts []Part
	count int64
}

// NewWriter creates the writer for run ts at loc.
func NewWriter(store objectstore.Store, loc objectstore.Location, ts string, opts WriterOptions) *Writer {
	if opts.Codec == "" {
		opts.Codec = CodecNone
	}
	if opts.PartRecords <= 0 {
		opts.PartRecords = defaultPartRecords
	}
	return &Writer{store: store, loc: loc, ts: ts, opts: opts}
}

// Timestamp returns the run timestamp.
func (w *Writer) Timestamp() string {
	return w.ts
}

// Partition returns the writer of one scan partition. A partition writer must
// be used by a single goroutine and closed when the partition completes.
func (w *Writer) Partition(id int) *PartitionWriter {
	return &PartitionWriter{w: w, partition: id}
}

// Parts returns the flushed parts in partition and sequence order.
func (w *Writer) Parts() []Part {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := append([]Part(nil), w.parts...)
	sortParts(parts)
	return parts
}

// Finish completes the run: a run without any record gets one empty part,
// then the manifest is written. Readers only list runs with a manifest, so
// Finish must only be called once every partition closed cleanly.
func (w *Writer) Finish(ctx context.Context) error {
	w.mu.Lock()
	empty := len(w.parts) == 0
	w.mu.Unlock()
	if empty {
		if err := w.Partition(0).flush(ctx, true); err != nil {
			return err
		}
	}

	w.mu.Lock()
	m := Manifest{
		Timestamp: w.ts,
		Records:   w.count,
		Parts:     len(w.parts),
		Codec:     w.opts.Codec,
		Finished:  time.Now().UTC(),
	}
	w.mu.Unlock()
	return putManifest(ctx, w.store, w.loc.Join(ManifestName(w.ts)), m)
}

func (w *Writer) put(ctx context.Context, part Part, data []byte, records []Record) error {
	if err := w.store.Put(ctx, part.Key, bytes.NewReader(data), int64(len(data)), part.Codec.ContentType()); err != nil {
		return fmt.Errorf("report: write %s: %w", part.Key, err)
	}
	if w.opts.Publisher != nil && len(records) > 0 {
		if err := w.opts.Publisher.Publish(ctx, records); err != nil {
			return fmt.Errorf("report: publish %s: %w", part.Key, err)
		}
	}

	w.mu.Lock()
	w.parts = append(w.parts, part)
	w.count += int64(len(records))
	w.mu.Unlock()
	return nil
}

// PartitionWriter buffers and compresses the records of one partition and
// writes them out as rolling part files.
type PartitionWriter struct {
	w         *Writer
	partition int
	seq       int

	buf     bytes.Buffer
	enc     io.WriteCloser
	line    []byte
	records []Record
}

// Write appends a record, flushing the current part once it is full.
func (p *PartitionWriter) Write(ctx context.Context, rec Record) error {
	if p.enc == nil {
		enc, err := p.w.opts.Codec.NewCompressor(&p.buf)
		if err != nil {
			return err
		}
		p.enc = enc
	}

	p.line = rec.appendTo(p.line[:0])
	p.line = append(p.line, '\n')
	if _, err := p.enc.Write(p.line); err != nil {
		return fmt.Errorf("report: encode record: %w", err)
	}
	p.records = append(p.records, rec)

	if len(p.records) >= p.w.opts.PartRecords {
		return p.flush(ctx, false)
	}
	return nil
}

// Close flushes any buffered records.
func (p *PartitionWriter) Close(ctx context.Context) error {
	if len(p.records) == 0 {
		return nil
	}
	return p.flush(ctx, false)
}

func (p *PartitionWriter) flush(ctx context.Context, allowEmpty bool) error {
	if len(p.records) == 0 && !allowEmpty {
		return nil
	}
	if p.enc == nil {
		enc, err := p.w.opts.Codec.NewCompressor(&p.buf)
		if err != nil {
			return err
		}
		p.enc = enc
	}
	if err := p.enc.Close(); err != nil {
		return fmt.Errorf("report: finish part: %w", err)
	}

	name := PartName(p.w.ts, p.partition, p.seq, p.w.opts.Codec)
	part := Part{
		Key:       p.w.loc.Join(name),
		Timestamp: p.w.ts,
		Partition: p.partition,
		Seq:       p.seq,
		Codec:     p.w.opts.Codec,
		Size:      int64(p.buf.Len()),
	}
	if err := p.w.put(ctx, part, p.buf.Bytes(), p.records); err != nil {
		return err
	}

	p.seq++
	p.buf.Reset()
	p.enc = nil
	p.records = p.records[:0]
	return nil
}

func sortParts(parts []Part) {
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Partition != parts[j].Partition {
			return parts[i].Partition < parts[j].Partition
		}
		return parts[i].Seq < parts[j].Seq
	})
}
