package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/helix-io/helix/internal/objectstore"
)

// ErrNoReport is returned when a location holds no report for the requested run.
var ErrNoReport = errors.New("report: no report found")

// maxLineBytes bounds a single report line. Study lists are short, but
// symbolic alleles can be long.
const maxLineBytes = 1 << 20

// Reader discovers and reads report runs at a location.
type Reader struct {
	store objectstore.Store
	loc   objectstore.Location
}

// NewReader creates a reader for the report files at loc.
func NewReader(store objectstore.Store, loc objectstore.Location) *Reader {
	return &Reader{store: store, loc: loc}
}

// listParts lists the parts under prefix and the runs whose manifest is
// there too.
func (r *Reader) listParts(ctx context.Context, prefix string) ([]Part, map[string]struct{}, error) {
	objs, err := r.store.List(ctx, r.loc.KeyPrefix()+prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("report: list %s: %w", r.loc, err)
	}
	var parts []Part
	finished := make(map[string]struct{})
	for _, obj := range objs {
		name := path.Base(obj.Key)
		if ts, ok := ParseManifestName(name); ok {
			finished[ts] = struct{}{}
			continue
		}
		part, ok := ParsePartName(name)
		if !ok {
			continue
		}
		part.Key = obj.Key
		part.Size = obj.Size
		parts = append(parts, part)
	}
	return parts, finished, nil
}

// Runs returns the timestamps of every finished run at the location, oldest
// first.
func (r *Reader) Runs(ctx context.Context) ([]string, error) {
	runs, _, err := r.runs(ctx)
	return runs, err
}

// Incomplete returns the timestamps of runs that have parts but no manifest,
// oldest first. A run still being written is among them.
func (r *Reader) Incomplete(ctx context.Context) ([]string, error) {
	_, incomplete, err := r.runs(ctx)
	return incomplete, err
}

func (r *Reader) runs(ctx context.Context) (finished, incomplete []string, err error) {
	parts, done, err := r.listParts(ctx, FilePrefix+".")
	if err != nil {
		return nil, nil, err
	}
	for ts := range done {
		finished = append(finished, ts)
	}
	seen := make(map[string]struct{})
	for _, p := range parts {
		if _, ok := done[p.Timestamp]; ok {
			continue
		}
		if _, ok := seen[p.Timestamp]; ok {
			continue
		}
		seen[p.Timestamp] = struct{}{}
		incomplete = append(incomplete, p.Timestamp)
	}
	sort.Strings(finished)
	sort.Strings(incomplete)
	return finished, incomplete, nil
}

// Latest returns the timestamp of the most recent finished run.
func (r *Reader) Latest(ctx context.Context) (string, error) {
	runs, err := r.Runs(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("%w at %s", ErrNoReport, r.loc)
	}
	return runs[len(runs)-1], nil
}

// Parts returns the parts of run ts in partition and sequence order. A run
// without a manifest yields ErrIncompleteRun.
func (r *Reader) Parts(ctx context.Context, ts string) ([]Part, error) {
	parts, done, err := r.listParts(ctx, RunPrefix(ts))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w for run %s at %s", ErrNoReport, ts, r.loc)
	}
	if _, ok := done[ts]; !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrIncompleteRun, ts, r.loc)
	}
	sortParts(parts)
	return parts, nil
}

// Count returns the number of records of run ts.
func (r *Reader) Count(ctx context.Context, ts string) (int64, error) {
	var n int64
	err := r.Each(ctx, ts, func(Record) error {
		n++
		return nil
	})
	return n, err
}

// Each calls fn for every record of run ts, in part order. An error from fn
// stops the iteration and is returned.
func (r *Reader) Each(ctx context.Context, ts string, fn func(Record) error) error {
	parts, err := r.Parts(ctx, ts)
	if err != nil {
		return err
	}
	for _, part := range parts {
		if err := r.eachInPart(ctx, part, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) eachInPart(ctx context.Context, part Part, fn func(Record) error) error {
	rc, err := r.store.Get(ctx, part.Key)
	if err != nil {
		return fmt.Errorf("report: open %s: %w", part.Key, err)
	}
	defer rc.Close()

	dec, err := part.Codec.NewDecompressor(rc)
	if err != nil {
		return fmt.Errorf("report: %s: %w", part.Key, err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		rec, err := ParseRecord(scanner.Text())
		if err != nil {
			return fmt.Errorf("report: %s line %d: %w", part.Key, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("report: read %s: %w", part.Key, err)
	}
	return nil
}
