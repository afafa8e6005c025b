// Package report reads and writes prune reports.
//
// A report is a set of tab-separated part files, one line per prune decision:
//
//	<chrom:pos:ref:alt>\t<FULL|PARTIAL>\t<studyId,studyId,...>
//
// Study ids are ascending. Part files are named
//
//	variant_prune_report.<yyyyMMddHHmmss>.p<partition>-<seq>.tsv[.gz|.zst|.lz4|.snappy]
//
// and live in a local directory or under an s3:// prefix. A run is finished
// once its manifest, variant_prune_report.<yyyyMMddHHmmss>.manifest.yaml, is
// written; readers ignore runs without one.
package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/helix-io/helix/internal/variant"
)

// ErrMalformedRecord is returned when a report line cannot be parsed.
var ErrMalformedRecord = errors.New("report: malformed record")

// DecisionType is the kind of prune decision.
type DecisionType string

const (
	// Full removes the whole row.
	Full DecisionType = "FULL"
	// Partial removes the column groups of some studies.
	Partial DecisionType = "PARTIAL"
)

// Record is one line of a prune report.
type Record struct {
	Variant variant.Variant
	Type    DecisionType
	// Studies are the ids of the studies emptied on the variant, ascending.
	Studies []int
}

// String renders the record without the trailing newline.
func (r Record) String() string {
	return string(r.appendTo(nil))
}

func (r Record) appendTo(buf []byte) []byte {
	buf = append(buf, r.Variant.String()...)
	buf = append(buf, '\t')
	buf = append(buf, r.Type...)
	buf = append(buf, '\t')
	for i, id := range r.Studies {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(id), 10)
	}
	return buf
}

// ParseRecord parses one report line. A trailing newline is ignored.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return Record{}, fmt.Errorf("%w: expected 3 fields, got %d: %q", ErrMalformedRecord, len(fields), line)
	}

	v, err := variant.Parse(fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	typ := DecisionType(fields[1])
	if typ != Full && typ != Partial {
		return Record{}, fmt.Errorf("%w: unknown decision type %q", ErrMalformedRecord, fields[1])
	}

	if fields[2] == "" {
		return Record{}, fmt.Errorf("%w: empty study list: %q", ErrMalformedRecord, line)
	}
	parts := strings.Split(fields[2], ",")
	studies := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil || id < 0 {
			return Record{}, fmt.Errorf("%w: bad study id %q", ErrMalformedRecord, p)
		}
		if n := len(studies); n > 0 && studies[n-1] >= id {
			return Record{}, fmt.Errorf("%w: study ids not ascending: %q", ErrMalformedRecord, fields[2])
		}
		studies = append(studies, id)
	}

	return Record{Variant: v, Type: typ, Studies: studies}, nil
}
