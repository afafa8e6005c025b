package report

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	// FilePrefix starts the name of every report file.
	FilePrefix = "variant_prune_report"

	// TimestampLayout is the layout of the run timestamp fragment.
	TimestampLayout = "20060102150405"
)

// Timestamp returns the run timestamp fragment of t in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Part identifies one part file of a report run.
type Part struct {
	Key       string
	Timestamp string
	Partition int
	Seq       int
	Codec     Codec
	Size      int64
}

// PartName returns the file name of a part.
func PartName(ts string, partition, seq int, codec Codec) string {
	return fmt.Sprintf("%s.%s.p%05d-%04d.tsv%s", FilePrefix, ts, partition, seq, codec.Extension())
}

// ParquetName returns the file name of the parquet export of a run.
func ParquetName(ts string) string {
	return fmt.Sprintf("%s.%s.parquet", FilePrefix, ts)
}

// RunPrefix returns the file name prefix shared by all parts of a run.
func RunPrefix(ts string) string {
	return FilePrefix + "." + ts + "."
}

var partPattern = regexp.MustCompile(`^variant_prune_report\.(\d{14})\.p(\d{5,})-(\d{4,})\.tsv(\.gz|\.zst|\.lz4|\.snappy)?$`)

// ParsePartName parses a part file name. The boolean is false for any other file.
func ParsePartName(name string) (Part, bool) {
	m := partPattern.FindStringSubmatch(name)
	if m == nil {
		return Part{}, false
	}
	partition, err := strconv.Atoi(m[2])
	if err != nil {
		return Part{}, false
	}
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return Part{}, false
	}
	codec, ok := codecForExtension(m[4])
	if !ok {
		return Part{}, false
	}
	return Part{Timestamp: m[1], Partition: partition, Seq: seq, Codec: codec}, true
}
