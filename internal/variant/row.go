package variant

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// StatsSummary holds the aggregate statistics of one cohort on one variant.
type StatsSummary struct {
	// FileCount is the number of files of the study contributing genotype
	// evidence to the variant. Zero means the study has nothing left here.
	FileCount      int     `msgpack:"fileCount"`
	SampleCount    int     `msgpack:"sampleCount"`
	AlleleCount    int     `msgpack:"alleleCount"`
	AltAlleleCount int     `msgpack:"altAlleleCount"`
	AltAlleleFreq  float64 `msgpack:"altAlleleFreq"`
	MafAllele      string  `msgpack:"mafAllele,omitempty"`
	Maf            float64 `msgpack:"maf"`
}

// EncodeStats serializes a StatsSummary column value.
func EncodeStats(s StatsSummary) ([]byte, error) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("variant: encode stats: %w", err)
	}
	return data, nil
}

// DecodeStats parses a StatsSummary column value.
func DecodeStats(data []byte) (StatsSummary, error) {
	var s StatsSummary
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return StatsSummary{}, fmt.Errorf("variant: decode stats: %w", err)
	}
	return s, nil
}

// Row is one variant row: the variant identity plus its columns.
type Row struct {
	Variant Variant
	Columns map[string][]byte
}

// NewRow returns an empty row for v.
func NewRow(v Variant) Row {
	return Row{Variant: v, Columns: make(map[string][]byte)}
}

// Set stores a column value.
func (r Row) Set(column string, value []byte) {
	r.Columns[column] = value
}

// SetStats stores a StatsSummary column.
func (r Row) SetStats(studyID, cohortID int, s StatsSummary) error {
	data, err := EncodeStats(s)
	if err != nil {
		return err
	}
	r.Columns[StatsColumn(studyID, cohortID)] = data
	return nil
}

// Studies returns the ids of all studies with at least one column on the row,
// in ascending order.
func (r Row) Studies() []int {
	seen := make(map[int]struct{})
	for name := range r.Columns {
		c := ParseColumn(name)
		if c.StudyID >= 0 {
			seen[c.StudyID] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// StudyColumns returns the names of every column of a study, sorted.
func (r Row) StudyColumns(studyID int) []string {
	var names []string
	for name := range r.Columns {
		if ParseColumn(name).StudyID == studyID {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats returns the StatsSummary of a cohort, if present.
func (r Row) Stats(studyID, cohortID int) (StatsSummary, bool, error) {
	data, ok := r.Columns[StatsColumn(studyID, cohortID)]
	if !ok {
		return StatsSummary{}, false, nil
	}
	s, err := DecodeStats(data)
	if err != nil {
		return StatsSummary{}, false, fmt.Errorf("variant %s study %d cohort %d: %w", r.Variant, studyID, cohortID, err)
	}
	return s, true, nil
}

// HasColumn reports whether the row carries the named column.
func (r Row) HasColumn(name string) bool {
	_, ok := r.Columns[name]
	return ok
}

// Filter returns a copy of the row holding only the columns of the given studies.
func (r Row) Filter(studyIDs []int) Row {
	keep := make(map[int]struct{}, len(studyIDs))
	for _, id := range studyIDs {
		keep[id] = struct{}{}
	}
	out := NewRow(r.Variant)
	for name, value := range r.Columns {
		if _, ok := keep[ParseColumn(name).StudyID]; ok {
			out.Columns[name] = value
		}
	}
	return out
}

// EncodeColumns serializes the column map of a row.
func EncodeColumns(columns map[string][]byte) ([]byte, error) {
	data, err := msgpack.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("variant: encode row: %w", err)
	}
	return data, nil
}

// DecodeColumns parses a serialized column map.
func DecodeColumns(data []byte) (map[string][]byte, error) {
	columns := make(map[string][]byte)
	if len(data) == 0 {
		return columns, nil
	}
	if err := msgpack.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("variant: decode row: %w", err)
	}
	return columns, nil
}
