package variant

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnKind classifies a column of a variant row.
type ColumnKind int

const (
	KindUnknown ColumnKind = iota
	KindSample
	KindFile
	KindStats
	KindScore
	KindStudy
	KindFlag
)

func (k ColumnKind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindFile:
		return "file"
	case KindStats:
		return "stats"
	case KindScore:
		return "score"
	case KindStudy:
		return "study"
	case KindFlag:
		return "flag"
	default:
		return "unknown"
	}
}

// Column suffixes.
const (
	sampleSuffix = "_S"
	fileSuffix   = "_F"
	statsSuffix  = "_CS"
	scoreSuffix  = "_VS"
	studySuffix  = "_ST"
)

// IndexNotSyncColumn is the row-level flag marking a row whose search index
// document is stale. Flags start with '_' and belong to no study.
const IndexNotSyncColumn = "_IDX_N"

// Column is a parsed column name.
type Column struct {
	Name    string
	StudyID int
	Kind    ColumnKind
	// ID is the sample, file, cohort or score id; zero for study and flag columns.
	ID int
}

// SampleColumn returns the genotype column of a sample.
func SampleColumn(studyID, sampleID int) string {
	return fmt.Sprintf("%d_%d%s", studyID, sampleID, sampleSuffix)
}

// FileColumn returns the column holding per-file attributes.
func FileColumn(studyID, fileID int) string {
	return fmt.Sprintf("%d_%d%s", studyID, fileID, fileSuffix)
}

// StatsColumn returns the StatsSummary column of a cohort.
func StatsColumn(studyID, cohortID int) string {
	return fmt.Sprintf("%d_%d%s", studyID, cohortID, statsSuffix)
}

// ScoreColumn returns a variant score column.
func ScoreColumn(studyID, scoreID int) string {
	return fmt.Sprintf("%d_%d%s", studyID, scoreID, scoreSuffix)
}

// StudyColumn returns the study marker column.
func StudyColumn(studyID int) string {
	return fmt.Sprintf("%d%s", studyID, studySuffix)
}

// ParseColumn classifies a column name. The study id is the numeric prefix
// before the first '_'; names starting with '_' are row-level flags.
func ParseColumn(name string) Column {
	c := Column{Name: name, StudyID: -1}
	if strings.HasPrefix(name, "_") {
		c.Kind = KindFlag
		return c
	}

	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return c
	}
	studyID, err := strconv.Atoi(name[:idx])
	if err != nil || studyID < 0 {
		return c
	}
	rest := name[idx:]
	if rest == studySuffix {
		c.StudyID = studyID
		c.Kind = KindStudy
		return c
	}

	for _, s := range []struct {
		suffix string
		kind   ColumnKind
	}{
		{sampleSuffix, KindSample},
		{fileSuffix, KindFile},
		{statsSuffix, KindStats},
		{scoreSuffix, KindScore},
	} {
		if !strings.HasSuffix(rest, s.suffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(rest[1:], s.suffix))
		if err != nil {
			return c
		}
		c.StudyID = studyID
		c.Kind = s.kind
		c.ID = id
		return c
	}
	return c
}

// IsGenotypeEvidence reports whether the column carries sample or file data.
// Such columns must not survive once a study has no files left on a variant.
func (c Column) IsGenotypeEvidence() bool {
	return c.Kind == KindSample || c.Kind == KindFile
}
