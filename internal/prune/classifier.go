// Package prune removes the data of emptied studies from the variant table.
//
// A prune run classifies every variant row by the studies whose default
// cohort statistics report no contributing file:
//
//	no empty study        SKIP     row untouched, nothing reported
//	every study empty     FULL     row deleted, variant queued for index removal
//	some studies empty    PARTIAL  column groups of the empty studies deleted,
//	                               row flagged out of sync with the search index
//
// Every decision is written to a report before the row is mutated. A dry run
// writes the same report against a read-only view of the table and then
// samples the report back against the live rows.
package prune

import (
	"github.com/helix-io/helix/internal/catalog"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variant"
	"github.com/helix-io/helix/internal/variantstore"
)

// Decision is the outcome of classifying one row. A zero Type means SKIP.
type Decision struct {
	Variant variant.Variant
	Type    report.DecisionType
	// Studies are the emptied studies, ascending.
	Studies []int
	// Columns are the columns a PARTIAL decision removes.
	Columns []string
}

// Skip reports whether the row is left alone.
func (d Decision) Skip() bool {
	return d.Type == ""
}

// Label returns the decision type, SKIP included.
func (d Decision) Label() string {
	if d.Skip() {
		return "SKIP"
	}
	return string(d.Type)
}

// Record returns the report line of the decision.
func (d Decision) Record() report.Record {
	return report.Record{Variant: d.Variant, Type: d.Type, Studies: d.Studies}
}

// Mutation returns the row change that applies the decision.
func (d Decision) Mutation() variantstore.Mutation {
	if d.Type == report.Full {
		return variantstore.Mutation{Variant: d.Variant, DeleteRow: true}
	}
	return variantstore.Mutation{
		Variant:       d.Variant,
		DeleteColumns: d.Columns,
		SetColumns:    map[string][]byte{variant.IndexNotSyncColumn: {}},
	}
}

// Classifier decides the fate of rows. It holds the default cohort of every
// study known when the run started and is safe for concurrent use.
type Classifier struct {
	defaultCohorts map[int]int
}

// NewClassifier builds a classifier from the catalog studies.
func NewClassifier(studies []catalog.Study) *Classifier {
	c := &Classifier{defaultCohorts: make(map[int]int, len(studies))}
	for _, s := range studies {
		c.defaultCohorts[s.ID] = s.DefaultCohort
	}
	return c
}

// empty reports whether a study has no file left on the row. Missing stats
// and studies unknown to the catalog are never empty.
func (c *Classifier) empty(row variant.Row, studyID int) (bool, error) {
	cohort, ok := c.defaultCohorts[studyID]
	if !ok {
		return false, nil
	}
	stats, ok, err := row.Stats(studyID, cohort)
	if err != nil || !ok {
		return false, err
	}
	return stats.FileCount == 0, nil
}

// Classify returns the decision for row. It fails only on undecodable stats.
func (c *Classifier) Classify(row variant.Row) (Decision, error) {
	d := Decision{Variant: row.Variant}
	studies := row.Studies()
	for _, id := range studies {
		empty, err := c.empty(row, id)
		if err != nil {
			return Decision{}, err
		}
		if empty {
			d.Studies = append(d.Studies, id)
		}
	}

	switch {
	case len(d.Studies) == 0:
		return d, nil
	case len(d.Studies) == len(studies):
		d.Type = report.Full
	default:
		d.Type = report.Partial
		for _, id := range d.Studies {
			d.Columns = append(d.Columns, row.StudyColumns(id)...)
		}
	}
	return d, nil
}
