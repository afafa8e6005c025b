// Package catalog tracks studies, their cohorts and statistics status, and the
// per-study operation tasks that serialize destructive operations.
//
// Records are JSON documents in the metadata store:
//
//	/helix/v1/studies/<studyIdZ>            Study
//	/helix/v1/tasks/<studyIdZ>/<operation>  Task
//
// Every update is a compare-and-set against the record version.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/keys"
)

var (
	// ErrStudyNotFound is returned when a study does not exist.
	ErrStudyNotFound = errors.New("catalog: study not found")

	// ErrCohortNotFound is returned when a cohort does not exist in its study.
	ErrCohortNotFound = errors.New("catalog: cohort not found")

	// ErrInvalidStudy is returned for a study record that cannot be stored.
	ErrInvalidStudy = errors.New("catalog: invalid study")

	// ErrConcurrentModification is returned when a record was modified by another process.
	ErrConcurrentModification = errors.New("catalog: concurrent modification")
)

// StatsStatus is the freshness of a cohort's variant statistics.
type StatsStatus string

const (
	StatsReady   StatsStatus = "READY"
	StatsInvalid StatsStatus = "INVALID"
	StatsNone    StatsStatus = "NONE"
)

// Cohort is a named set of samples with its own StatsSummary column.
type Cohort struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	StatsStatus StatsStatus `json:"statsStatus"`
}

// Study is the catalog record of one study.
type Study struct {
	ID   int    `json:"id"`
	Name string `json:"name"`

	// IndexedFiles are the ids of the files currently loaded into the variant table.
	IndexedFiles []int `json:"indexedFiles,omitempty"`

	// DefaultCohort is the id of the "all samples" cohort.
	DefaultCohort int      `json:"defaultCohort"`
	Cohorts       []Cohort `json:"cohorts,omitempty"`
}

// HasIndexedFiles reports whether the study has any file loaded.
func (s Study) HasIndexedFiles() bool {
	return len(s.IndexedFiles) > 0
}

// Cohort returns the cohort with the given id.
func (s Study) Cohort(id int) (Cohort, bool) {
	for _, c := range s.Cohorts {
		if c.ID == id {
			return c, true
		}
	}
	return Cohort{}, false
}

// DefaultCohortStatus returns the stats status of the default cohort, or
// StatsNone if the study has no such cohort.
func (s Study) DefaultCohortStatus() StatsStatus {
	c, ok := s.Cohort(s.DefaultCohort)
	if !ok || c.StatsStatus == "" {
		return StatsNone
	}
	return c.StatsStatus
}

func (s Study) validate() error {
	if s.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidStudy, s.ID)
	}
	seen := make(map[int]struct{}, len(s.Cohorts))
	for _, c := range s.Cohorts {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: study %d: duplicate cohort %d", ErrInvalidStudy, s.ID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// Manager reads and updates catalog records.
type Manager struct {
	meta metadata.MetadataStore
}

// NewManager creates a catalog manager.
func NewManager(meta metadata.MetadataStore) *Manager {
	return &Manager{meta: meta}
}

// PutStudy creates or replaces a study record.
func (m *Manager) PutStudy(ctx context.Context, study Study) error {
	if err := study.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(study)
	if err != nil {
		return fmt.Errorf("catalog: marshal study: %w", err)
	}
	if _, err := m.meta.Put(ctx, keys.StudyKeyPath(study.ID), data); err != nil {
		return fmt.Errorf("catalog: put study %d: %w", study.ID, err)
	}
	return nil
}

// GetStudy returns one study.
func (m *Manager) GetStudy(ctx context.Context, studyID int) (Study, error) {
	study, _, err := m.getStudy(ctx, studyID)
	return study, err
}

func (m *Manager) getStudy(ctx context.Context, studyID int) (Study, metadata.Version, error) {
	result, err := m.meta.Get(ctx, keys.StudyKeyPath(studyID))
	if err != nil {
		return Study{}, 0, fmt.Errorf("catalog: get study %d: %w", studyID, err)
	}
	if !result.Exists {
		return Study{}, 0, fmt.Errorf("%w: %d", ErrStudyNotFound, studyID)
	}
	var study Study
	if err := json.Unmarshal(result.Value, &study); err != nil {
		return Study{}, 0, fmt.Errorf("catalog: unmarshal study %d: %w", studyID, err)
	}
	return study, result.Version, nil
}

// ListStudies returns every study ordered by id.
func (m *Manager) ListStudies(ctx context.Context) ([]Study, error) {
	kvs, err := m.meta.List(ctx, keys.StudiesListPrefix(), "", 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: list studies: %w", err)
	}
	studies := make([]Study, 0, len(kvs))
	for _, kv := range kvs {
		var study Study
		if err := json.Unmarshal(kv.Value, &study); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal %s: %w", kv.Key, err)
		}
		studies = append(studies, study)
	}
	return studies, nil
}

// SetCohortStatsStatus updates the stats status of one cohort.
func (m *Manager) SetCohortStatsStatus(ctx context.Context, studyID, cohortID int, status StatsStatus) error {
	study, version, err := m.getStudy(ctx, studyID)
	if err != nil {
		return err
	}
	found := false
	for i := range study.Cohorts {
		if study.Cohorts[i].ID == cohortID {
			study.Cohorts[i].StatsStatus = status
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: study %d cohort %d", ErrCohortNotFound, studyID, cohortID)
	}

	data, err := json.Marshal(study)
	if err != nil {
		return fmt.Errorf("catalog: marshal study: %w", err)
	}
	if _, err := m.meta.Put(ctx, keys.StudyKeyPath(studyID), data, metadata.WithExpectedVersion(version)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("catalog: put study %d: %w", studyID, err)
	}
	return nil
}
