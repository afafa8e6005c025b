package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/helix-io/helix/internal/metadata"
)

func TestStudy_DefaultCohortStatus(t *testing.T) {
	tests := []struct {
		name  string
		study Study
		want  StatsStatus
	}{
		{"ready", Study{DefaultCohort: 0, Cohorts: []Cohort{{ID: 0, StatsStatus: StatsReady}}}, StatsReady},
		{"invalid", Study{DefaultCohort: 2, Cohorts: []Cohort{{ID: 0, StatsStatus: StatsReady}, {ID: 2, StatsStatus: StatsInvalid}}}, StatsInvalid},
		{"missing cohort", Study{DefaultCohort: 5}, StatsNone},
		{"empty status", Study{Cohorts: []Cohort{{ID: 0}}}, StatsNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.study.DefaultCohortStatus(); got != tt.want {
				t.Errorf("DefaultCohortStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestManager_Studies(t *testing.T) {
	ctx := context.Background()
	m := NewManager(metadata.NewMockStore())

	for _, s := range []Study{
		{ID: 2, Name: "b", IndexedFiles: []int{1}, Cohorts: []Cohort{{ID: 0, Name: "ALL", StatsStatus: StatsReady}}},
		{ID: 1, Name: "a", Cohorts: []Cohort{{ID: 0, Name: "ALL", StatsStatus: StatsNone}}},
	} {
		if err := m.PutStudy(ctx, s); err != nil {
			t.Fatalf("PutStudy failed: %v", err)
		}
	}

	studies, err := m.ListStudies(ctx)
	if err != nil {
		t.Fatalf("ListStudies failed: %v", err)
	}
	if len(studies) != 2 || studies[0].ID != 1 || studies[1].ID != 2 {
		t.Fatalf("unexpected studies %+v", studies)
	}
	if studies[0].HasIndexedFiles() || !studies[1].HasIndexedFiles() {
		t.Error("HasIndexedFiles mismatch")
	}

	if err := m.SetCohortStatsStatus(ctx, 2, 0, StatsInvalid); err != nil {
		t.Fatalf("SetCohortStatsStatus failed: %v", err)
	}
	study, err := m.GetStudy(ctx, 2)
	if err != nil {
		t.Fatalf("GetStudy failed: %v", err)
	}
	if study.DefaultCohortStatus() != StatsInvalid {
		t.Errorf("expected INVALID, got %s", study.DefaultCohortStatus())
	}

	if err := m.SetCohortStatsStatus(ctx, 2, 9, StatsReady); !errors.Is(err, ErrCohortNotFound) {
		t.Errorf("expected ErrCohortNotFound, got %v", err)
	}
	if _, err := m.GetStudy(ctx, 7); !errors.Is(err, ErrStudyNotFound) {
		t.Errorf("expected ErrStudyNotFound, got %v", err)
	}
}

func TestManager_PutStudyInvalid(t *testing.T) {
	m := NewManager(metadata.NewMockStore())
	err := m.PutStudy(context.Background(), Study{ID: 1, Cohorts: []Cohort{{ID: 0}, {ID: 0}}})
	if !errors.Is(err, ErrInvalidStudy) {
		t.Errorf("expected ErrInvalidStudy, got %v", err)
	}
}
