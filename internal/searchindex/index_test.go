package searchindex

import (
	"context"
	"errors"
	"testing"

	"github.com/helix-io/helix/internal/variant"
)

func TestDocumentFromRow(t *testing.T) {
	row := variant.NewRow(variant.New("1", 100, "A", "-"))
	row.Set(variant.SampleColumn(3, 1), []byte{1})
	row.Set(variant.FileColumn(1, 7), []byte{1})
	row.Set(variant.IndexNotSyncColumn, nil)

	doc := DocumentFromRow(row)
	if doc.ID != "1:100:A:-" {
		t.Errorf("id = %q", doc.ID)
	}
	if doc.Alternate != "" {
		t.Errorf("alternate = %q, want empty", doc.Alternate)
	}
	if len(doc.Studies) != 2 || doc.Studies[0] != 1 || doc.Studies[1] != 3 {
		t.Errorf("studies = %v, want [1 3]", doc.Studies)
	}
}

func TestMockIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMockIndex()

	if err := m.Update(ctx, []Document{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := m.Delete(ctx, []string{"a", "missing"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := m.Doc("a"); ok {
		t.Error("a still indexed")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	m.FailNextDeletes(1)
	if err := m.Delete(ctx, []string{"b"}); !errors.Is(err, ErrInjected) {
		t.Errorf("Delete() error = %v, want ErrInjected", err)
	}
	if err := m.Delete(ctx, []string{"b"}); err != nil {
		t.Errorf("Delete() after injected failure error = %v", err)
	}

	m.SetReachable(false)
	if m.Reachable(ctx) {
		t.Error("Reachable() = true after SetReachable(false)")
	}
	if d, u := m.Calls(); d != 3 || u != 1 {
		t.Errorf("Calls() = %d, %d", d, u)
	}
}
