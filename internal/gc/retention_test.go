package gc

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variant"
)

var testLoc = objectstore.Location{Bucket: "reports", Prefix: "prune"}

// writeRun writes a one-record report run plus a parquet placeholder.
func writeRun(t *testing.T, store objectstore.Store, ts string) {
	t.Helper()
	ctx := context.Background()
	w := report.NewWriter(store, testLoc, ts, report.WriterOptions{})
	pw := w.Partition(0)
	rec := report.Record{Variant: variant.New("1", 100, "A", "T"), Type: report.Full, Studies: []int{1}}
	if err := pw.Write(ctx, rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := pw.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	body := []byte("PAR1")
	if err := store.Put(ctx, testLoc.Join(report.ParquetName(ts)), bytes.NewReader(body), int64(len(body)), "application/octet-stream"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

// writeUnfinishedRun writes the part of a run whose prune failed before
// the report was finished.
func writeUnfinishedRun(t *testing.T, store objectstore.Store, ts string) {
	t.Helper()
	ctx := context.Background()
	pw := report.NewWriter(store, testLoc, ts, report.WriterOptions{}).Partition(3)
	rec := report.Record{Variant: variant.New("2", 200, "G", "C"), Type: report.Partial, Studies: []int{2}}
	if err := pw.Write(ctx, rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := pw.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func incompleteOf(t *testing.T, store objectstore.Store) []string {
	t.Helper()
	runs, err := report.NewReader(store, testLoc).Incomplete(context.Background())
	if err != nil {
		t.Fatalf("Incomplete failed: %v", err)
	}
	return runs
}

func runsOf(t *testing.T, store objectstore.Store) []string {
	t.Helper()
	runs, err := report.NewReader(store, testLoc).Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	return runs
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(report.TimestampLayout, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestRetention_KeepRuns(t *testing.T) {
	store := objectstore.NewMockStore()
	for _, ts := range []string{"20260101000000", "20260102000000", "20260103000000", "20260104000000"} {
		writeRun(t, store, ts)
	}

	res, err := NewRetention(store, testLoc, RetentionConfig{KeepRuns: 2}).Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if want := []string{"20260101000000", "20260102000000"}; !reflect.DeepEqual(res.Deleted, want) {
		t.Errorf("deleted = %v, want %v", res.Deleted, want)
	}
	if res.Runs != 4 {
		t.Errorf("runs = %d, want 4", res.Runs)
	}
	// One part, one manifest and one parquet file per run.
	if res.Objects != 6 {
		t.Errorf("objects = %d, want 6", res.Objects)
	}
	if res.Bytes <= 0 {
		t.Errorf("bytes = %d, want positive", res.Bytes)
	}

	if got, want := runsOf(t, store), []string{"20260103000000", "20260104000000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("remaining runs = %v, want %v", got, want)
	}
	if _, err := store.Head(context.Background(), testLoc.Join(report.ParquetName("20260101000000"))); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("parquet export of a deleted run should be gone, got %v", err)
	}
}

func TestRetention_MaxAge(t *testing.T) {
	store := objectstore.NewMockStore()
	for _, ts := range []string{"20260101000000", "20260110000000", "20260120000000"} {
		writeRun(t, store, ts)
	}

	r := NewRetention(store, testLoc, RetentionConfig{KeepRuns: 1, MaxAge: 14 * 24 * time.Hour}).
		WithClock(fixedClock("20260121000000"))
	res, err := r.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	// 20260110 is beyond KeepRuns but younger than MaxAge.
	if want := []string{"20260101000000"}; !reflect.DeepEqual(res.Deleted, want) {
		t.Errorf("deleted = %v, want %v", res.Deleted, want)
	}
}

func TestRetention_NeverDeletesLatest(t *testing.T) {
	store := objectstore.NewMockStore()
	writeRun(t, store, "20200101000000")

	r := NewRetention(store, testLoc, RetentionConfig{KeepRuns: 0, MaxAge: time.Hour}).
		WithClock(fixedClock("20260101000000"))
	res, err := r.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("deleted = %v, the only run must survive", res.Deleted)
	}
}

func TestRetention_EmptyLocation(t *testing.T) {
	res, err := NewRetention(objectstore.NewMockStore(), testLoc, RetentionConfig{KeepRuns: 3}).Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if res.Runs != 0 || len(res.Deleted) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}

type failingDeleteStore struct {
	objectstore.Store
	fail string
}

func (s *failingDeleteStore) Delete(ctx context.Context, key string) error {
	if strings.Contains(key, s.fail) {
		return errors.New("access denied")
	}
	return s.Store.Delete(ctx, key)
}

func TestRetention_SweepsAbandonedRuns(t *testing.T) {
	store := objectstore.NewMockStore()
	writeRun(t, store, "20260101000000")
	writeUnfinishedRun(t, store, "20260102000000")
	writeRun(t, store, "20260103000000")
	writeUnfinishedRun(t, store, "20260104000000")

	res, err := NewRetention(store, testLoc, RetentionConfig{KeepRuns: 5}).Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if want := []string{"20260102000000"}; !reflect.DeepEqual(res.Abandoned, want) {
		t.Errorf("abandoned = %v, want %v", res.Abandoned, want)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("deleted = %v, finished runs are within KeepRuns", res.Deleted)
	}
	if res.Runs != 2 {
		t.Errorf("runs = %d, unfinished runs must not count", res.Runs)
	}
	// Newer than the latest finished run, so possibly still being written.
	if got, want := incompleteOf(t, store), []string{"20260104000000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("remaining unfinished runs = %v, want %v", got, want)
	}
	if got, want := runsOf(t, store), []string{"20260101000000", "20260103000000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("remaining runs = %v, want %v", got, want)
	}
}

func TestRetention_DeleteFailureIsSweptNextPass(t *testing.T) {
	mock := objectstore.NewMockStore()
	for _, ts := range []string{"20260101000000", "20260102000000", "20260103000000"} {
		writeRun(t, mock, ts)
	}
	store := &failingDeleteStore{Store: mock, fail: "20260101000000.parquet"}

	res, err := NewRetention(store, testLoc, RetentionConfig{KeepRuns: 1}).Enforce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "run 20260101000000") {
		t.Fatalf("expected error naming the failed run, got %v", err)
	}
	if want := []string{"20260102000000"}; !reflect.DeepEqual(res.Deleted, want) {
		t.Errorf("deleted = %v, want %v", res.Deleted, want)
	}
	// The manifest of the failed run plus all three objects of the other.
	if res.Objects != 4 {
		t.Errorf("objects = %d, want 4", res.Objects)
	}
	if got, want := runsOf(t, mock), []string{"20260103000000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("remaining runs = %v, want %v", got, want)
	}
	if got, want := incompleteOf(t, mock), []string{"20260101000000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("unfinished runs = %v, want %v", got, want)
	}

	res, err = NewRetention(mock, testLoc, RetentionConfig{KeepRuns: 1}).Enforce(context.Background())
	if err != nil {
		t.Fatalf("second Enforce failed: %v", err)
	}
	if want := []string{"20260101000000"}; !reflect.DeepEqual(res.Abandoned, want) {
		t.Errorf("abandoned = %v, want %v", res.Abandoned, want)
	}
	if got := incompleteOf(t, mock); len(got) != 0 {
		t.Errorf("unfinished runs = %v, want none", got)
	}
}
