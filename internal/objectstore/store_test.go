package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestObjectErrorFormat(t *testing.T) {
	err := &ObjectError{
		Op:  "Get",
		Key: "reports/variant_prune_report.20260101000000.p00000-0000.tsv",
		Err: ErrNotFound,
	}
	want := `objectstore: Get "reports/variant_prune_report.20260101000000.p00000-0000.tsv": object not found`
	if got := err.Error(); got != want {
		t.Errorf("ObjectError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("ObjectError should unwrap to ErrNotFound")
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in         string
		bucket     string
		prefix     string
		join       string
		listPrefix string
	}{
		{"/tmp/out", "", "/tmp/out", "a.tsv", ""},
		{"s3://bucket", "bucket", "", "a.tsv", ""},
		{"s3://bucket/", "bucket", "", "a.tsv", ""},
		{"s3://bucket/reports/prune/", "bucket", "reports/prune", "reports/prune/a.tsv", "reports/prune/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			loc, err := ParseLocation(tt.in)
			if err != nil {
				t.Fatalf("ParseLocation failed: %v", err)
			}
			if loc.Bucket != tt.bucket || loc.Prefix != tt.prefix {
				t.Errorf("got %+v", loc)
			}
			if got := loc.Join("a.tsv"); got != tt.join {
				t.Errorf("Join = %q, want %q", got, tt.join)
			}
			if got := loc.KeyPrefix(); got != tt.listPrefix {
				t.Errorf("KeyPrefix = %q, want %q", got, tt.listPrefix)
			}
		})
	}

	for _, bad := range []string{"", "s3://", "s3:///x"} {
		if _, err := ParseLocation(bad); err == nil {
			t.Errorf("ParseLocation(%q) succeeded", bad)
		}
	}
}

type recorded struct {
	op      string
	success bool
	bytes   int64
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recorded
}

func (f *fakeRecorder) RecordObjectOperation(op string, _ float64, success bool, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recorded{op, success, bytes})
}

func TestInstrumentedStore(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	s := NewInstrumentedStore(NewMockStore(), rec)

	data := []byte("1:100:A:T\tPARTIAL\t1\n")
	if err := s.Put(ctx, "r.tsv", bytes.NewReader(data), int64(len(data)), "text/tab-separated-values"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	rc, err := s.Get(ctx, "r.tsv")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := io.Copy(io.Discard, rc); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	rc.Close()
	rc.Close()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.List(ctx, ""); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []recorded{
		{OpPut, true, int64(len(data))},
		{OpGet, true, int64(len(data))},
		{OpGet, false, 0},
		{OpList, true, 0},
	}
	if len(rec.ops) != len(want) {
		t.Fatalf("recorded %d ops, want %d: %+v", len(rec.ops), len(want), rec.ops)
	}
	for i := range want {
		if rec.ops[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, rec.ops[i], want[i])
		}
	}
}

func TestMockStore_PutErr(t *testing.T) {
	s := NewMockStore()
	s.PutErr = ErrAccessDenied
	err := s.Put(context.Background(), "k", strings.NewReader("x"), 1, "")
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}
