package oxia

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/keys"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "test"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648"},
			wantErr: "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersionShift(t *testing.T) {
	for _, id := range []int64{0, 1, 41} {
		v := fromOxia(id)
		if v != metadata.Version(id+1) {
			t.Errorf("fromOxia(%d) = %d", id, v)
		}
		if back := toOxia(v); back != id {
			t.Errorf("toOxia(fromOxia(%d)) = %d", id, back)
		}
	}
	// A create-only condition maps to Oxia's "record must not exist".
	if toOxia(0) != -1 {
		t.Errorf("toOxia(0) = %d, want -1", toOxia(0))
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{"abc", "abd"},
		{"ab\xff", "ac"},
		{"\xff\xff", ""},
		{"/helix/v1/studies/", "/helix/v1/studies//"},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.prefix); got != tt.want {
			t.Errorf("prefixEnd(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestClosedStore(t *testing.T) {
	s := &Store{}
	s.closed.Store(true)
	ctx := context.Background()

	if _, err := s.Get(ctx, "/k"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Get: got %v", err)
	}
	if _, err := s.Put(ctx, "/k", nil); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Put: got %v", err)
	}
	if err := s.Delete(ctx, "/k"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Delete: got %v", err)
	}
	if _, err := s.List(ctx, "/", "", 0); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("List: got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: got %v", err)
	}
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Oxia integration test in short mode")
	}

	server := StartTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		ServiceAddress: server.Addr(),
		Namespace:      "default",
		RequestTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIntegration_CASAndDelete(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	key := keys.StudyKeyPath(1)

	v1, err := store.Put(ctx, key, []byte("a"), metadata.WithExpectedVersion(0))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if v1 != 1 {
		t.Errorf("expected first version 1, got %d", v1)
	}

	if _, err := store.Put(ctx, key, []byte("b"), metadata.WithExpectedVersion(0)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}

	v2, err := store.Put(ctx, key, []byte("b"), metadata.WithExpectedVersion(v1))
	if err != nil {
		t.Fatalf("CAS update failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !result.Exists || string(result.Value) != "b" || result.Version != v2 {
		t.Errorf("unexpected result %+v", result)
	}

	if err := store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v1)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch on stale delete, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be idempotent, got %v", err)
	}
}

func TestIntegration_VariantRangeScan(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	for pos := uint64(100); pos < 110; pos++ {
		key := keys.VariantKeyPath("1", pos, "A", "T")
		if _, err := store.Put(ctx, key, []byte(fmt.Sprint(pos))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	// Other chromosome must not leak into the range.
	if _, err := store.Put(ctx, keys.VariantKeyPath("2", 105, "A", "T"), []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	kvs, err := store.List(ctx, keys.VariantRangeStart("1", 103), keys.VariantRangeStart("1", 107), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(kvs) != 4 {
		t.Fatalf("expected 4 rows in [103, 107), got %d", len(kvs))
	}
	if string(kvs[0].Value) != "103" || string(kvs[3].Value) != "106" {
		t.Errorf("unexpected range bounds: %s .. %s", kvs[0].Value, kvs[3].Value)
	}

	limited, err := store.List(ctx, keys.VariantRangeStart("1", 0), keys.VariantRangeEnd("1"), 3)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("expected 3 rows with limit, got %d", len(limited))
	}
}
