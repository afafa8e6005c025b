package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/helix-io/helix/internal/objectstore"
)

// EndpointEnv names an S3-compatible endpoint (MinIO with the default
// minioadmin credentials) for the integration tests below.
const EndpointEnv = "HELIX_S3_TEST_ENDPOINT"

// testStore returns a store on a fresh bucket that is emptied and removed
// when the test ends.
func testStore(t *testing.T, bucket string) *Store {
	t.Helper()
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		t.Skipf("%s not set", EndpointEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := New(ctx, Config{
		Bucket:          bucket,
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		objects, _ := store.List(ctx, "")
		for _, obj := range objects {
			_ = store.Delete(ctx, obj.Key)
		}
		_, _ = store.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})
	return store
}

func TestNew(t *testing.T) {
	t.Run("missing bucket", func(t *testing.T) {
		_, err := New(context.Background(), Config{})
		if err == nil {
			t.Fatal("expected error for missing bucket")
		}
		if !strings.Contains(err.Error(), "bucket name is required") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	other := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, objectstore.ErrNotFound},
		{"no such bucket", &types.NoSuchBucket{}, objectstore.ErrBucketNotFound},
		{"wrapped", fmt.Errorf("get: %w", &types.NoSuchKey{}), objectstore.ErrNotFound},
		{"unknown", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	s := &Store{bucket: "reports"}
	err := s.fail("Get", "k", &types.NoSuchKey{})
	var objErr *objectstore.ObjectError
	if !errors.As(err, &objErr) || objErr.Op != "Get" || !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("fail() = %v", err)
	}
}

func TestClosedStoreOffline(t *testing.T) {
	s := &Store{bucket: "reports"}
	s.Close()
	ctx := context.Background()
	if err := s.Put(ctx, "k", bytes.NewReader(nil), 0, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Put: got %v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Delete: got %v", err)
	}
	if _, err := s.Head(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Head: got %v", err)
	}
}

func TestPutGetReportPart(t *testing.T) {
	store := testStore(t, "test-report-part")
	ctx := context.Background()

	key := "reports/variant_prune_report.20260101000000.p00000-0000.tsv"
	data := []byte("1:100:A:T\tPARTIAL\t1\n2:200:G:C\tFULL\t1\n")

	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/tab-separated-values"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("data mismatch: got %q, want %q", got, data)
	}

	meta, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Head size = %d, want %d", meta.Size, len(data))
	}
	if meta.ContentType != "text/tab-separated-values" {
		t.Errorf("Head content type = %q", meta.ContentType)
	}
}

func TestGetAndHeadNotFound(t *testing.T) {
	store := testStore(t, "test-not-found")
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Head: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store := testStore(t, "test-delete")
	ctx := context.Background()

	if err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), 1, "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
	if _, err := store.Head(ctx, "k"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	store := testStore(t, "test-list")
	ctx := context.Background()

	keys := []string{
		"reports/b.p00001-0000.tsv",
		"reports/a.p00000-0000.tsv",
		"reports/a.p00000-0001.tsv",
		"other/c.tsv",
	}
	for _, k := range keys {
		if err := store.Put(ctx, k, bytes.NewReader([]byte(k)), int64(len(k)), "text/plain"); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	objs, err := store.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"reports/a.p00000-0000.tsv", "reports/a.p00000-0001.tsv", "reports/b.p00001-0000.tsv"}
	if len(objs) != len(want) {
		t.Fatalf("List returned %d objects, want %d", len(objs), len(want))
	}
	for i, obj := range objs {
		if obj.Key != want[i] {
			t.Errorf("object %d = %s, want %s", i, obj.Key, want[i])
		}
	}
}

func TestClosedStore(t *testing.T) {
	store := testStore(t, "test-closed")
	ctx := context.Background()
	store.Close()

	if err := store.Put(ctx, "k", bytes.NewReader(nil), 0, "text/plain"); err == nil {
		t.Error("Put on closed store succeeded")
	}
	if _, err := store.Get(ctx, "k"); err == nil {
		t.Error("Get on closed store succeeded")
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Error("List on closed store succeeded")
	}
	if err := store.EnsureBucket(ctx); err == nil {
		t.Error("EnsureBucket on closed store succeeded")
	}
}
