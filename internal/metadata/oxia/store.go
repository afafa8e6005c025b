// Package oxia is the production metadata backend.
//
// Oxia orders keys by path depth before comparing bytes, so a range scan
// only behaves like a byte-ordered scan when both bounds have as many '/'
// segments as the keys they select. Every bound helix scans with comes from
// the keys package, which builds them that way.
//
//	store, err := oxia.New(ctx, oxia.Config{ServiceAddress: "oxia:6648", Namespace: "helix"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package oxia

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/helix-io/helix/internal/metadata"
)

type Config struct {
	ServiceAddress string
	Namespace      string

	// RequestTimeout bounds each client call. Zero keeps the client default.
	RequestTimeout time.Duration
}

// Store is a metadata.MetadataStore on an Oxia namespace.
type Store struct {
	client oxiaclient.SyncClient
	closed atomic.Bool
}

func New(_ context.Context, cfg Config) (*Store, error) {
	switch {
	case cfg.ServiceAddress == "":
		return nil, errors.New("oxia: service address is required")
	case cfg.Namespace == "":
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{oxiaclient.WithNamespace(cfg.Namespace)}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: connect %s: %w", cfg.ServiceAddress, err)
	}
	return &Store{client: client}, nil
}

// Oxia numbers a key's first write 0. metadata reserves 0 for "absent", so
// versions are shifted by one at the boundary.
func fromOxia(id int64) metadata.Version { return metadata.Version(id + 1) }

func toOxia(v metadata.Version) int64 { return int64(v) - 1 }

// translate maps client errors onto the metadata sentinels.
func translate(op string, err error) error {
	if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
		return metadata.ErrVersionMismatch
	}
	return fmt.Errorf("oxia: %s: %w", op, err)
}

func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if s.closed.Load() {
		return metadata.GetResult{}, metadata.ErrStoreClosed
	}
	_, value, version, err := s.client.Get(ctx, key)
	if errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return metadata.GetResult{}, nil
	}
	if err != nil {
		return metadata.GetResult{}, translate("get", err)
	}
	return metadata.GetResult{Value: value, Version: fromOxia(version.VersionId), Exists: true}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if s.closed.Load() {
		return 0, metadata.ErrStoreClosed
	}

	var putOpts []oxiaclient.PutOption
	switch cond := metadata.PutCondition(opts); {
	case !cond.Set:
	case cond.Version == 0:
		putOpts = append(putOpts, oxiaclient.ExpectedRecordNotExists())
	default:
		putOpts = append(putOpts, oxiaclient.ExpectedVersionId(toOxia(cond.Version)))
	}

	_, version, err := s.client.Put(ctx, key, value, putOpts...)
	if err != nil {
		return 0, translate("put", err)
	}
	return fromOxia(version.VersionId), nil
}

func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if s.closed.Load() {
		return metadata.ErrStoreClosed
	}

	var delOpts []oxiaclient.DeleteOption
	if cond := metadata.DeleteCondition(opts); cond.Set {
		delOpts = append(delOpts, oxiaclient.ExpectedVersionId(toOxia(cond.Version)))
	}

	err := s.client.Delete(ctx, key, delOpts...)
	if err == nil || errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return nil
	}
	return translate("delete", err)
}

func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if s.closed.Load() {
		return nil, metadata.ErrStoreClosed
	}
	if endKey == "" {
		endKey = prefixEnd(startKey)
	}

	ctx, cancel := context.WithCancel(ctx)
	results := s.client.RangeScan(ctx, startKey, endKey)

	var kvs []metadata.KV
	for r := range results {
		if r.Err != nil {
			cancel()
			go drain(results)
			return nil, translate("list", r.Err)
		}
		kvs = append(kvs, metadata.KV{Key: r.Key, Value: r.Value, Version: fromOxia(r.Version.VersionId)})
		if limit > 0 && len(kvs) == limit {
			cancel()
			go drain(results)
			return kvs, nil
		}
	}
	cancel()
	return kvs, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// prefixEnd is the exclusive upper bound of a prefix scan. A prefix ending
// in '/' selects its direct children, which Oxia closes with a second '/'.
// Otherwise the last byte below 0xff is incremented.
func prefixEnd(prefix string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// drain consumes the rest of an abandoned scan so its producer can exit.
func drain(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ metadata.MetadataStore = (*Store)(nil)
