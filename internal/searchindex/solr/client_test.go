package solr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-io/helix/internal/searchindex"
)

type fakeSolr struct {
	mu       sync.Mutex
	bodies   []string
	failures int32
	status   int
	calls    atomic.Int32
}

func (f *fakeSolr) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/solr/variants/update", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, "true", r.URL.Query().Get("commit"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		f.bodies = append(f.bodies, string(body))
		w.Write([]byte(`{"responseHeader":{"status":0}}`))
	})
	mux.HandleFunc("/solr/variants/admin/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK"}`))
	})
	return mux
}

func newClient(t *testing.T, f *fakeSolr) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/solr/", Collection: "variants", MaxRetries: 3, RetryInterval: time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestDelete(t *testing.T) {
	f := &fakeSolr{}
	c := newClient(t, f)

	require.NoError(t, c.Delete(context.Background(), []string{"2:200:G:C", "3:1:-:A"}))
	require.Len(t, f.bodies, 1)

	var body map[string][]string
	require.NoError(t, json.Unmarshal([]byte(f.bodies[0]), &body))
	assert.Equal(t, []string{"2:200:G:C", "3:1:-:A"}, body["delete"])

	require.NoError(t, c.Delete(context.Background(), nil))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestUpdate(t *testing.T) {
	f := &fakeSolr{}
	c := newClient(t, f)

	docs := []searchindex.Document{{ID: "1:100:A:T", Chromosome: "1", Position: 100, Reference: "A", Alternate: "T", Studies: []int{2}}}
	require.NoError(t, c.Update(context.Background(), docs))
	require.Len(t, f.bodies, 1)

	var got []searchindex.Document
	require.NoError(t, json.Unmarshal([]byte(f.bodies[0]), &got))
	assert.Equal(t, docs, got)
}

func TestRetriesServerErrors(t *testing.T) {
	f := &fakeSolr{failures: 2}
	c := newClient(t, f)

	require.NoError(t, c.Delete(context.Background(), []string{"1:1:A:C"}))
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	f := &fakeSolr{failures: 100}
	c := newClient(t, f)

	err := c.Delete(context.Background(), []string{"1:1:A:C"})
	require.Error(t, err)
	assert.EqualValues(t, 4, f.calls.Load())
}

func TestClientErrorsArePermanent(t *testing.T) {
	f := &fakeSolr{status: http.StatusBadRequest}
	c := newClient(t, f)

	err := c.Update(context.Background(), []searchindex.Document{{ID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestReachable(t *testing.T) {
	c := newClient(t, &fakeSolr{})
	assert.True(t, c.Reachable(context.Background()))

	down, err := New(Config{URL: "http://127.0.0.1:1/solr", Collection: "variants", Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, down.Reachable(context.Background()))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Collection: "variants"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://localhost:8983/solr"})
	assert.Error(t, err)
}
