package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewServer(t *testing.T) {
	s := NewServer(":0")
	if s.addr != ":0" {
		t.Errorf("addr = %q, want %q", s.addr, ":0")
	}
	if s.Addr() != ":0" {
		t.Errorf("Addr() before Start = %q, want %q", s.Addr(), ":0")
	}
}

func get(t *testing.T, url string) (int, string, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func TestServerWithCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPruneMetricsWithRegistry(reg)
	m.RecordDecision("FULL")
	m.RecordPartition(true)
	m.RecordPartition(false)

	s := NewServerWithRegistry("127.0.0.1:0", reg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	status, contentType, body := get(t, "http://"+s.Addr()+"/metrics")
	if status != http.StatusOK {
		t.Errorf("status = %d, want %d", status, http.StatusOK)
	}
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("Content-Type = %q, expected text/plain", contentType)
	}
	for _, want := range []string{
		`helix_prune_decisions_total{type="FULL"} 1`,
		`helix_prune_partitions_total{status="success"} 1`,
		`helix_prune_partitions_total{status="failure"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}

func TestServer_Healthz(t *testing.T) {
	s := NewServerWithRegistry("127.0.0.1:0", prometheus.NewRegistry())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	status, _, body := get(t, "http://"+s.Addr()+"/healthz")
	if status != http.StatusOK || body != "ok\n" {
		t.Errorf("healthz = %d %q", status, body)
	}
}

func TestServer_Close(t *testing.T) {
	s := NewServerWithRegistry("127.0.0.1:0", prometheus.NewRegistry())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := s.Addr()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := http.Get("http://" + addr + "/metrics"); err == nil {
		t.Error("expected error after server close")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := NewServer(":0")
	if err := s.Close(); err != nil {
		t.Errorf("Close on unstarted server returned error: %v", err)
	}
}
