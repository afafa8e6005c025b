package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// ExternalAddrEnv points integration tests at a running Oxia instead of an
// embedded one.
const ExternalAddrEnv = "HELIX_OXIA_SERVICE_ADDRESS"

// TestServer is an Oxia endpoint for integration tests.
type TestServer struct {
	addr string
}

func (s *TestServer) Addr() string { return s.addr }

// StartTestServer returns the server named by ExternalAddrEnv, or starts a
// standalone Oxia in a temp dir that is torn down with the test.
func StartTestServer(t testing.TB) *TestServer {
	t.Helper()

	if addr := os.Getenv(ExternalAddrEnv); addr != "" {
		t.Logf("oxia: using external server %s", addr)
		return &TestServer{addr: addr}
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("oxia: start standalone: %v", err)
	}
	t.Cleanup(func() {
		if err := standalone.Close(); err != nil {
			t.Logf("oxia: close standalone: %v", err)
		}
	})
	return &TestServer{addr: standalone.ServiceAddr()}
}
