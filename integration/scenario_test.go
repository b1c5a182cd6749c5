package integration

import (
	"os"
	"testing"
)

// requireBinaries skips a scenario when the binaries under test are not
// built. The harness unit tests still run in that case.
func requireBinaries(t *testing.T) {
	t.Helper()
	for _, name := range []string{"ferry-client", "ferry-server"} {
		path := BinaryPath(name)
		if _, err := os.Stat(path); err != nil {
			t.Skipf("binary %s not available: %v", path, err)
		}
	}
}
