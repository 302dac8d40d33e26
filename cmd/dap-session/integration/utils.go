package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// findProjectRoot attempts to find the root directory of the project
func findProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err, "Failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("Could not find project root with go.mod")
			return ""
		}
		dir = parent
	}
}

// requireDlv skips the test unless delve is installed.
func requireDlv(t *testing.T) string {
	if testing.Short() {
		t.Skip("integration test")
	}
	dlv, err := exec.LookPath("dlv")
	if err != nil {
		t.Skip("dlv not found in PATH")
	}
	return dlv
}
