// Package testutil holds helpers shared by the integration and e2e suites.
package testutil

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"conda-pypi/internal/types"
)

// RepoRoot returns the module root, two levels above the test package.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

// RunCLI runs the conda-pypi command from source and returns its combined
// output and exit code. Failures to start the toolchain fail the test.
func RunCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	// Build then exec the binary: `go run` masks the child's exit code as 1.
	bin := filepath.Join(t.TempDir(), "conda-pypi")
	build := exec.CommandContext(t.Context(), "go", "build", "-o", bin, "./cmd/conda-pypi")
	build.Dir = RepoRoot(t)
	build.Env = append(os.Environ(), "GO111MODULE=on")
	buildOut, buildErr := build.CombinedOutput()
	require.NoError(t, buildErr, "go build: %s", buildOut)
	cmd := exec.CommandContext(t.Context(), bin, args...)
	cmd.Dir = RepoRoot(t)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "go run: %v\n%s", err, out)
	return string(out), exitErr.ExitCode()
}

// ReadRepodata decodes <channel>/<subdir>/repodata.json.
func ReadRepodata(t *testing.T, channel string, subdir string) types.RepoData {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(channel, subdir, "repodata.json"))
	require.NoError(t, err)
	var repodata types.RepoData
	require.NoError(t, json.Unmarshal(data, &repodata))
	return repodata
}
