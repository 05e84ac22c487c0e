package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conda-pypi/internal/types"
)

func readRepodataFile(t *testing.T, path string) types.RepoData {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var repodata types.RepoData
	require.NoError(t, json.Unmarshal(data, &repodata))
	return repodata
}

func seedChannel(t *testing.T) (string, types.TargetArtifact) {
	t.Helper()
	root := t.TempDir()
	job := convertJob(t, writeDemoWheel(t, t.TempDir()))
	job.OutputDir = root
	job.ChannelLayout = true
	artifact, err := NewCondaBuildAdapter().Convert(t.Context(), job)
	require.NoError(t, err)
	writeWheel(t, filepath.Join(root, "noarch"), "extra_tool-2.0-py3-none-any.whl", map[string]string{
		"extra_tool/__init__.py": "",
		"extra_tool-2.0.dist-info/METADATA": "Metadata-Version: 2.1\nName: extra-tool\nVersion: 2.0\n" +
			"Requires-Dist: click>=8\nRequires-Dist: colorama ; sys_platform == \"win32\"\n",
		"extra_tool-2.0.dist-info/WHEEL": pureWheelInfo,
	})
	return root, artifact
}

func TestChannelIndexRegenerate(t *testing.T) {
	root, artifact := seedChannel(t)
	adapter := NewChannelIndexAdapter()

	summary, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"noarch"}, summary.Subdirs)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 0, summary.Reused)

	repodata := readRepodataFile(t, filepath.Join(root, "noarch", "repodata.json"))
	assert.Equal(t, "noarch", repodata.Info.Subdir)
	assert.Equal(t, 1, repodata.RepodataVersion)
	assert.Empty(t, repodata.Packages)
	assert.Equal(t, []string{}, repodata.Removed)

	wantConda := types.RepoRecord{
		Name:    "demo-package",
		Version: "1.0.0",
		Build:   "pypi_0",
		Depends: []string{"python >=3.8", "requests >=2.0"},
		License: "MIT",
		Noarch:  "python",
		Subdir:  "noarch",
		MD5:     artifact.MD5,
		SHA256:  artifact.SHA256,
		Size:    artifact.Size,
	}
	if diff := cmp.Diff(wantConda, repodata.PackagesConda[artifact.Filename]); diff != "" {
		t.Fatalf("unexpected packages.conda record (-want +got):\n%s", diff)
	}

	wheel := repodata.PackagesWhl["extra_tool-2.0-py3-none-any.whl"]
	assert.Equal(t, "extra-tool", wheel.Name)
	assert.Equal(t, "pypi_0", wheel.Build)
	assert.Equal(t, []string{"click >=8", "python"}, wheel.Depends)
	assert.Equal(t, "extra_tool-2.0-py3-none-any.whl", wheel.URL)
	assert.Equal(t, "noarch", wheel.Subdir)
}

func TestChannelIndexReusesUnchangedRecords(t *testing.T) {
	root, _ := seedChannel(t)
	adapter := NewChannelIndexAdapter()
	_, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)

	path := filepath.Join(root, "noarch", "repodata.json")
	repodata := readRepodataFile(t, path)
	record := repodata.PackagesWhl["extra_tool-2.0-py3-none-any.whl"]
	record.URL = "https://files.example.invalid/extra_tool-2.0-py3-none-any.whl"
	repodata.PackagesWhl["extra_tool-2.0-py3-none-any.whl"] = record
	encoded, err := json.Marshal(repodata)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0644))

	summary, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Reused)
	again := readRepodataFile(t, path)
	assert.Equal(t, record.URL, again.PackagesWhl["extra_tool-2.0-py3-none-any.whl"].URL)
}

func TestChannelIndexDropsRemovedAndSkipsBrokenPackages(t *testing.T) {
	root, artifact := seedChannel(t)
	adapter := NewChannelIndexAdapter()
	_, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(artifact.Path))
	require.NoError(t, os.WriteFile(filepath.Join(root, "noarch", "broken-1.0-pypi_0.conda"), []byte("not a zip"), 0644))

	summary, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	repodata := readRepodataFile(t, filepath.Join(root, "noarch", "repodata.json"))
	assert.Empty(t, repodata.PackagesConda)
}

func TestChannelIndexCreatesEmptyNoarch(t *testing.T) {
	root := filepath.Join(t.TempDir(), "channel")
	summary, err := NewChannelIndexAdapter().Regenerate(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"noarch"}, summary.Subdirs)
	assert.FileExists(t, filepath.Join(root, "noarch", "repodata.json"))
}

func TestChannelIndexLookups(t *testing.T) {
	root, artifact := seedChannel(t)
	adapter := NewChannelIndexAdapter()
	_, err := adapter.Regenerate(t.Context(), root)
	require.NoError(t, err)

	found, ok := adapter.FindArtifact(root, "demo-package", "1.0.0", "")
	require.True(t, ok)
	assert.Equal(t, artifact.Path, found)
	_, ok = adapter.FindArtifact(root, "demo-package", "2.0", "")
	assert.False(t, ok)

	names, err := adapter.ProvidedNames(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"demo-package": {}, "extra-tool": {}}, names)

	_, err = NewChannelIndexAdapter().ProvidedNames(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
}
