package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conda-pypi/internal/app"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range []string{"convert", "convert-tree", "fetch", "index"} {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *cobra.Command
		flags []string
	}{
		{
			name:  "convert",
			cmd:   newConvertCommand(),
			flags: []string{"output-folder", "prefix", "test-dir", "name-mapping", "editable"},
		},
		{
			name: "convert-tree",
			cmd:  newConvertTreeCommand(),
			flags: []string{
				"prefix", "repo", "cache-dir", "name-mapping", "workers",
				"fetch-missing", "override-channels", "channel",
				"index-url", "http-timeout", "http-retries", "http-retry-delay-ms",
			},
		},
		{
			name:  "fetch",
			cmd:   newFetchCommand(),
			flags: []string{"prefix", "cache-dir", "index-url", "http-timeout", "http-retries", "http-retry-delay-ms"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(name), "missing flag: %s", name)
			}
		})
	}
}

func TestConvertCommandShorthands(t *testing.T) {
	cmd := newConvertCommand()
	for short, long := range map[string]string{"p": "prefix", "t": "test-dir", "e": "editable"} {
		flag := cmd.Flags().ShorthandLookup(short)
		require.NotNil(t, flag, short)
		assert.Equal(t, long, flag.Name)
	}
	assert.Equal(t, "conda-pypi-output", cmd.Flags().Lookup("output-folder").DefValue)
}

func TestConvertTreeDefaults(t *testing.T) {
	cmd := newConvertTreeCommand()
	assert.Equal(t, "true", cmd.Flags().Lookup("fetch-missing").DefValue)
	assert.Equal(t, "conda-pypi-repo", cmd.Flags().Lookup("repo").DefValue)
	assert.Equal(t, "3", cmd.Flags().Lookup("http-retries").DefValue)
	assert.Equal(t, "200", cmd.Flags().Lookup("http-retry-delay-ms").DefValue)
}

// ---------- Execution tests ----------

func TestConvertCommandRejectsEditableWheel(t *testing.T) {
	resetViper(t)
	wheel := filepath.Join(t.TempDir(), "demo_package-1.0.0-py3-none-any.whl")
	require.NoError(t, os.WriteFile(wheel, []byte("x"), 0644))

	root := newRootCommand()
	root.SetArgs([]string{"convert", "--editable", wheel})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, "Cannot create editable package from a wheel file.", errorMessage(err))
	assert.Equal(t, 2, exitCodeForError(err))
}

type fixedInterpreter struct{}

func (fixedInterpreter) Describe(_ context.Context, prefix string) (types.Environment, error) {
	return types.Environment{Prefix: prefix, PythonVersion: "3.12.4", Subdir: "linux-64"}, nil
}

type outputConverter struct{}

func (outputConverter) Convert(_ context.Context, job types.ConversionJob) (types.TargetArtifact, error) {
	filename := "demo-package-1.0.0-pypi_0.conda"
	return types.TargetArtifact{Path: filepath.Join(job.OutputDir, filename), Filename: filename}, nil
}

func TestConvertCommandPrintsArtifactPath(t *testing.T) {
	resetViper(t)
	previous := newAppService
	t.Cleanup(func() { newAppService = previous })
	newAppService = func() app.Service {
		return app.Service{Interpreter: fixedInterpreter{}, Converter: outputConverter{}}
	}
	wheel := filepath.Join(t.TempDir(), "demo_package-1.0.0-py3-none-any.whl")
	require.NoError(t, os.WriteFile(wheel, []byte("x"), 0644))
	output := t.TempDir()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"convert", "--prefix", t.TempDir(), "--output-folder", output, wheel})
	require.NoError(t, root.Execute())

	artifact := filepath.Join(output, "demo-package-1.0.0-pypi_0.conda")
	assert.Equal(t, "Conda package at "+artifact+" built successfully. Output folder: "+output+".\n", out.String())
	assert.NotContains(t, out.String(), wheel)
}

func TestIndexCommandWritesRepodata(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()

	root := newRootCommand()
	root.SetArgs([]string{"index", dir})
	require.NoError(t, root.Execute())
	assert.FileExists(t, filepath.Join(dir, "noarch", "repodata.json"))
}

func TestIndexCommandRequiresDirectory(t *testing.T) {
	resetViper(t)
	root := newRootCommand()
	root.SetArgs([]string{"index"})
	require.Error(t, root.Execute())
}

// ---------- Helper function tests ----------

func TestResolvePrefixFallsBackToCondaPrefix(t *testing.T) {
	resetViper(t)
	t.Setenv("CONDA_PREFIX", "/opt/conda/envs/demo")

	cmd := newConvertCommand()
	assert.Equal(t, "/opt/conda/envs/demo", resolvePrefix(cmd, ""))

	require.NoError(t, cmd.Flags().Set("prefix", "/opt/explicit"))
	assert.Equal(t, "/opt/explicit", resolvePrefix(cmd, "/opt/explicit"))
}

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStringPrefersConfigOverDefault(t *testing.T) {
	resetViper(t)
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("repo", "conda-pypi-repo", "repo")
	viper.Set("repo", "/srv/channel")

	assert.Equal(t, "/srv/channel", resolveString(cmd, "conda-pypi-repo", "repo", "repo"))
	require.NoError(t, cmd.Flags().Set("repo", "./local"))
	assert.Equal(t, "./local", resolveString(cmd, "./local", "repo", "repo"))
}

func TestResolveStrings(t *testing.T) {
	resetViper(t)
	assert.Equal(t, []string{"a", "b"}, resolveStrings(nil, []string{"a", "b"}, "test_key", "test-flag"))
	assert.Nil(t, resolveStrings(nil, nil, "test_key", "test-flag"))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringSlice("channel", nil, "channels")
	viper.Set("channels", []string{"/srv/conda-forge"})
	assert.Equal(t, []string{"/srv/conda-forge"}, resolveStrings(cmd, nil, "channels", "channel"))
}

func TestResolveBool(t *testing.T) {
	resetViper(t)
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.False(t, resolveBool(nil, false, "test_key", "test-flag"))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("fetch-missing", true, "fetch")
	viper.Set("fetch_missing", false)
	assert.False(t, resolveBool(cmd, true, "fetch_missing", "fetch-missing"))
}

func TestResolveInt(t *testing.T) {
	resetViper(t)
	assert.Equal(t, 42, resolveInt(nil, 42, "test_key", "test-flag"))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("workers", 0, "workers")
	viper.Set("workers", 8)
	assert.Equal(t, 8, resolveInt(cmd, 0, "workers", "workers"))
	require.NoError(t, cmd.Flags().Set("workers", "2"))
	assert.Equal(t, 2, resolveInt(cmd, 2, "workers", "workers"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")

	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "usage",
			err:      shared.UsageError("Cannot create editable package from a wheel file."),
			expected: 2,
		},
		{
			name:     "configuration",
			err:      shared.ConfigurationError("Could not open mapping.json", os.ErrNotExist),
			expected: 2,
		},
		{
			name:     "package format",
			err:      shared.PackageFormatError("wheel has no METADATA", nil),
			expected: 4,
		},
		{
			name:     "resolution",
			err:      shared.ResolutionError("no version of foo satisfies", nil),
			expected: 4,
		},
		{
			name:     "build",
			err:      shared.BuildError("backend failed", []byte("traceback"), assert.AnError),
			expected: 5,
		},
		{
			name:     "network",
			err:      shared.NetworkError("request failed", assert.AnError),
			expected: 5,
		},
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "already exists",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("dup"),
			expected: 2,
		},
		{
			name: "tree conversion failures",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("2 of 5 packages failed to convert"),
			expected: 4,
		},
		{
			name: "permission denied",
			err: errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("nope"),
			expected: 3,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("channel directory not found"),
			expected: 4,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "kind error",
			err:      shared.ConfigurationError("Test directory does not exist: /tmp/tests", os.ErrNotExist),
			expected: "Test directory does not exist: /tmp/tests",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
