package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conda-pypi/internal/shared"
)

func candidates(t *testing.T, filenames ...string) []WheelCandidate {
	t.Helper()
	out := make([]WheelCandidate, 0, len(filenames))
	for _, filename := range filenames {
		wheel, err := ParseWheelFilename(filename)
		require.NoError(t, err)
		out = append(out, WheelCandidate{Wheel: wheel, URL: "https://files.example.invalid/" + filename})
	}
	return out
}

func TestSelectWheelRanking(t *testing.T) {
	env := linuxEnv()
	pool := candidates(t,
		"demo-1.0-py3-none-any.whl",
		"demo-2.0-py3-none-any.whl",
		"demo-2.0-cp312-cp312-manylinux_2_17_x86_64.whl",
		"demo-2.0-cp312-cp312-win_amd64.whl",
		"demo-3.0rc1-py3-none-any.whl",
		"other-9.0-py3-none-any.whl",
	)
	tests := []struct {
		name      string
		specifier string
		want      string
	}{
		{"finals first then best tag", "", "demo-2.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
		{"upper bound", "<2", "demo-1.0-py3-none-any.whl"},
		{"only prerelease satisfies", ">=3.0rc1", "demo-3.0rc1-py3-none-any.whl"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectWheel("demo", tt.specifier, pool, env.Tags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Wheel.Filename)
		})
	}
}

func TestSelectWheelPrefersHigherBuildTag(t *testing.T) {
	env := linuxEnv()
	pool := candidates(t,
		"demo-2.0-1-py3-none-any.whl",
		"demo-2.0-2-py3-none-any.whl",
	)
	got, err := SelectWheel("demo", "==2.0", pool, env.Tags)
	require.NoError(t, err)
	assert.Equal(t, "demo-2.0-2-py3-none-any.whl", got.Wheel.Filename)
}

func TestSelectWheelNormalizesNames(t *testing.T) {
	env := linuxEnv()
	pool := candidates(t, "demo_pkg-1.0-py3-none-any.whl")
	got, err := SelectWheel("Demo.Pkg", "", pool, env.Tags)
	require.NoError(t, err)
	assert.Equal(t, "demo_pkg-1.0-py3-none-any.whl", got.Wheel.Filename)
}

func TestSelectWheelResolutionErrors(t *testing.T) {
	env := linuxEnv()
	pool := candidates(t,
		"demo-1.0-py3-none-any.whl",
		"demo-2.0-cp312-cp312-win_amd64.whl",
	)

	_, err := SelectWheel("demo", ">=4", pool, env.Tags)
	require.Error(t, err)
	assert.Equal(t, shared.KindResolution, shared.KindOf(err))
	assert.Contains(t, err.Error(), "no version of demo satisfies")

	_, err = SelectWheel("demo", "==2.0", pool, env.Tags)
	require.Error(t, err)
	assert.Equal(t, shared.KindResolution, shared.KindOf(err))
	assert.Contains(t, err.Error(), "no compatible wheel for demo")
}
