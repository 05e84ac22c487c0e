package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conda-pypi/internal/adapters"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

type stubInterpreter struct {
	prefixes []string
}

func (s *stubInterpreter) Describe(_ context.Context, prefix string) (types.Environment, error) {
	s.prefixes = append(s.prefixes, prefix)
	return types.Environment{
		Prefix:         prefix,
		PythonVersion:  "3.12.1",
		Implementation: "cpython",
		Subdir:         "linux-64",
		Tags:           []types.WheelTag{{Python: "py3", ABI: "none", Platform: "any"}},
		Markers:        map[string]string{"python_version": "3.12"},
	}, nil
}

type stubConverter struct {
	jobs []types.ConversionJob
}

func (s *stubConverter) Convert(_ context.Context, job types.ConversionJob) (types.TargetArtifact, error) {
	s.jobs = append(s.jobs, job)
	filename := filepath.Base(job.WheelPath) + ".conda"
	return types.TargetArtifact{Path: filepath.Join(job.OutputDir, filename), Filename: filename}, nil
}

type stubSources struct {
	jobs []types.SourceBuildJob
}

func (s *stubSources) Build(_ context.Context, job types.SourceBuildJob) (types.TargetArtifact, error) {
	s.jobs = append(s.jobs, job)
	return types.TargetArtifact{Path: filepath.Join(job.OutputDir, "built.conda"), Filename: "built.conda"}, nil
}

type stubFinder struct {
	requests [][2]string
}

func (s *stubFinder) FindAndFetch(_ context.Context, cacheDir string, name string, specifier string) (types.FetchedWheel, error) {
	s.requests = append(s.requests, [2]string{name, specifier})
	filename := name + "-1.0-py3-none-any.whl"
	return types.FetchedWheel{Path: filepath.Join(cacheDir, filename), Filename: filename, Name: name, Version: "1.0"}, nil
}

type stubFinders struct {
	finder  *stubFinder
	options []ports.FinderOptions
}

func (s *stubFinders) GetFinder(_ context.Context, _ types.Environment, opts ports.FinderOptions) (ports.PackageFinderPort, error) {
	s.options = append(s.options, opts)
	return s.finder, nil
}

type stubChannel struct {
	roots    []string
	provided map[string]map[string]struct{}
}

func (s *stubChannel) Regenerate(_ context.Context, root string) (types.IndexSummary, error) {
	s.roots = append(s.roots, root)
	return types.IndexSummary{Root: root, Subdirs: []string{"noarch"}, Records: 1}, nil
}

func (s *stubChannel) FindArtifact(string, string, string, string) (string, bool) {
	return "", false
}

func (s *stubChannel) ProvidedNames(root string) (map[string]struct{}, error) {
	return s.provided[root], nil
}

type stubWheels struct{}

func (stubWheels) ReadMetadata(path string) (types.WheelMetadata, error) {
	name, rest, _ := strings.Cut(filepath.Base(path), "-")
	version, _, _ := strings.Cut(rest, "-")
	return types.WheelMetadata{
		Name:    name,
		Version: version,
		Tags:    []types.WheelTag{{Python: "py3", ABI: "none", Platform: "any"}},
	}, nil
}

type stubPrefix struct {
	dists []types.InstalledDistribution
}

func (s stubPrefix) InstalledDistributions(context.Context, types.Environment) ([]types.InstalledDistribution, error) {
	return s.dists, nil
}

type serviceFixture struct {
	service     Service
	interpreter *stubInterpreter
	converter   *stubConverter
	sources     *stubSources
	finders     *stubFinders
	channel     *stubChannel
}

func newServiceFixture(dists ...types.InstalledDistribution) *serviceFixture {
	f := &serviceFixture{
		interpreter: &stubInterpreter{},
		converter:   &stubConverter{},
		sources:     &stubSources{},
		finders:     &stubFinders{finder: &stubFinder{}},
		channel:     &stubChannel{provided: map[string]map[string]struct{}{}},
	}
	f.service = Service{
		Interpreter: f.interpreter,
		Prefix:      stubPrefix{dists: dists},
		Wheels:      stubWheels{},
		Converter:   f.converter,
		Sources:     f.sources,
		Finders:     f.finders,
		Channel:     f.channel,
		Mappings:    adapters.NewNameMappingFileAdapter(),
	}
	return f
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestConvertWheel(t *testing.T) {
	f := newServiceFixture()
	wheel := touch(t, filepath.Join(t.TempDir(), "demo_package-1.0.0-py3-none-any.whl"))
	output := t.TempDir()

	result, err := f.service.Convert(t.Context(), ConvertRequest{
		ProjectPath: wheel,
		OutputDir:   output,
		Prefix:      "/opt/env",
	})
	require.NoError(t, err)
	assert.Equal(t, output, result.OutputDir)
	require.Len(t, f.converter.jobs, 1)
	assert.Equal(t, wheel, f.converter.jobs[0].WheelPath)
	assert.NotEmpty(t, f.converter.jobs[0].ScratchDir)
	assert.NoDirExists(t, f.converter.jobs[0].ScratchDir)
	assert.Empty(t, f.sources.jobs)
	assert.Equal(t, []string{"/opt/env"}, f.interpreter.prefixes)
}

func TestConvertProjectUsesSourceBuilder(t *testing.T) {
	f := newServiceFixture()
	project := t.TempDir()
	touch(t, filepath.Join(project, "pyproject.toml"))
	testDir := t.TempDir()
	touch(t, filepath.Join(testDir, "run_test.py"))
	mapping := filepath.Join(t.TempDir(), "mapping.json")
	require.NoError(t, os.WriteFile(mapping, []byte(`{"demo-package": {"conda_name": "demo-package-mapped"}}`), 0644))

	_, err := f.service.Convert(t.Context(), ConvertRequest{
		ProjectPath:     project,
		OutputDir:       t.TempDir(),
		Prefix:          "/opt/env",
		TestDir:         testDir,
		NameMappingPath: mapping,
		Editable:        true,
	})
	require.NoError(t, err)
	require.Len(t, f.sources.jobs, 1)
	job := f.sources.jobs[0]
	assert.Equal(t, types.DistributionEditable, job.Distribution)
	assert.Equal(t, testDir, job.TestDir)
	assert.Equal(t, "demo-package-mapped", job.NameMapping["demo-package"].CondaName)
}

func TestConvertDefaultsOutputFolder(t *testing.T) {
	f := newServiceFixture()
	wheel := touch(t, filepath.Join(t.TempDir(), "demo_package-1.0.0-py3-none-any.whl"))
	cwd := t.TempDir()
	t.Chdir(cwd)

	result, err := f.service.Convert(t.Context(), ConvertRequest{ProjectPath: wheel, Prefix: "/opt/env"})
	require.NoError(t, err)
	want, err := filepath.Abs(filepath.Join(cwd, DefaultOutputFolder))
	require.NoError(t, err)
	assert.Equal(t, want, result.OutputDir)
}

func TestConvertRejectsBadRequests(t *testing.T) {
	wheel := touch(t, filepath.Join(t.TempDir(), "demo_package-1.0.0-py3-none-any.whl"))
	project := t.TempDir()
	onlyOther := t.TempDir()
	touch(t, filepath.Join(onlyOther, "other_file.txt"))
	notADir := touch(t, filepath.Join(t.TempDir(), "tests.txt"))
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name    string
		req     ConvertRequest
		kind    shared.ErrorKind
		message string
	}{
		{
			name:    "editable wheel",
			req:     ConvertRequest{ProjectPath: wheel, Editable: true, Prefix: "/opt/env"},
			kind:    shared.KindUsage,
			message: "Cannot create editable package from a wheel file.",
		},
		{
			name:    "missing path",
			req:     ConvertRequest{ProjectPath: missing, Prefix: "/opt/env"},
			kind:    shared.KindUsage,
			message: "Path '" + missing + "' does not exist.",
		},
		{
			name:    "empty path",
			req:     ConvertRequest{Prefix: "/opt/env"},
			kind:    shared.KindUsage,
			message: "a project path, sdist or wheel is required",
		},
		{
			name:    "test dir without runner",
			req:     ConvertRequest{ProjectPath: project, TestDir: onlyOther, Prefix: "/opt/env"},
			kind:    shared.KindConfiguration,
			message: "Test directory must contain at least one run_test.* file: " + onlyOther,
		},
		{
			name:    "missing test dir",
			req:     ConvertRequest{ProjectPath: project, TestDir: missing, Prefix: "/opt/env"},
			kind:    shared.KindConfiguration,
			message: "Test directory does not exist: " + missing,
		},
		{
			name:    "test path is a file",
			req:     ConvertRequest{ProjectPath: project, TestDir: notADir, Prefix: "/opt/env"},
			kind:    shared.KindConfiguration,
			message: "Test path is not a directory: " + notADir,
		},
		{
			name:    "missing mapping file",
			req:     ConvertRequest{ProjectPath: project, NameMappingPath: missing + ".json", Prefix: "/opt/env"},
			kind:    shared.KindConfiguration,
			message: "Could not open " + missing + ".json",
		},
		{
			name:    "no prefix",
			req:     ConvertRequest{ProjectPath: project},
			kind:    shared.KindConfiguration,
			message: "no target environment",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			_, err := f.service.Convert(t.Context(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, shared.KindOf(err))
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, f.sources.jobs)
			assert.Empty(t, f.converter.jobs)
		})
	}
}

func TestConvertTreeWiresPorts(t *testing.T) {
	dist := types.InstalledDistribution{
		Name:    "demo-package",
		Version: "1.0.0",
		Tags:    []types.WheelTag{{Python: "py3", ABI: "none", Platform: "any"}},
		Metadata: types.WheelMetadata{
			Name:     "demo-package",
			Version:  "1.0.0",
			Requires: []types.Requirement{{Name: "requests"}, {Name: "numpy"}},
		},
	}
	f := newServiceFixture(dist)
	f.channel.provided["/channels/conda-forge"] = map[string]struct{}{"numpy": {}}
	ticks := []time.Time{time.Unix(100, 0), time.Unix(102, 0)}
	f.service.Clock = func() time.Time {
		now := ticks[0]
		ticks = ticks[1:]
		return now
	}
	repo := t.TempDir()

	result, err := f.service.ConvertTree(t.Context(), ConvertTreeRequest{
		Prefix:       "/opt/env",
		RepoDir:      repo,
		CacheDir:     t.TempDir(),
		Specs:        []string{"demo-package"},
		Workers:      1,
		FetchMissing: true,
		Channels:     []string{"file:///channels/conda-forge"},
		Finder:       ports.FinderOptions{IndexURL: "http://localhost:8080/simple/"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, result.Elapsed)
	assert.Equal(t, types.TreeStateDone, result.Report.State)
	assert.Equal(t, 3, result.Report.Nodes)
	assert.Equal(t, []string{repo}, f.channel.roots)
	assert.Equal(t, [][2]string{{"requests", ""}, {"demo-package", "==1.0.0"}}, f.finders.finder.requests)
	assert.Equal(t, "http://localhost:8080/simple/", f.finders.options[0].IndexURL)
	assert.Len(t, f.converter.jobs, 2)
}

func TestConvertTreeOverrideChannelsConvertsEverything(t *testing.T) {
	f := newServiceFixture()
	f.channel.provided["/channels/conda-forge"] = map[string]struct{}{"numpy": {}}

	provided, err := f.service.providedNames(t.Context(), ConvertTreeRequest{
		OverrideChannels: true,
		Channels:         []string{"/channels/conda-forge"},
	})
	require.NoError(t, err)
	assert.Empty(t, provided)

	provided, err = f.service.providedNames(t.Context(), ConvertTreeRequest{
		Channels: []string{"/channels/conda-forge", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"numpy": {}}, provided)
}

func TestConvertTreeRequiresSpecs(t *testing.T) {
	f := newServiceFixture()
	_, err := f.service.ConvertTree(t.Context(), ConvertTreeRequest{RepoDir: t.TempDir(), Prefix: "/opt/env"})
	require.Error(t, err)
	assert.Equal(t, shared.KindUsage, shared.KindOf(err))
}

func TestFetch(t *testing.T) {
	f := newServiceFixture()
	cacheDir := filepath.Join(t.TempDir(), "cache")

	result, err := f.service.Fetch(t.Context(), FetchRequest{
		Prefix:   "/opt/env",
		CacheDir: cacheDir,
		Specs:    []string{"requests>=2", "six"},
	})
	require.NoError(t, err)
	assert.DirExists(t, cacheDir)
	require.Len(t, result.Wheels, 2)
	assert.Equal(t, [][2]string{{"requests", ">=2"}, {"six", ""}}, f.finders.finder.requests)

	_, err = f.service.Fetch(t.Context(), FetchRequest{Prefix: "/opt/env", Specs: []string{"bad spec!"}})
	require.Error(t, err)
	assert.Equal(t, shared.KindUsage, shared.KindOf(err))
}

func TestIndex(t *testing.T) {
	f := newServiceFixture()
	root := t.TempDir()
	result, err := f.service.Index(t.Context(), IndexRequest{RepoDir: root})
	require.NoError(t, err)
	assert.Equal(t, root, result.Summary.Root)

	_, err = f.service.Index(t.Context(), IndexRequest{})
	require.Error(t, err)
	assert.Equal(t, shared.KindUsage, shared.KindOf(err))
}
