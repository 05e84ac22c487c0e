package adapters

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

const buildScript = `
import sys
from build import ProjectBuilder
builder = ProjectBuilder(sys.argv[1])
print(builder.build(sys.argv[2], sys.argv[3]))
`

var projectMarkers = []string{"pyproject.toml", "setup.py", "setup.cfg"}

type pyprojectFile struct {
	Project struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"project"`
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
	} `toml:"build-system"`
}

// SourceBuilderAdapter builds a wheel from a project tree or sdist with
// the prefix interpreter and hands it to the artifact converter.
type SourceBuilderAdapter struct {
	Converter ports.ArtifactConverterPort
}

func NewSourceBuilderAdapter(converter ports.ArtifactConverterPort) SourceBuilderAdapter {
	return SourceBuilderAdapter{Converter: converter}
}

func (a SourceBuilderAdapter) Build(ctx context.Context, job types.SourceBuildJob) (types.TargetArtifact, error) {
	scratch, err := os.MkdirTemp("", "conda-pypi-build-")
	if err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create build directory").
			WithCause(err)
	}
	defer os.RemoveAll(scratch)

	project := job.SourcePath
	if isSdist(project) {
		project, err = extractSdist(project, filepath.Join(scratch, "src"))
		if err != nil {
			return types.TargetArtifact{}, err
		}
	}
	if err := checkProject(ctx, project); err != nil {
		return types.TargetArtifact{}, err
	}

	distribution := job.Distribution
	if distribution == "" {
		distribution = types.DistributionWheel
	}
	wheelDir := filepath.Join(scratch, "dist")
	if err := os.MkdirAll(wheelDir, 0755); err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create build directory").
			WithCause(err)
	}
	python := job.Environment.Python
	if python == "" {
		python = PythonExecutable(job.Environment.Prefix)
	}
	log.Ctx(ctx).Info().
		Str("project", project).
		Str("distribution", string(distribution)).
		Msg("building wheel from source")
	cmd := exec.CommandContext(ctx, python, "-c", buildScript, project, string(distribution), wheelDir)
	cmd.Dir = project
	output, err := cmd.CombinedOutput()
	if err != nil {
		return types.TargetArtifact{}, shared.BuildError(
			fmt.Sprintf("failed to build %s distribution of %s:\n%s", distribution, job.SourcePath, strings.TrimSpace(string(output))),
			output,
			err,
		)
	}
	wheels, err := filepath.Glob(filepath.Join(wheelDir, "*"+types.WheelExtension))
	if err != nil || len(wheels) != 1 {
		return types.TargetArtifact{}, shared.BuildError(
			fmt.Sprintf("expected one wheel from the build of %s, found %d", job.SourcePath, len(wheels)),
			output,
			err,
		)
	}
	unpack := filepath.Join(scratch, "unpack")
	if err := os.MkdirAll(unpack, 0755); err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create scratch directory").
			WithCause(err)
	}
	return a.Converter.Convert(ctx, types.ConversionJob{
		WheelPath:     wheels[0],
		ScratchDir:    unpack,
		OutputDir:     job.OutputDir,
		ChannelLayout: job.ChannelLayout,
		TestDir:       job.TestDir,
		NameMapping:   job.NameMapping,
		Environment:   job.Environment,
		Editable:      distribution == types.DistributionEditable,
	})
}

func checkProject(ctx context.Context, project string) error {
	found := false
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(project, marker)); err == nil {
			found = true
			break
		}
	}
	if !found {
		return shared.ConfigurationError(
			fmt.Sprintf("%s is not a Python project: none of %s found", project, strings.Join(projectMarkers, ", ")),
			nil,
		)
	}
	data, err := os.ReadFile(filepath.Join(project, "pyproject.toml"))
	if err != nil {
		return nil
	}
	var pyproject pyprojectFile
	if err := toml.Unmarshal(data, &pyproject); err != nil {
		return shared.ConfigurationError("invalid pyproject.toml in "+project, err)
	}
	log.Ctx(ctx).Debug().
		Str("name", pyproject.Project.Name).
		Strs("build_requires", pyproject.BuildSystem.Requires).
		Str("backend", pyproject.BuildSystem.BuildBackend).
		Msg("project metadata")
	return nil
}

func isSdist(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".zip")
}

// extractSdist unpacks an sdist and returns the project root inside it.
func extractSdist(archive string, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", err
	}
	var err error
	if strings.HasSuffix(strings.ToLower(archive), ".zip") {
		err = extractZipArchive(archive, dest)
	} else {
		err = extractTarGz(archive, dest)
	}
	if err != nil {
		return "", shared.PackageFormatError("failed to extract "+filepath.Base(archive), err)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}

func extractZipArchive(archive string, dest string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer reader.Close()
	for _, file := range reader.File {
		if err := extractZipEntry(file, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archive string, dest string) error {
	file, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(header.Name))
		if !isWithin(dest, target) {
			return fmt.Errorf("archive entry %q escapes the destination", header.Name)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0777|0600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

var _ ports.SourceBuilderPort = SourceBuilderAdapter{}
