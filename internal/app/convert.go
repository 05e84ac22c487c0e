package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

const DefaultOutputFolder = "conda-pypi-output"

func (s Service) Convert(ctx context.Context, req ConvertRequest) (ConvertResult, error) {
	project := strings.TrimSpace(req.ProjectPath)
	if project == "" {
		return ConvertResult{}, shared.UsageError("a project path, sdist or wheel is required")
	}
	isWheel := strings.HasSuffix(strings.ToLower(project), types.WheelExtension)
	if req.Editable && isWheel {
		return ConvertResult{}, shared.UsageError("Cannot create editable package from a wheel file.")
	}
	if _, err := os.Stat(project); err != nil {
		return ConvertResult{}, shared.UsageError(fmt.Sprintf("Path '%s' does not exist.", project))
	}
	if req.TestDir != "" {
		if err := validateTestDir(req.TestDir); err != nil {
			return ConvertResult{}, err
		}
	}
	mapping, err := s.loadNameMapping(req.NameMappingPath)
	if err != nil {
		return ConvertResult{}, err
	}
	outputDir, err := resolveOutputDir(req.OutputDir)
	if err != nil {
		return ConvertResult{}, err
	}
	env, err := s.describePrefix(ctx, req.Prefix)
	if err != nil {
		return ConvertResult{}, err
	}

	var artifact types.TargetArtifact
	if isWheel {
		scratch, err := os.MkdirTemp("", "conda-pypi-wheel-")
		if err != nil {
			return ConvertResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create scratch directory").
				WithCause(err)
		}
		defer os.RemoveAll(scratch)
		artifact, err = s.Converter.Convert(ctx, types.ConversionJob{
			WheelPath:   project,
			ScratchDir:  scratch,
			OutputDir:   outputDir,
			TestDir:     req.TestDir,
			NameMapping: mapping,
			Environment: env,
		})
		if err != nil {
			return ConvertResult{}, err
		}
	} else {
		distribution := types.DistributionWheel
		if req.Editable {
			distribution = types.DistributionEditable
		}
		artifact, err = s.Sources.Build(ctx, types.SourceBuildJob{
			SourcePath:   project,
			Distribution: distribution,
			OutputDir:    outputDir,
			TestDir:      req.TestDir,
			NameMapping:  mapping,
			Environment:  env,
		})
		if err != nil {
			return ConvertResult{}, err
		}
	}
	log.Ctx(ctx).Info().
		Str("package", artifact.Filename).
		Str("sha256", artifact.SHA256).
		Int64("size", artifact.Size).
		Msg("conda package written")
	return ConvertResult{Artifact: artifact, OutputDir: outputDir}, nil
}

// validateTestDir checks a user supplied test directory before any
// build work starts.
func validateTestDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return shared.ConfigurationError("Test directory does not exist: "+dir, err)
	}
	if err != nil {
		return shared.ConfigurationError("Test directory is not readable: "+dir, err)
	}
	if !info.IsDir() {
		return shared.ConfigurationError("Test path is not a directory: "+dir, nil)
	}
	runners, err := filepath.Glob(filepath.Join(dir, "run_test.*"))
	if err != nil || len(runners) == 0 {
		return shared.ConfigurationError("Test directory must contain at least one run_test.* file: "+dir, err)
	}
	return nil
}

func (s Service) loadNameMapping(path string) (types.NameMapping, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	return s.Mappings.Load(path)
}

func (s Service) describePrefix(ctx context.Context, prefix string) (types.Environment, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return types.Environment{}, shared.ConfigurationError(
			"no target environment: pass --prefix or activate a conda environment", nil)
	}
	return s.Interpreter.Describe(ctx, prefix)
}

func resolveOutputDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to determine working directory").
				WithCause(err)
		}
		dir = filepath.Join(cwd, DefaultOutputFolder)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", shared.ConfigurationError("invalid output folder "+dir, err)
	}
	return abs, nil
}
