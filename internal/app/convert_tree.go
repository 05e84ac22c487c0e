package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/shared"
)

func (s Service) ConvertTree(ctx context.Context, req ConvertTreeRequest) (ConvertTreeResult, error) {
	start := s.now()
	if len(req.Specs) == 0 {
		return ConvertTreeResult{}, shared.UsageError("at least one requirement is required")
	}
	repoDir := strings.TrimSpace(req.RepoDir)
	if repoDir == "" {
		return ConvertTreeResult{}, shared.UsageError("a repository directory is required")
	}
	repoDir, err := filepath.Abs(repoDir)
	if err != nil {
		return ConvertTreeResult{}, shared.ConfigurationError("invalid repository directory", err)
	}
	mapping, err := s.loadNameMapping(req.NameMappingPath)
	if err != nil {
		return ConvertTreeResult{}, err
	}
	env, err := s.describePrefix(ctx, req.Prefix)
	if err != nil {
		return ConvertTreeResult{}, err
	}
	cacheDir, err := resolveCacheDir(req.CacheDir)
	if err != nil {
		return ConvertTreeResult{}, err
	}
	provided, err := s.providedNames(ctx, req)
	if err != nil {
		return ConvertTreeResult{}, err
	}
	finder, err := s.Finders.GetFinder(ctx, env, req.Finder)
	if err != nil {
		return ConvertTreeResult{}, err
	}
	scratch, err := os.MkdirTemp("", "conda-pypi-tree-")
	if err != nil {
		return ConvertTreeResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create scratch directory").
			WithCause(err)
	}
	defer os.RemoveAll(scratch)

	converter := core.TreeConverter{
		Prefix:    s.Prefix,
		Finder:    finder,
		Wheels:    s.Wheels,
		Converter: s.Converter,
		Sources:   s.Sources,
		Channel:   s.Channel,
	}
	report, err := converter.Convert(ctx, core.TreeRequest{
		Environment:  env,
		RepoDir:      repoDir,
		CacheDir:     cacheDir,
		ScratchRoot:  scratch,
		Specs:        req.Specs,
		NameMapping:  mapping,
		Workers:      req.Workers,
		FetchMissing: req.FetchMissing,
		Provided:     provided,
	})
	return ConvertTreeResult{Report: report, Elapsed: s.now().Sub(start)}, err
}

// providedNames collects package names already served by the extra
// channels. Override mode converts everything.
func (s Service) providedNames(ctx context.Context, req ConvertTreeRequest) (map[string]struct{}, error) {
	provided := map[string]struct{}{}
	if req.OverrideChannels {
		return provided, nil
	}
	for _, channel := range req.Channels {
		channel = strings.TrimSpace(channel)
		if channel == "" {
			continue
		}
		names, err := s.Channel.ProvidedNames(strings.TrimPrefix(channel, "file://"))
		if err != nil {
			return nil, shared.ConfigurationError("failed to read channel "+channel, err)
		}
		for name := range names {
			provided[name] = struct{}{}
		}
	}
	log.Ctx(ctx).Debug().Int("provided", len(provided)).Msg("names served by other channels")
	return provided, nil
}

func resolveCacheDir(dir string) (string, error) {
	if strings.TrimSpace(dir) != "" {
		return filepath.Abs(dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "conda-pypi", "wheels"), nil
}
