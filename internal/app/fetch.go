package app

import (
	"context"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

func (s Service) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if len(req.Specs) == 0 {
		return FetchResult{}, shared.UsageError("at least one requirement is required")
	}
	requirements := make([]types.Requirement, 0, len(req.Specs))
	for _, spec := range req.Specs {
		parsed, err := core.ParseRequirement(spec)
		if err != nil {
			return FetchResult{}, shared.UsageError("invalid requirement " + spec + ": " + err.Error())
		}
		requirements = append(requirements, parsed)
	}
	env, err := s.describePrefix(ctx, req.Prefix)
	if err != nil {
		return FetchResult{}, err
	}
	cacheDir, err := resolveCacheDir(req.CacheDir)
	if err != nil {
		return FetchResult{}, shared.ConfigurationError("invalid cache directory", err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return FetchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache directory").
			WithCause(err)
	}
	finder, err := s.Finders.GetFinder(ctx, env, req.Finder)
	if err != nil {
		return FetchResult{}, err
	}
	result := FetchResult{}
	for _, requirement := range requirements {
		fetched, err := finder.FindAndFetch(ctx, cacheDir, requirement.Name, requirement.Specifier)
		if err != nil {
			return result, err
		}
		log.Ctx(ctx).Info().
			Str("wheel", fetched.Filename).
			Bool("cached", fetched.Reused).
			Msg("wheel available")
		result.Wheels = append(result.Wheels, fetched)
	}
	return result, nil
}
