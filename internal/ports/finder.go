package ports

import (
	"context"

	"conda-pypi/internal/types"
)

// PackageFinderPort selects and downloads the best wheel for a package
// in the environment the finder was created for.
type PackageFinderPort interface {
	FindAndFetch(ctx context.Context, cacheDir string, name string, specifier string) (types.FetchedWheel, error)
}

// FinderOptions configures index access. Zero values select defaults.
type FinderOptions struct {
	IndexURL         string
	HTTPTimeoutSec   int
	HTTPRetries      int
	HTTPRetryDelayMs int
}

type FinderProviderPort interface {
	GetFinder(ctx context.Context, env types.Environment, opts FinderOptions) (PackageFinderPort, error)
}
