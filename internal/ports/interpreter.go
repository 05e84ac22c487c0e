package ports

import (
	"context"

	"conda-pypi/internal/types"
)

// InterpreterPort describes the Python interpreter of an environment
// prefix: version, platform and the wheel tags it accepts.
type InterpreterPort interface {
	Describe(ctx context.Context, prefix string) (types.Environment, error)
}

// PrefixPort lists the distributions installed in an environment.
type PrefixPort interface {
	InstalledDistributions(ctx context.Context, env types.Environment) ([]types.InstalledDistribution, error)
}
