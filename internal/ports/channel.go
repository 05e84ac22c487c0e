package ports

import (
	"context"

	"conda-pypi/internal/types"
)

// ChannelIndexPort owns the on-disk layout of a local channel.
type ChannelIndexPort interface {
	// Regenerate rewrites repodata.json for every subdir under root.
	Regenerate(ctx context.Context, root string) (types.IndexSummary, error)

	// FindArtifact reports an artifact for name and version in any subdir.
	// An empty build matches any build string.
	FindArtifact(root string, name string, version string, build string) (string, bool)

	// ProvidedNames lists the package names a channel's repodata offers.
	ProvidedNames(root string) (map[string]struct{}, error)
}

type NameMappingSourcePort interface {
	Load(path string) (types.NameMapping, error)
}
