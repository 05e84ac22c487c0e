package ports

import (
	"context"

	"conda-pypi/internal/types"
)

type ArtifactConverterPort interface {
	Convert(ctx context.Context, job types.ConversionJob) (types.TargetArtifact, error)
}

type SourceBuilderPort interface {
	Build(ctx context.Context, job types.SourceBuildJob) (types.TargetArtifact, error)
}

// WheelReaderPort reads a wheel's metadata without unpacking it.
type WheelReaderPort interface {
	ReadMetadata(path string) (types.WheelMetadata, error)
}
