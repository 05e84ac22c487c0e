package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"conda-pypi/internal/shared"
)

func (s Service) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	root := strings.TrimSpace(req.RepoDir)
	if root == "" {
		return IndexResult{}, shared.UsageError("a channel directory is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return IndexResult{}, shared.ConfigurationError("invalid channel directory", err)
	}
	summary, err := s.Channel.Regenerate(ctx, root)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{Summary: summary}, nil
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}
