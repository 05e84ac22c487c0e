package app

import (
	"time"

	"conda-pypi/internal/ports"
	"conda-pypi/internal/types"
)

type ConvertRequest struct {
	ProjectPath     string
	OutputDir       string
	Prefix          string
	TestDir         string
	NameMappingPath string
	Editable        bool
}

type ConvertResult struct {
	Artifact  types.TargetArtifact
	OutputDir string
}

type ConvertTreeRequest struct {
	Prefix           string
	RepoDir          string
	CacheDir         string
	Specs            []string
	NameMappingPath  string
	Workers          int
	FetchMissing     bool
	OverrideChannels bool
	Channels         []string
	Finder           ports.FinderOptions
}

type ConvertTreeResult struct {
	Report  types.TreeReport
	Elapsed time.Duration
}

type FetchRequest struct {
	Prefix   string
	CacheDir string
	Specs    []string
	Finder   ports.FinderOptions
}

type FetchResult struct {
	Wheels []types.FetchedWheel
}

type IndexRequest struct {
	RepoDir string
}

type IndexResult struct {
	Summary types.IndexSummary
}
