package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

type TreeRequest struct {
	Environment  types.Environment
	RepoDir      string
	CacheDir     string
	ScratchRoot  string
	Specs        []string
	NameMapping  types.NameMapping
	Workers      int
	FetchMissing bool
	// Provided holds conda names already available from other channels.
	// Such nodes are neither converted nor traversed.
	Provided map[string]struct{}
}

// TreeConverter converts the installed dependency closure of a set of
// requested packages into a local channel.
type TreeConverter struct {
	Prefix    ports.PrefixPort
	Finder    ports.PackageFinderPort
	Wheels    ports.WheelReaderPort
	Converter ports.ArtifactConverterPort
	Sources   ports.SourceBuilderPort
	Channel   ports.ChannelIndexPort
}

type treeRun struct {
	TreeConverter
	request    TreeRequest
	translator NameTranslator
	report     types.TreeReport
}

func (c TreeConverter) Convert(ctx context.Context, request TreeRequest) (types.TreeReport, error) {
	assert.NotEmpty(ctx, request.RepoDir, "repo dir must be set")
	run := &treeRun{
		TreeConverter: c,
		request:       request,
		translator:    NewNameTranslator(request.NameMapping),
		report: types.TreeReport{
			State:     types.TreeStateInitialized,
			Requested: request.Specs,
		},
	}
	if run.request.Workers <= 0 {
		run.request.Workers = runtime.NumCPU()
	}
	if run.request.ScratchRoot == "" {
		run.request.ScratchRoot = os.TempDir()
	}

	run.transition(ctx, types.TreeStateDiscovering)
	graph, err := run.discover(ctx)
	if err != nil {
		run.transition(ctx, types.TreeStateFailed)
		return run.report, err
	}
	run.report.Nodes = len(graph.Nodes)

	run.transition(ctx, types.TreeStateConverting)
	run.convertAll(ctx, graph)

	run.transition(ctx, types.TreeStateIndexing)
	summary, err := c.Channel.Regenerate(ctx, request.RepoDir)
	if err != nil {
		run.transition(ctx, types.TreeStateFailed)
		return run.report, err
	}
	run.report.Index = summary

	if len(run.report.Failures) > 0 {
		run.transition(ctx, types.TreeStateFailed)
		causes := make([]error, 0, len(run.report.Failures))
		for _, failure := range run.report.Failures {
			causes = append(causes, fmt.Errorf("%s: %w", failure.Key, failure.Err))
		}
		return run.report, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("%d of %d packages failed to convert", len(run.report.Failures), run.report.Nodes)).
			WithCause(errors.Join(causes...))
	}
	run.transition(ctx, types.TreeStateDone)
	return run.report, nil
}

func (r *treeRun) transition(ctx context.Context, state types.TreeState) {
	log.Ctx(ctx).Debug().
		Str("from", string(r.report.State)).
		Str("to", string(state)).
		Msg("tree conversion state changed")
	r.report.State = state
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

type discoveryItem struct {
	name      string
	specifier string
	extras    []string
	parent    *types.NodeKey
}

func (r *treeRun) discover(ctx context.Context) (*DependencyGraph, error) {
	installed, err := r.Prefix.InstalledDistributions(ctx, r.request.Environment)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]types.InstalledDistribution, len(installed))
	for _, dist := range installed {
		byName[shared.NormalizePipName(dist.Name)] = dist
	}

	var queue []discoveryItem
	for _, spec := range r.request.Specs {
		req, err := ParseRequirement(spec)
		if err != nil {
			return nil, shared.ConfigurationError(fmt.Sprintf("invalid package specification %q", spec), err)
		}
		queue = append(queue, discoveryItem{
			name:      shared.NormalizePipName(req.Name),
			specifier: req.Specifier,
			extras:    req.Extras,
		})
	}

	graph := NewDependencyGraph()
	// A prefix holds one version per name, so the name identifies the node.
	visited := map[string]types.NodeKey{}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if key, ok := visited[item.name]; ok {
			node := graph.Nodes[key]
			if item.parent != nil {
				graph.AddEdge(*item.parent, key)
			}
			added := newExtras(node.Extras, item.extras)
			if len(added) == 0 || node.External || node.Source == types.NodeSourceMissing {
				continue
			}
			previous := node.Extras
			node.Extras = append(node.Extras, added...)
			queue = append(queue, r.extraRequirements(node, previous)...)
			continue
		}

		node := r.resolveNode(ctx, item, byName)
		graph.Nodes[node.Key] = node
		visited[item.name] = node.Key
		if item.parent != nil {
			graph.AddEdge(*item.parent, node.Key)
		}
		if node.External || node.Source == types.NodeSourceMissing {
			continue
		}
		queue = append(queue, r.activeRequirements(node, node.Extras, nil)...)
	}
	log.Ctx(ctx).Info().Int("nodes", len(graph.Nodes)).Msg("dependency graph discovered")
	return graph, nil
}

func (r *treeRun) resolveNode(ctx context.Context, item discoveryItem, installed map[string]types.InstalledDistribution) *types.DependencyNode {
	if _, ok := r.request.Provided[r.translator.Translate(item.name)]; ok {
		return &types.DependencyNode{
			Key:      types.NodeKey{Name: item.name},
			Source:   types.NodeSourceInstalled,
			Extras:   item.extras,
			External: true,
		}
	}
	if dist, ok := installed[item.name]; ok {
		if item.specifier != "" {
			if ok, err := SatisfiesSpecifier(dist.Version, item.specifier); err == nil && !ok {
				log.Ctx(ctx).Warn().
					Str("package", item.name).
					Str("installed", dist.Version).
					Str("required", item.specifier).
					Msg("installed version does not satisfy requirement, converting installed version")
			}
		}
		return &types.DependencyNode{
			Key:    types.NodeKey{Name: item.name, Version: dist.Version},
			Source: types.NodeSourceInstalled,
			Dist:   dist,
			Extras: item.extras,
		}
	}
	missing := &types.DependencyNode{
		Key:    types.NodeKey{Name: item.name},
		Source: types.NodeSourceMissing,
		Extras: item.extras,
	}
	if !r.request.FetchMissing || r.Finder == nil {
		missing.Resolution = shared.ResolutionError(
			fmt.Sprintf("%s is not installed in %s", item.name, r.request.Environment.Prefix), nil)
		return missing
	}
	fetched, err := r.Finder.FindAndFetch(ctx, r.request.CacheDir, item.name, item.specifier)
	if err != nil {
		missing.Resolution = err
		return missing
	}
	meta, err := r.Wheels.ReadMetadata(fetched.Path)
	if err != nil {
		missing.Resolution = err
		return missing
	}
	return &types.DependencyNode{
		Key:       types.NodeKey{Name: item.name, Version: meta.Version},
		Source:    types.NodeSourceFetched,
		WheelPath: fetched.Path,
		Extras:    item.extras,
		Dist: types.InstalledDistribution{
			Name:     meta.Name,
			Version:  meta.Version,
			Metadata: meta,
			Tags:     meta.Tags,
		},
	}
}

// activeRequirements returns the requirements of node active for extras
// and not already active for previous.
func (r *treeRun) activeRequirements(node *types.DependencyNode, extras []string, previous []string) []discoveryItem {
	markers := r.request.Environment.Markers
	parent := node.Key
	var out []discoveryItem
	for _, req := range node.Dist.Metadata.Requires {
		active, err := RequirementApplies(req, markers, extras)
		if err != nil || !active {
			continue
		}
		if previous != nil {
			before, err := RequirementApplies(req, markers, previous)
			if err == nil && before {
				continue
			}
		}
		out = append(out, discoveryItem{
			name:      shared.NormalizePipName(req.Name),
			specifier: req.Specifier,
			extras:    req.Extras,
			parent:    &parent,
		})
	}
	return out
}

func (r *treeRun) extraRequirements(node *types.DependencyNode, previous []string) []discoveryItem {
	if previous == nil {
		previous = []string{}
	}
	return r.activeRequirements(node, node.Extras, previous)
}

func newExtras(have []string, want []string) []string {
	seen := map[string]struct{}{}
	for _, extra := range have {
		seen[extra] = struct{}{}
	}
	var out []string
	for _, extra := range want {
		if _, ok := seen[extra]; ok {
			continue
		}
		seen[extra] = struct{}{}
		out = append(out, extra)
	}
	return out
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

type componentResult struct {
	id       int
	results  []types.NodeResult
	failures []types.NodeFailure
}

func (r *treeRun) convertAll(ctx context.Context, graph *DependencyGraph) {
	components := graph.Condense()
	remaining := make([]int, len(components))
	var ready []int
	for _, component := range components {
		remaining[component.ID] = len(component.Deps)
		if remaining[component.ID] == 0 {
			ready = append(ready, component.ID)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.request.Workers)
	done := make(chan componentResult, len(components))
	blocked := map[int]bool{}
	inflight := 0
	for len(ready) > 0 || inflight > 0 {
		for len(ready) > 0 && inflight < r.request.Workers {
			id := ready[0]
			ready = ready[1:]
			inflight++
			component := components[id]
			group.Go(func() error {
				done <- r.convertComponent(groupCtx, graph, component)
				return nil
			})
		}
		result := <-done
		inflight--
		r.report.Results = append(r.report.Results, result.results...)
		r.report.Failures = append(r.report.Failures, result.failures...)
		if len(result.failures) > 0 {
			cause := result.failures[0].Key
			for _, id := range Dependents(components, result.id) {
				if blocked[id] {
					continue
				}
				blocked[id] = true
				for _, member := range components[id].Members {
					r.report.Failures = append(r.report.Failures, types.NodeFailure{
						Key:     member,
						Outcome: types.NodeOutcomeBlocked,
						Err:     fmt.Errorf("dependency %s failed to convert", cause),
					})
				}
			}
			continue
		}
		for _, user := range components[result.id].Users {
			remaining[user]--
			if remaining[user] == 0 && !blocked[user] {
				ready = append(ready, user)
			}
		}
	}
	_ = group.Wait()
}

// convertComponent converts every member of a component. Members of a
// cycle are staged and published together once all of them succeeded.
func (r *treeRun) convertComponent(ctx context.Context, graph *DependencyGraph, component Component) componentResult {
	out := componentResult{id: component.ID}
	outputDir := r.request.RepoDir
	if len(component.Members) > 1 {
		staging, err := os.MkdirTemp(r.request.ScratchRoot, "conda-pypi-cycle-")
		if err != nil {
			return r.componentFailed(ctx, component, 0, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create staging directory").
				WithCause(err))
		}
		defer os.RemoveAll(staging)
		outputDir = staging
	}
	for i, key := range component.Members {
		result, err := r.convertNode(ctx, graph.Nodes[key], outputDir)
		if err != nil {
			return r.componentFailed(ctx, component, i, err)
		}
		out.results = append(out.results, result)
	}
	if outputDir == r.request.RepoDir {
		return out
	}
	for i, result := range out.results {
		if result.Outcome != types.NodeOutcomeConverted {
			continue
		}
		rel, err := filepath.Rel(outputDir, result.Artifact)
		if err == nil {
			published := filepath.Join(r.request.RepoDir, rel)
			if err = shared.MoveFile(result.Artifact, published); err == nil {
				out.results[i].Artifact = published
				continue
			}
		}
		return r.componentFailed(ctx, component, i, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to publish "+filepath.Base(result.Artifact)).
			WithCause(err))
	}
	return out
}

// componentFailed fails member failed with err; the rest of the component
// depends on it and is reported blocked.
func (r *treeRun) componentFailed(ctx context.Context, component Component, failed int, err error) componentResult {
	out := componentResult{id: component.ID}
	key := component.Members[failed]
	log.Ctx(ctx).Error().Err(err).Str("package", key.String()).Msg("package conversion failed")
	out.failures = append(out.failures, types.NodeFailure{Key: key, Outcome: types.NodeOutcomeFailed, Err: err})
	for j, other := range component.Members {
		if j == failed {
			continue
		}
		out.failures = append(out.failures, types.NodeFailure{
			Key:     other,
			Outcome: types.NodeOutcomeBlocked,
			Err:     fmt.Errorf("dependency %s failed to convert", key),
		})
	}
	return out
}

func (r *treeRun) convertNode(ctx context.Context, node *types.DependencyNode, outputDir string) (types.NodeResult, error) {
	result := types.NodeResult{Key: node.Key}
	if node.Resolution != nil {
		return result, node.Resolution
	}
	if node.External {
		result.Outcome = types.NodeOutcomeExternal
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	condaName := r.translator.Translate(node.Dist.Name)
	if existing, ok := r.existingArtifact(condaName, node); ok {
		log.Ctx(ctx).Info().Str("package", node.Key.String()).Str("artifact", existing).Msg("artifact already present, skipping")
		result.Outcome = types.NodeOutcomeSkipped
		result.Artifact = existing
		return result, nil
	}

	scratch, err := os.MkdirTemp(r.request.ScratchRoot, "conda-pypi-"+node.Key.Name+"-")
	if err != nil {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create scratch directory").
			WithCause(err)
	}
	defer os.RemoveAll(scratch)

	if node.Dist.EditableDir != "" && r.Sources != nil {
		artifact, err := r.Sources.Build(ctx, types.SourceBuildJob{
			SourcePath:    node.Dist.EditableDir,
			Distribution:  types.DistributionEditable,
			OutputDir:     outputDir,
			ChannelLayout: true,
			NameMapping:   r.request.NameMapping,
			Environment:   r.request.Environment,
		})
		if err != nil {
			return result, err
		}
		result.Outcome = types.NodeOutcomeConverted
		result.Artifact = artifact.Path
		return result, nil
	}

	wheelPath := node.WheelPath
	if wheelPath == "" {
		if r.Finder == nil {
			return result, shared.ResolutionError(
				fmt.Sprintf("no wheel available for %s and fetching is disabled", node.Key), nil)
		}
		fetched, err := r.Finder.FindAndFetch(ctx, r.request.CacheDir, node.Dist.Name, "=="+node.Key.Version)
		if err != nil {
			return result, err
		}
		wheelPath = fetched.Path
	}
	artifact, err := r.Converter.Convert(ctx, types.ConversionJob{
		WheelPath:     wheelPath,
		ScratchDir:    scratch,
		OutputDir:     outputDir,
		ChannelLayout: true,
		NameMapping:   r.request.NameMapping,
		Environment:   r.request.Environment,
	})
	if err != nil {
		return result, err
	}
	log.Ctx(ctx).Info().Str("package", node.Key.String()).Str("artifact", artifact.Filename).Msg("package converted")
	result.Outcome = types.NodeOutcomeConverted
	result.Artifact = artifact.Path
	return result, nil
}

// existingArtifact predicts the artifact name from the distribution's
// wheel tags. Without tags any build of the same version counts.
func (r *treeRun) existingArtifact(condaName string, node *types.DependencyNode) (string, bool) {
	version := CondaVersion(node.Key.Version)
	if len(node.Dist.Tags) == 0 {
		return r.Channel.FindArtifact(r.request.RepoDir, condaName, version, "")
	}
	pure := true
	for _, tag := range node.Dist.Tags {
		if tag.Platform != "any" {
			pure = false
			break
		}
	}
	build, subdir := BuildString(node.Dist.Tags, pure, r.request.Environment)
	path := filepath.Join(r.request.RepoDir, subdir, PredictFilename(condaName, version, build))
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "", false
}

// FailureSummary renders failures one per line for user output.
func FailureSummary(failures []types.NodeFailure) string {
	lines := make([]string, 0, len(failures))
	for _, failure := range failures {
		lines = append(lines, fmt.Sprintf("%s (%s): %v", failure.Key, failure.Outcome, failure.Err))
	}
	return strings.Join(lines, "\n")
}
