package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

const repodataFile = "repodata.json"

// ChannelIndexAdapter maintains repodata.json for a local channel
// directory laid out as <root>/<subdir>/*.conda.
type ChannelIndexAdapter struct {
	Wheels WheelArchiveAdapter
}

func NewChannelIndexAdapter() ChannelIndexAdapter {
	return ChannelIndexAdapter{Wheels: NewWheelArchiveAdapter()}
}

func (a ChannelIndexAdapter) Regenerate(ctx context.Context, root string) (types.IndexSummary, error) {
	if err := os.MkdirAll(filepath.Join(root, types.NoarchSubdir), 0755); err != nil {
		return types.IndexSummary{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create channel directory").
			WithCause(err)
	}
	subdirs, err := channelSubdirs(root)
	if err != nil {
		return types.IndexSummary{}, err
	}
	summary := types.IndexSummary{Root: root, Subdirs: subdirs}
	for _, subdir := range subdirs {
		records, reused, err := a.indexSubdir(ctx, root, subdir)
		if err != nil {
			return summary, err
		}
		summary.Records += records
		summary.Reused += reused
	}
	log.Ctx(ctx).Info().
		Str("channel", root).
		Strs("subdirs", subdirs).
		Int("records", summary.Records).
		Int("reused", summary.Reused).
		Msg("channel index regenerated")
	return summary, nil
}

func (a ChannelIndexAdapter) indexSubdir(ctx context.Context, root string, subdir string) (int, int, error) {
	dir := filepath.Join(root, subdir)
	previous, _ := readRepodata(filepath.Join(dir, repodataFile))
	known := map[string]types.RepoRecord{}
	for fn, record := range previous.PackagesConda {
		known[fn] = record
	}
	knownWheels := previous.PackagesWhl

	data := types.RepoData{
		Info:            types.RepoInfo{Subdir: subdir},
		Packages:        map[string]types.RepoRecord{},
		PackagesConda:   map[string]types.RepoRecord{},
		Removed:         []string{},
		RepodataVersion: types.RepodataVersion,
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list channel subdir " + subdir).
			WithCause(err)
	}
	reused := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fn := entry.Name()
		path := filepath.Join(dir, fn)
		switch {
		case strings.HasSuffix(fn, types.CondaExtension):
			digest, err := shared.DigestFile(path)
			if err != nil {
				return 0, 0, errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("failed to hash " + fn).
					WithCause(err)
			}
			if record, ok := known[fn]; ok && record.SHA256 == digest.SHA256 {
				data.PackagesConda[fn] = record
				reused++
				continue
			}
			pkg, err := readCondaIndex(path)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("package", fn).Msg("skipping unreadable package")
				continue
			}
			data.PackagesConda[fn] = repoRecord(pkg, subdir, digest)
		case strings.HasSuffix(fn, types.WheelExtension):
			record, ok, err := a.wheelRecord(path, subdir, knownWheels[fn])
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("wheel", fn).Msg("skipping unreadable wheel")
				continue
			}
			if ok {
				reused++
			}
			if data.PackagesWhl == nil {
				data.PackagesWhl = map[string]types.WheelRepoRecord{}
			}
			data.PackagesWhl[fn] = record
		}
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return 0, 0, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode repodata").
			WithCause(err)
	}
	if err := shared.WriteFileAtomic(filepath.Join(dir, repodataFile), append(encoded, '\n'), 0644); err != nil {
		return 0, 0, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write repodata for " + subdir).
			WithCause(err)
	}
	return len(data.PackagesConda) + len(data.PackagesWhl), reused, nil
}

// wheelRecord describes a wheel placed in the channel. An existing
// record with the same digest is kept so a remote url survives.
func (a ChannelIndexAdapter) wheelRecord(path string, subdir string, previous types.WheelRepoRecord) (types.WheelRepoRecord, bool, error) {
	digest, err := shared.DigestFile(path)
	if err != nil {
		return types.WheelRepoRecord{}, false, err
	}
	if previous.SHA256 != "" && previous.SHA256 == digest.SHA256 {
		return previous, true, nil
	}
	meta, err := a.Wheels.ReadMetadata(path)
	if err != nil {
		return types.WheelRepoRecord{}, false, err
	}
	translator := core.NewNameTranslator(nil)
	var unconditional []types.Requirement
	for _, req := range meta.Requires {
		if req.Marker == "" {
			unconditional = append(unconditional, req)
		}
	}
	translated, err := core.TranslateRequirements(unconditional, translator, nil, nil)
	if err != nil {
		return types.WheelRepoRecord{}, false, err
	}
	depends := translated.Depends
	if python, _ := core.PythonDependency(meta.RequiresPython, true, ""); python != "" {
		depends = append(depends, python)
	}
	sort.Strings(depends)
	fn := filepath.Base(path)
	return types.WheelRepoRecord{
		Name:    translator.Translate(meta.Name),
		Version: core.CondaVersion(meta.Version),
		Build:   types.PureBuildString,
		Depends: depends,
		Fn:      fn,
		URL:     fn,
		SHA256:  digest.SHA256,
		Size:    digest.Size,
		Subdir:  subdir,
	}, false, nil
}

func (a ChannelIndexAdapter) FindArtifact(root string, name string, version string, build string) (string, bool) {
	if build == "" {
		build = "*"
	}
	pattern := filepath.Join(root, "*", core.PredictFilename(name, version, build))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// ProvidedNames lists every package name recorded in the channel's
// repodata files.
func (a ChannelIndexAdapter) ProvidedNames(root string) (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", repodataFile))
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for _, path := range matches {
		data, err := readRepodata(path)
		if err != nil {
			return nil, err
		}
		for _, record := range data.Packages {
			names[record.Name] = struct{}{}
		}
		for _, record := range data.PackagesConda {
			names[record.Name] = struct{}{}
		}
		for _, record := range data.PackagesWhl {
			names[record.Name] = struct{}{}
		}
	}
	return names, nil
}

func channelSubdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("channel directory not found").
			WithCause(err)
	}
	subdirs := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		subdirs = append(subdirs, entry.Name())
	}
	sort.Strings(subdirs)
	return subdirs, nil
}

func readRepodata(path string) (types.RepoData, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.RepoData{}, nil
	}
	if err != nil {
		return types.RepoData{}, err
	}
	var repodata types.RepoData
	if err := json.Unmarshal(data, &repodata); err != nil {
		return types.RepoData{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid repodata " + path).
			WithCause(err)
	}
	return repodata, nil
}

func repoRecord(pkg types.PackageRecord, subdir string, digest shared.FileDigest) types.RepoRecord {
	if pkg.Subdir == "" {
		pkg.Subdir = subdir
	}
	depends := pkg.Depends
	if depends == nil {
		depends = []string{}
	}
	return types.RepoRecord{
		Name:        pkg.Name,
		Version:     pkg.Version,
		Build:       pkg.Build,
		BuildNumber: pkg.BuildNumber,
		Depends:     depends,
		License:     pkg.License,
		Noarch:      pkg.Noarch,
		Subdir:      pkg.Subdir,
		MD5:         digest.MD5,
		SHA256:      digest.SHA256,
		Size:        digest.Size,
	}
}

var _ ports.ChannelIndexPort = ChannelIndexAdapter{}
