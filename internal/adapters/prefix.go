package adapters

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/types"
)

type PrefixScanAdapter struct{}

func NewPrefixScanAdapter() PrefixScanAdapter {
	return PrefixScanAdapter{}
}

type directURL struct {
	URL     string `json:"url"`
	DirInfo *struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// InstalledDistributions reads every *.dist-info directory in the
// environment's site-packages.
func (a PrefixScanAdapter) InstalledDistributions(ctx context.Context, env types.Environment) ([]types.InstalledDistribution, error) {
	sitePackages, err := sitePackagesDir(env)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(sitePackages, "*.dist-info"))
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list installed distributions").
			WithCause(err)
	}
	sort.Strings(matches)
	var out []types.InstalledDistribution
	for _, distInfo := range matches {
		dist, err := readInstalledDistribution(distInfo)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("path", distInfo).Msg("skipping unreadable distribution")
			continue
		}
		out = append(out, dist)
	}
	log.Ctx(ctx).Debug().Str("site_packages", sitePackages).Int("distributions", len(out)).Msg("prefix scanned")
	return out, nil
}

func readInstalledDistribution(distInfo string) (types.InstalledDistribution, error) {
	data, err := os.ReadFile(filepath.Join(distInfo, "METADATA"))
	if err != nil {
		return types.InstalledDistribution{}, err
	}
	meta, _, err := core.ParseMetadata(data)
	if err != nil {
		return types.InstalledDistribution{}, err
	}
	meta.DistInfoDir = filepath.Base(distInfo)
	dist := types.InstalledDistribution{
		Name:     meta.Name,
		Version:  meta.Version,
		DistInfo: distInfo,
		Metadata: meta,
	}
	if wheel, err := os.ReadFile(filepath.Join(distInfo, "WHEEL")); err == nil {
		tags, _, err := core.ParseWheelInfo(wheel)
		if err == nil {
			dist.Tags = tags
			dist.Metadata.Tags = tags
		}
	}
	if raw, err := os.ReadFile(filepath.Join(distInfo, "direct_url.json")); err == nil {
		var direct directURL
		if json.Unmarshal(raw, &direct) == nil {
			dist.DirectURL = direct.URL
			if direct.DirInfo != nil && direct.DirInfo.Editable {
				dist.EditableDir = localPath(direct.URL)
			}
		}
	}
	return dist, nil
}

func sitePackagesDir(env types.Environment) (string, error) {
	if env.Purelib != "" {
		return env.Purelib, nil
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(env.Prefix, "Lib", "site-packages"), nil
	}
	matches, _ := filepath.Glob(filepath.Join(env.Prefix, "lib", "python*", "site-packages"))
	if len(matches) == 0 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("no site-packages directory found in " + env.Prefix)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func localPath(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "file" {
		return ""
	}
	path := parsed.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	return filepath.FromSlash(path)
}

var _ ports.PrefixPort = PrefixScanAdapter{}
