package core

import (
	"fmt"
	"sort"
	"strconv"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// WheelCandidate is one wheel file advertised by a package index.
type WheelCandidate struct {
	Wheel  types.WheelFilename
	URL    string
	SHA256 string
}

type rankedCandidate struct {
	WheelCandidate
	priority   int
	prerelease bool
	build      int
}

// SelectWheel picks the best wheel for name among candidates: versions
// satisfying specifier only, finals before pre-releases when any final
// qualifies, highest version, then the most specific supported tag,
// then the highest build tag.
func SelectWheel(name string, specifier string, candidates []WheelCandidate, supported []types.WheelTag) (WheelCandidate, error) {
	want := shared.NormalizePipName(name)
	specifier = normalizeSpecifier(specifier)
	cache := newVersionCache()
	var matching []rankedCandidate
	versionMatched := false
	for _, candidate := range candidates {
		if NormalizedWheelName(candidate.Wheel) != want {
			continue
		}
		ok, err := cache.satisfies(candidate.Wheel.Version, specifier)
		if err != nil {
			return WheelCandidate{}, shared.ResolutionError(
				fmt.Sprintf("invalid version constraint %q for %s", specifier, name), err)
		}
		if !ok {
			continue
		}
		versionMatched = true
		priority := TagPriority(candidate.Wheel.Tags, supported)
		if priority < 0 {
			continue
		}
		build, _ := strconv.Atoi(leadingDigits(candidate.Wheel.Build))
		matching = append(matching, rankedCandidate{
			WheelCandidate: candidate,
			priority:       priority,
			prerelease:     cache.isPreRelease(candidate.Wheel.Version),
			build:          build,
		})
	}
	if len(matching) == 0 {
		if !versionMatched {
			return WheelCandidate{}, shared.ResolutionError(
				fmt.Sprintf("no version of %s satisfies %q", name, specifier), nil)
		}
		return WheelCandidate{}, shared.ResolutionError(
			fmt.Sprintf("no compatible wheel for %s in this environment", name), nil)
	}
	hasFinal := false
	for _, candidate := range matching {
		if !candidate.prerelease {
			hasFinal = true
			break
		}
	}
	if hasFinal {
		finals := matching[:0]
		for _, candidate := range matching {
			if !candidate.prerelease {
				finals = append(finals, candidate)
			}
		}
		matching = finals
	}
	sort.SliceStable(matching, func(i, j int) bool {
		a, b := matching[i], matching[j]
		if cmp := cache.compare(a.Wheel.Version, b.Wheel.Version); cmp != 0 {
			return cmp > 0
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.build > b.build
	})
	return matching[0].WheelCandidate, nil
}

func leadingDigits(value string) string {
	end := 0
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	return value[:end]
}
