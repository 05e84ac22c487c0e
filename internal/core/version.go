package core

import (
	"sort"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// versionCache memoizes parsed version objects to avoid repeated parsing
// during constraint evaluation and sorting.
type versionCache struct {
	pep  map[string]pep440.Version
	bad  map[string]struct{}
	spec map[string]pep440.Specifiers
}

func newVersionCache() *versionCache {
	return &versionCache{
		pep:  map[string]pep440.Version{},
		bad:  map[string]struct{}{},
		spec: map[string]pep440.Specifiers{},
	}
}

// version returns a parsed PEP 440 version, caching the result.
func (c *versionCache) version(value string) (pep440.Version, bool) {
	if parsed, ok := c.pep[value]; ok {
		return parsed, true
	}
	if _, ok := c.bad[value]; ok {
		return pep440.Version{}, false
	}
	parsed, err := pep440.Parse(value)
	if err != nil {
		c.bad[value] = struct{}{}
		return pep440.Version{}, false
	}
	c.pep[value] = parsed
	return parsed, true
}

// specifiers returns parsed PEP 440 specifiers, caching the result.
// Pre-releases are admitted; ranking prefers finals separately.
func (c *versionCache) specifiers(value string) (pep440.Specifiers, error) {
	if parsed, ok := c.spec[value]; ok {
		return parsed, nil
	}
	parsed, err := pep440.NewSpecifiers(value, pep440.WithPreRelease(true))
	if err != nil {
		return pep440.Specifiers{}, err
	}
	c.spec[value] = parsed
	return parsed, nil
}

// satisfies reports whether version matches specifier. An empty
// specifier matches every parseable version.
func (c *versionCache) satisfies(version string, specifier string) (bool, error) {
	parsed, ok := c.version(version)
	if !ok {
		return false, nil
	}
	if specifier == "" {
		return true, nil
	}
	spec, err := c.specifiers(specifier)
	if err != nil {
		return false, err
	}
	return spec.Check(parsed), nil
}

// compare returns -1, 0, or 1 comparing two version strings. Versions
// that fail to parse sort below every valid version.
func (c *versionCache) compare(a string, b string) int {
	v1, ok1 := c.version(a)
	v2, ok2 := c.version(b)
	switch {
	case !ok1 && !ok2:
		return 0
	case !ok1:
		return -1
	case !ok2:
		return 1
	}
	return v1.Compare(v2)
}

func (c *versionCache) isPreRelease(value string) bool {
	parsed, ok := c.version(value)
	return ok && parsed.IsPreRelease()
}

// SatisfiesSpecifier reports whether version matches a PEP 440 specifier.
func SatisfiesSpecifier(version string, specifier string) (bool, error) {
	return newVersionCache().satisfies(version, normalizeSpecifier(specifier))
}

// SortVersionsDesc orders PEP 440 versions from highest to lowest.
func SortVersionsDesc(versions []string) []string {
	cache := newVersionCache()
	out := append([]string(nil), versions...)
	sort.SliceStable(out, func(i, j int) bool {
		return cache.compare(out[i], out[j]) > 0
	})
	return out
}
