package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

var requirementHead = regexp.MustCompile(`^\s*([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[([^\]]*)\])?\s*(.*)$`)

// ParseRequirement parses a PEP 508 requirement string such as
// `requests[socks] (>=2.8.1,<3) ; python_version >= "3.8"`.
// When only the version constraint is malformed the error comes with the
// requirement's name, extras and marker so callers can keep it unconstrained.
func ParseRequirement(raw string) (types.Requirement, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return types.Requirement{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("empty requirement")
	}
	marker := ""
	if idx := markerSeparator(text); idx >= 0 {
		marker = strings.TrimSpace(text[idx+1:])
		text = strings.TrimSpace(text[:idx])
	}
	match := requirementHead.FindStringSubmatch(text)
	if match == nil {
		return types.Requirement{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid requirement: %s", raw))
	}
	req := types.Requirement{
		Name:   match[1],
		Marker: marker,
	}
	for _, extra := range strings.Split(match[2], ",") {
		extra = shared.NormalizePipName(extra)
		if extra != "" {
			req.Extras = append(req.Extras, extra)
		}
	}
	rest := strings.TrimSpace(match[3])
	switch {
	case strings.HasPrefix(rest, "@"):
		req.URL = strings.TrimSpace(strings.TrimPrefix(rest, "@"))
	case rest != "":
		constraintLike := strings.IndexAny(rest[:1], "(<>=!~0123456789") == 0
		rest = strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
		req.Specifier = normalizeSpecifier(rest)
		if req.Specifier == "" || !startsWithOperator(req.Specifier) {
			err := errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid version specifier in requirement: %s", raw))
			if !constraintLike {
				return types.Requirement{}, err
			}
			req.Specifier = ""
			return req, err
		}
	}
	return req, nil
}

// ParseRequirements parses every non-empty, non-comment line. Lines that
// fail to parse are returned separately so callers can warn on them; a line
// whose constraint alone is malformed is also kept without its constraint.
func ParseRequirements(lines []string) ([]types.Requirement, []string) {
	var out []types.Requirement
	var invalid []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		req, err := ParseRequirement(line)
		if err != nil {
			invalid = append(invalid, line)
			if req.Name == "" {
				continue
			}
		}
		out = append(out, req)
	}
	return out, invalid
}

// RequirementApplies reports whether req is active for env when the
// given extras of the owning distribution were requested.
func RequirementApplies(req types.Requirement, env map[string]string, extras []string) (bool, error) {
	if strings.TrimSpace(req.Marker) == "" {
		return true, nil
	}
	return EvaluateMarker(req.Marker, env, extras)
}

func markerSeparator(text string) int {
	if strings.Contains(text, "@") {
		// URL requirements need whitespace before the marker separator.
		if idx := strings.Index(text, " ;"); idx >= 0 {
			return idx + 1
		}
		return -1
	}
	return strings.Index(text, ";")
}

func normalizeSpecifier(value string) string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Join(strings.Fields(part), "")
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ",")
}

func startsWithOperator(spec string) bool {
	return strings.IndexAny(spec[:1], "<>=!~") == 0
}
