package core

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"

	"conda-pypi/internal/types"
)

// specOps is the ordered list of PEP 440 operators tried during clause
// parsing. Longer tokens must precede shorter ones to avoid false
// matches (e.g. ">=" before ">").
var releasePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*`)

var specOps = []string{"===", "~=", "==", "!=", "<=", ">=", "<", ">"}

// TranslateSpecifier converts a PEP 440 specifier set into the conda
// match spec version syntax. Unsupported or unparseable specifiers
// return an InvalidArgument error; callers drop the constraint.
func TranslateSpecifier(specifier string) (string, error) {
	specifier = normalizeSpecifier(specifier)
	if specifier == "" {
		return "", nil
	}
	if _, err := pep440.NewSpecifiers(specifier, pep440.WithPreRelease(true)); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unparseable version specifier %q", specifier)).
			WithCause(err)
	}
	var clauses []string
	for _, clause := range strings.Split(specifier, ",") {
		op, version := splitClause(clause)
		switch op {
		case "":
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("missing operator in specifier %q", clause))
		case "===":
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("arbitrary equality is not supported: %q", clause))
		case "==":
			if strings.HasSuffix(version, ".*") {
				clauses = append(clauses, version)
				continue
			}
			clauses = append(clauses, "=="+version)
		case "~=":
			prefix, err := compatiblePrefix(version)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, ">="+version, prefix)
		default:
			clauses = append(clauses, op+version)
		}
	}
	return strings.Join(clauses, ","), nil
}

// CondaDependency renders "name spec" for a conda depends entry.
func CondaDependency(name string, spec string) string {
	if spec == "" {
		return name
	}
	return name + " " + spec
}

// DependencyTranslation is the outcome of translating a wheel's runtime
// requirements into conda depends entries.
type DependencyTranslation struct {
	Depends  []string
	Warnings []string
}

// TranslateRequirements maps the active requirements of a distribution
// onto conda depends. Constraints that cannot be translated are dropped
// with a warning while the dependency itself is kept.
func TranslateRequirements(reqs []types.Requirement, translator NameTranslator, env map[string]string, extras []string) (DependencyTranslation, error) {
	out := DependencyTranslation{}
	for _, req := range reqs {
		active, err := RequirementApplies(req, env, extras)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", req.Name, err))
			continue
		}
		if !active {
			continue
		}
		name := translator.Translate(req.Name)
		spec, err := TranslateSpecifier(req.Specifier)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: dropped constraint %q: %v", req.Name, req.Specifier, err))
			spec = ""
		}
		if req.URL != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: dropped direct reference %s", req.Name, req.URL))
		}
		out.Depends = append(out.Depends, CondaDependency(name, spec))
	}
	out.Depends = mergeDepends(out.Depends)
	return out, nil
}

// PythonDependency returns the python depends entry for a package.
// Platform builds pin the interpreter minor version they were built for.
func PythonDependency(requiresPython string, pure bool, pythonMinor string) (string, string) {
	if !pure && pythonMinor != "" {
		upper, err := nextMinor(pythonMinor)
		if err == nil {
			return CondaDependency("python", ">="+pythonMinor+","+upper), ""
		}
	}
	spec, err := TranslateSpecifier(requiresPython)
	if err != nil {
		return "python", fmt.Sprintf("python: dropped Requires-Python %q: %v", requiresPython, err)
	}
	return CondaDependency("python", spec), ""
}

// CondaVersion normalizes a PEP 440 version for use as a conda version.
func CondaVersion(version string) string {
	parsed, err := pep440.Parse(version)
	if err != nil {
		return strings.ReplaceAll(strings.TrimSpace(version), "-", "_")
	}
	return parsed.String()
}

func nextMinor(minor string) (string, error) {
	parts := strings.Split(minor, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid python version %q", minor)
	}
	value, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<%s.%d.0a0", parts[0], value+1), nil
}

// compatiblePrefix returns the prefix match equivalent to the upper
// bound of a compatible release clause: "1.4.2" gives "1.4.*".
func compatiblePrefix(version string) (string, error) {
	release := releasePattern.FindString(version)
	parts := strings.Split(release, ".")
	if len(parts) < 2 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("compatible release needs at least two components: %q", version))
	}
	return strings.Join(parts[:len(parts)-1], ".") + ".*", nil
}

func splitClause(clause string) (string, string) {
	for _, op := range specOps {
		if strings.HasPrefix(clause, op) {
			return op, strings.TrimSpace(clause[len(op):])
		}
	}
	return "", clause
}

// mergeDepends collapses repeated names into one entry, joining their
// version clauses, and sorts the result.
func mergeDepends(depends []string) []string {
	order := map[string][]string{}
	for _, dep := range depends {
		name, spec, _ := strings.Cut(dep, " ")
		clauses := order[name]
		if spec != "" {
			clauses = append(clauses, spec)
		}
		order[name] = clauses
	}
	out := make([]string, 0, len(order))
	for name, clauses := range order {
		out = append(out, CondaDependency(name, strings.Join(uniqueClauses(clauses), ",")))
	}
	sort.Strings(out)
	return out
}

func uniqueClauses(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
