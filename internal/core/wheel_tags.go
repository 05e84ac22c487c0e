package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

var wheelFilenamePattern = regexp.MustCompile(`^([^-]+)-([^-]+)(?:-([0-9][^-]*))?-([^-]+)-([^-]+)-([^-]+)\.whl$`)

// ParseWheelFilename decomposes a wheel filename, expanding compressed
// tag sets such as py2.py3-none-any.
func ParseWheelFilename(filename string) (types.WheelFilename, error) {
	match := wheelFilenamePattern.FindStringSubmatch(filename)
	if match == nil {
		return types.WheelFilename{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid wheel filename: %s", filename))
	}
	return types.WheelFilename{
		Filename: filename,
		Name:     match[1],
		Version:  match[2],
		Build:    match[3],
		Tags:     ExpandTags(match[4], match[5], match[6]),
	}, nil
}

// ExpandTags returns the cartesian product of dotted tag components.
func ExpandTags(python string, abi string, platform string) []types.WheelTag {
	var tags []types.WheelTag
	for _, py := range strings.Split(python, ".") {
		for _, a := range strings.Split(abi, ".") {
			for _, plat := range strings.Split(platform, ".") {
				tags = append(tags, types.WheelTag{Python: py, ABI: a, Platform: plat})
			}
		}
	}
	return tags
}

// ParseTag parses one "python-abi-platform" tag string.
func ParseTag(value string) ([]types.WheelTag, error) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) != 3 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid wheel tag: %s", value))
	}
	return ExpandTags(parts[0], parts[1], parts[2]), nil
}

// TagPriority returns the index of the best environment tag supported
// by any of tags, or -1 when none is compatible. Lower is better.
func TagPriority(tags []types.WheelTag, supported []types.WheelTag) int {
	index := make(map[types.WheelTag]int, len(supported))
	for i, tag := range supported {
		if _, ok := index[tag]; !ok {
			index[tag] = i
		}
	}
	best := -1
	for _, tag := range tags {
		if i, ok := index[tag]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// BuildString returns the conda build string and subdir for a wheel.
// Pure wheels are noarch; platform wheels embed the interpreter tag
// since their depends pin the interpreter minor version.
func BuildString(tags []types.WheelTag, pure bool, env types.Environment) (string, string) {
	if pure {
		return types.PureBuildString, types.NoarchSubdir
	}
	platform := ""
	if best := TagPriority(tags, env.Tags); best >= 0 {
		platform = env.Tags[best].Platform
	} else if len(tags) > 0 {
		platform = tags[0].Platform
	}
	subdir := SubdirForPlatformTag(platform)
	if subdir == "" {
		subdir = env.Subdir
	}
	return InterpreterTag(env) + "_" + types.PureBuildString, subdir
}

// InterpreterTag returns e.g. "cp312" for a CPython 3.12 environment.
func InterpreterTag(env types.Environment) string {
	prefix := "cp"
	switch strings.ToLower(env.Implementation) {
	case "pypy":
		prefix = "pp"
	case "", "cpython":
	default:
		prefix = "py"
	}
	return prefix + strings.ReplaceAll(env.PythonMinor(), ".", "")
}

// SubdirForPlatformTag maps a wheel platform tag onto a conda subdir.
func SubdirForPlatformTag(platform string) string {
	platform = strings.ToLower(platform)
	switch {
	case platform == "" || platform == "any":
		return ""
	case platform == "win_amd64":
		return "win-64"
	case platform == "win32":
		return "win-32"
	case platform == "win_arm64":
		return "win-arm64"
	case strings.HasPrefix(platform, "macosx_"):
		switch {
		case strings.HasSuffix(platform, "_arm64"):
			return "osx-arm64"
		case strings.HasSuffix(platform, "_x86_64"), strings.HasSuffix(platform, "_intel"):
			return "osx-64"
		}
		return ""
	case strings.Contains(platform, "linux"):
		return linuxSubdir(platform)
	}
	return ""
}

// SubdirForSysconfigPlatform maps sysconfig.get_platform() output onto a
// conda subdir, e.g. "linux-x86_64" -> "linux-64".
func SubdirForSysconfigPlatform(platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	switch {
	case platform == "win-amd64":
		return "win-64"
	case platform == "win32":
		return "win-32"
	case platform == "win-arm64":
		return "win-arm64"
	case strings.HasPrefix(platform, "macosx-"):
		if strings.HasSuffix(platform, "-arm64") {
			return "osx-arm64"
		}
		return "osx-64"
	case strings.HasPrefix(platform, "linux-"):
		return linuxSubdir(platform)
	}
	return ""
}

var linuxArches = []string{"x86_64", "i686", "aarch64", "ppc64le", "s390x", "armv7l", "riscv64"}

func linuxSubdir(platform string) string {
	for _, arch := range linuxArches {
		if !strings.HasSuffix(platform, arch) {
			continue
		}
		switch arch {
		case "x86_64":
			return "linux-64"
		case "i686":
			return "linux-32"
		case "aarch64":
			return "linux-aarch64"
		default:
			return "linux-" + arch
		}
	}
	return ""
}

// BasicTags computes a conservative supported tag list for a CPython
// interpreter when the environment cannot report its own.
func BasicTags(env types.Environment) []types.WheelTag {
	interp := InterpreterTag(env)
	minor := strings.ReplaceAll(env.PythonMinor(), ".", "")
	platforms := platformTagsForSubdir(env.Subdir)
	var tags []types.WheelTag
	for _, plat := range platforms {
		tags = append(tags,
			types.WheelTag{Python: interp, ABI: interp, Platform: plat},
			types.WheelTag{Python: interp, ABI: "abi3", Platform: plat},
			types.WheelTag{Python: interp, ABI: "none", Platform: plat},
		)
	}
	for _, plat := range platforms {
		tags = append(tags, types.WheelTag{Python: "py" + minor, ABI: "none", Platform: plat})
	}
	tags = append(tags,
		types.WheelTag{Python: "py" + minor, ABI: "none", Platform: "any"},
		types.WheelTag{Python: "py" + minor[:1], ABI: "none", Platform: "any"},
	)
	return tags
}

func platformTagsForSubdir(subdir string) []string {
	switch subdir {
	case "linux-64":
		return manylinux("x86_64")
	case "linux-aarch64":
		return manylinux("aarch64")
	case "linux-ppc64le":
		return manylinux("ppc64le")
	case "osx-arm64":
		return []string{"macosx_11_0_arm64", "macosx_11_0_universal2"}
	case "osx-64":
		return []string{"macosx_10_9_x86_64", "macosx_10_9_universal2", "macosx_10_9_intel"}
	case "win-64":
		return []string{"win_amd64"}
	case "win-32":
		return []string{"win32"}
	}
	return nil
}

func manylinux(arch string) []string {
	var out []string
	for minor := 39; minor >= 17; minor-- {
		out = append(out, fmt.Sprintf("manylinux_2_%d_%s", minor, arch))
		if minor == 17 {
			out = append(out, "manylinux2014_"+arch)
		}
	}
	if arch == "x86_64" {
		out = append(out, "manylinux2010_"+arch, "manylinux1_"+arch)
	}
	return append(out, "linux_"+arch)
}

// PredictFilename returns the artifact filename a conversion of the
// given distribution would produce.
func PredictFilename(condaName string, version string, build string) string {
	return fmt.Sprintf("%s-%s-%s%s", condaName, CondaVersion(version), build, types.CondaExtension)
}

// NormalizedWheelName returns the PEP 503 name of a parsed wheel file.
func NormalizedWheelName(wheel types.WheelFilename) string {
	return shared.NormalizePipName(wheel.Name)
}
