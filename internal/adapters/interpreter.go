package adapters

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// describeScript prints the interpreter facts the converter needs. Tags
// come from packaging, or pip's vendored copy, when either is importable.
const describeScript = `
import json, os, platform, sys, sysconfig
tags = None
try:
    from packaging import tags
except ImportError:
    try:
        from pip._vendor.packaging import tags
    except ImportError:
        tags = None
impl = sys.implementation
iver = "{0.major}.{0.minor}.{0.micro}".format(impl.version)
if impl.version.releaselevel != "final":
    iver += impl.version.releaselevel[0] + str(impl.version.serial)
markers = {
    "implementation_name": impl.name,
    "implementation_version": iver,
    "os_name": os.name,
    "platform_machine": platform.machine(),
    "platform_python_implementation": platform.python_implementation(),
    "platform_release": platform.release(),
    "platform_system": platform.system(),
    "platform_version": platform.version(),
    "python_full_version": platform.python_version(),
    "python_version": ".".join(platform.python_version_tuple()[:2]),
    "sys_platform": sys.platform,
}
print(json.dumps({
    "version": platform.python_version(),
    "implementation": impl.name,
    "platform": sysconfig.get_platform(),
    "purelib": sysconfig.get_paths()["purelib"],
    "tags": [str(t) for t in tags.sys_tags()] if tags else [],
    "markers": markers,
}))
`

type interpreterReport struct {
	Version        string            `json:"version"`
	Implementation string            `json:"implementation"`
	Platform       string            `json:"platform"`
	Purelib        string            `json:"purelib"`
	Tags           []string          `json:"tags"`
	Markers        map[string]string `json:"markers"`
}

type InterpreterAdapter struct{}

func NewInterpreterAdapter() InterpreterAdapter {
	return InterpreterAdapter{}
}

// PythonExecutable returns the interpreter path inside an environment.
func PythonExecutable(prefix string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(prefix, "python.exe")
	}
	return filepath.Join(prefix, "bin", "python")
}

func (a InterpreterAdapter) Describe(ctx context.Context, prefix string) (types.Environment, error) {
	if strings.TrimSpace(prefix) == "" {
		return types.Environment{}, shared.ConfigurationError("environment prefix is required", nil)
	}
	python := PythonExecutable(prefix)
	if _, err := os.Stat(python); err != nil {
		return types.Environment{}, shared.ConfigurationError("no python interpreter found in "+prefix, err)
	}
	cmd := exec.CommandContext(ctx, python, "-c", describeScript)
	output, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = exitErr.Stderr
		}
		return types.Environment{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to inspect python interpreter " + python).
			WithCause(shared.CommandError(stderr, err))
	}
	env, err := environmentFromReport(prefix, python, output)
	if err != nil {
		return types.Environment{}, err
	}
	log.Ctx(ctx).Debug().
		Str("python", env.PythonVersion).
		Str("subdir", env.Subdir).
		Int("tags", len(env.Tags)).
		Msg("interpreter described")
	return env, nil
}

func environmentFromReport(prefix string, python string, output []byte) (types.Environment, error) {
	var report interpreterReport
	if err := json.Unmarshal(output, &report); err != nil {
		return types.Environment{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to decode interpreter description").
			WithCause(err)
	}
	env := types.Environment{
		Prefix:         prefix,
		Python:         python,
		PythonVersion:  report.Version,
		Implementation: report.Implementation,
		Platform:       report.Platform,
		Subdir:         core.SubdirForSysconfigPlatform(report.Platform),
		Purelib:        report.Purelib,
		Markers:        report.Markers,
	}
	for _, raw := range report.Tags {
		tags, err := core.ParseTag(raw)
		if err != nil {
			continue
		}
		env.Tags = append(env.Tags, tags...)
	}
	if len(env.Tags) == 0 {
		env.Tags = core.BasicTags(env)
	}
	return env, nil
}

var _ ports.InterpreterPort = InterpreterAdapter{}
