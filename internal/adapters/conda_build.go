package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// CondaBuildAdapter converts a single wheel into a .conda package.
type CondaBuildAdapter struct {
	Wheels WheelArchiveAdapter
	// HostOS selects the test runner script variant for platform builds
	// without an explicit subdir mapping. Defaults to runtime.GOOS.
	HostOS string
}

func NewCondaBuildAdapter() CondaBuildAdapter {
	return CondaBuildAdapter{
		Wheels: NewWheelArchiveAdapter(),
		HostOS: runtime.GOOS,
	}
}

func (a CondaBuildAdapter) Convert(ctx context.Context, job types.ConversionJob) (types.TargetArtifact, error) {
	assert.NotEmpty(ctx, job.WheelPath, "wheel path must be set")
	assert.NotEmpty(ctx, job.OutputDir, "output dir must be set")
	if strings.TrimSpace(job.ScratchDir) == "" {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("scratch directory is required")
	}
	unpackDir := filepath.Join(job.ScratchDir, "wheel")
	meta, warnings, err := a.Wheels.Unpack(job.WheelPath, unpackDir)
	if err != nil {
		return types.TargetArtifact{}, err
	}

	translator := core.NewNameTranslator(job.NameMapping)
	env := job.Environment
	pure := meta.IsPure()
	record := types.PackageRecord{
		Name:    translator.Translate(meta.Name),
		Version: core.CondaVersion(meta.Version),
		License: meta.License,
	}
	record.Build, record.Subdir = core.BuildString(meta.Tags, pure, env)
	if pure {
		record.Noarch = "python"
	}
	if !pure && record.Subdir == "" {
		return types.TargetArtifact{}, shared.ConfigurationError(
			fmt.Sprintf("cannot determine the platform of %s; the interpreter environment is required for platform wheels", filepath.Base(job.WheelPath)), nil)
	}

	deps, err := core.TranslateRequirements(meta.Requires, translator, env.Markers, nil)
	if err != nil {
		return types.TargetArtifact{}, err
	}
	pythonDep, pythonWarning := core.PythonDependency(meta.RequiresPython, pure, env.PythonMinor())
	record.Depends = mergeDependsWithPython(deps.Depends, pythonDep)
	warnings = append(warnings, deps.Warnings...)
	if pythonWarning != "" {
		warnings = append(warnings, pythonWarning)
	}
	for _, warning := range warnings {
		log.Ctx(ctx).Warn().Str("package", meta.Name).Msg(warning)
	}

	layout := newPackageLayout(pure, record.Subdir, env.PythonMinor(), record.Name)
	pkg, err := layout.collect(unpackDir, meta)
	if err != nil {
		return types.TargetArtifact{}, err
	}
	if !pure {
		launchers, err := layout.launchers(meta)
		if err != nil {
			return types.TargetArtifact{}, err
		}
		if len(launchers) == 0 && len(meta.ConsoleScripts)+len(meta.GUIScripts) > 0 {
			log.Ctx(ctx).Warn().Str("package", meta.Name).Msg("entry point launchers are not generated for windows packages")
		}
		pkg = append(pkg, launchers...)
	}

	info, err := a.infoEntries(ctx, job, meta, record, translator, pkg)
	if err != nil {
		return types.TargetArtifact{}, err
	}

	stem := fmt.Sprintf("%s-%s-%s", record.Name, record.Version, record.Build)
	outDir := job.OutputDir
	if job.ChannelLayout {
		outDir = filepath.Join(outDir, record.Subdir)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create output directory").
			WithCause(err)
	}
	target := filepath.Join(outDir, stem+types.CondaExtension)
	if err := writeCondaPackage(target, stem, pkg.entries(), info); err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write conda package " + target).
			WithCause(err)
	}
	digest, err := shared.DigestFile(target)
	if err != nil {
		return types.TargetArtifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to hash conda package").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().
		Str("package", record.Name).
		Str("version", record.Version).
		Str("build", record.Build).
		Int("files", len(pkg)).
		Msg("conda package written")
	return types.TargetArtifact{
		Path:     target,
		Filename: filepath.Base(target),
		Record:   record,
		MD5:      digest.MD5,
		SHA256:   digest.SHA256,
		Size:     digest.Size,
	}, nil
}

func (a CondaBuildAdapter) infoEntries(ctx context.Context, job types.ConversionJob, meta types.WheelMetadata, record types.PackageRecord, translator core.NameTranslator, pkg packageFiles) ([]archiveEntry, error) {
	var info []archiveEntry
	addJSON := func(name string, value any) error {
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to marshal " + name).
				WithCause(err)
		}
		info = append(info, archiveEntry{Name: name, Data: append(data, '\n')})
		return nil
	}

	if err := addJSON("info/index.json", record); err != nil {
		return nil, err
	}
	about := types.AboutRecord{
		Summary:     meta.Summary,
		License:     meta.License,
		Home:        meta.HomePage,
		PypiName:    meta.Name,
		PypiVersion: meta.Version,
		Editable:    job.Editable,
	}
	if err := addJSON("info/about.json", about); err != nil {
		return nil, err
	}
	if err := addJSON("info/paths.json", types.PathsRecord{Paths: pkg.pathEntries(), PathsVersion: 1}); err != nil {
		return nil, err
	}
	info = append(info, archiveEntry{Name: "info/files", Data: []byte(strings.Join(pkg.names(), "\n") + "\n")})
	if record.Noarch == "python" {
		link := types.LinkRecord{
			Noarch:                 types.NoarchLink{Type: "python"},
			PackageMetadataVersion: 1,
		}
		for _, entry := range append(append([]types.EntryPoint(nil), meta.ConsoleScripts...), meta.GUIScripts...) {
			link.Noarch.EntryPoints = append(link.Noarch.EntryPoints, entry.String())
		}
		if err := addJSON("info/link.json", link); err != nil {
			return nil, err
		}
	}
	if job.TestDir != "" {
		tests, err := a.testEntries(ctx, job, meta, record, translator)
		if err != nil {
			return nil, err
		}
		info = append(info, tests...)
	}
	return info, nil
}

// testEntries copies the test directory into info/test and adds the
// runner scripts and test_time_dependencies.json it lacks.
func (a CondaBuildAdapter) testEntries(ctx context.Context, job types.ConversionJob, meta types.WheelMetadata, record types.PackageRecord, translator core.NameTranslator) ([]archiveEntry, error) {
	var entries []archiveEntry
	present := map[string]bool{}
	err := filepath.WalkDir(job.TestDir, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(job.TestDir, current)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		present[rel] = true
		entries = append(entries, archiveEntry{Name: "info/test/" + rel, Source: current, Mode: fileMode(current)})
		return nil
	})
	if err != nil {
		return nil, shared.ConfigurationError("failed to read test directory "+job.TestDir, err)
	}

	imports := importNames(meta, translator)
	for _, runner := range a.runnerScripts(record) {
		if present[runner] {
			continue
		}
		entries = append(entries, archiveEntry{
			Name: "info/test/" + runner,
			Data: []byte(renderRunner(runner, imports)),
			Mode: 0755,
		})
	}

	if !present["test_time_dependencies.json"] {
		var depends []string
		if present["run_test.py"] {
			depends = append(depends, "python")
		}
		if data, err := os.ReadFile(filepath.Join(job.TestDir, "requirements.txt")); err == nil {
			reqs, invalid := core.ParseRequirements(strings.Split(string(data), "\n"))
			for _, line := range invalid {
				log.Ctx(ctx).Warn().Str("requirement", line).Msg("ignored unparseable test requirement")
			}
			translated, err := core.TranslateRequirements(reqs, translator, job.Environment.Markers, nil)
			if err != nil {
				return nil, err
			}
			depends = append(depends, translated.Depends...)
		}
		depends = shared.UniqueSorted(depends)
		if depends == nil {
			depends = []string{}
		}
		data, err := json.Marshal(depends)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to marshal test dependencies").
				WithCause(err)
		}
		entries = append(entries, archiveEntry{Name: "info/test/test_time_dependencies.json", Data: data})
	}
	return entries, nil
}

// runnerScripts lists the runner variants a package needs: both for
// noarch packages, otherwise the one for the package's platform.
func (a CondaBuildAdapter) runnerScripts(record types.PackageRecord) []string {
	if record.Noarch != "" {
		if a.HostOS == "windows" {
			return []string{"run_test.bat", "run_test.sh"}
		}
		return []string{"run_test.sh", "run_test.bat"}
	}
	if strings.HasPrefix(record.Subdir, "win-") {
		return []string{"run_test.bat"}
	}
	return []string{"run_test.sh"}
}

func renderRunner(name string, imports []string) string {
	var b strings.Builder
	if strings.HasSuffix(name, ".bat") {
		b.WriteString("@echo on\r\n")
		for _, module := range imports {
			fmt.Fprintf(&b, "python -c \"import %s\"\r\n", module)
			b.WriteString("IF %ERRORLEVEL% NEQ 0 exit /B 1\r\n")
		}
		b.WriteString("exit /B 0\r\n")
		return b.String()
	}
	b.WriteString("#!/bin/bash\nset -ex\n\n")
	for _, module := range imports {
		fmt.Fprintf(&b, "python -c \"import %s\"\n", module)
	}
	return b.String()
}

func importNames(meta types.WheelMetadata, translator core.NameTranslator) []string {
	if name := translator.ImportName(meta.Name); name != "" {
		return []string{name}
	}
	var out []string
	for _, module := range meta.TopLevel {
		if module != "" && !strings.HasPrefix(module, "_") {
			out = append(out, strings.ReplaceAll(module, "/", "."))
		}
	}
	if len(out) == 0 {
		out = append(out, strings.ReplaceAll(shared.NormalizePipName(meta.Name), "-", "_"))
	}
	return shared.UniqueSorted(out)
}

func mergeDependsWithPython(depends []string, python string) []string {
	out := []string{python}
	for _, dep := range depends {
		name, _, _ := strings.Cut(dep, " ")
		if name == "python" {
			continue
		}
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Package layout
// ---------------------------------------------------------------------------

type packageFile struct {
	archiveEntry
	sha256      string
	size        int64
	placeholder bool
}

type packageFiles []packageFile

func (p packageFiles) entries() []archiveEntry {
	out := make([]archiveEntry, 0, len(p))
	for _, file := range p {
		out = append(out, file.archiveEntry)
	}
	return out
}

func (p packageFiles) names() []string {
	out := make([]string, 0, len(p))
	for _, file := range p {
		out = append(out, file.Name)
	}
	sort.Strings(out)
	return out
}

func (p packageFiles) pathEntries() []types.PathEntry {
	out := make([]types.PathEntry, 0, len(p))
	for _, file := range p {
		entry := types.PathEntry{
			Path:        file.Name,
			PathType:    "hardlink",
			SHA256:      file.sha256,
			SizeInBytes: file.size,
		}
		if file.placeholder {
			entry.FileMode = "text"
			entry.PrefixPlaceholder = types.PrefixPlaceholder
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

type packageLayout struct {
	sitePackages string
	scripts      string
	name         string
	windows      bool
	noarch       bool
}

func newPackageLayout(pure bool, subdir string, pythonMinor string, name string) packageLayout {
	if pure {
		return packageLayout{sitePackages: "site-packages", scripts: "python-scripts", name: name, noarch: true}
	}
	if strings.HasPrefix(subdir, "win-") {
		return packageLayout{sitePackages: "Lib/site-packages", scripts: "Scripts", name: name, windows: true}
	}
	return packageLayout{
		sitePackages: "lib/python" + pythonMinor + "/site-packages",
		scripts:      "bin",
		name:         name,
	}
}

// collect maps the unpacked wheel tree onto package paths.
func (l packageLayout) collect(root string, meta types.WheelMetadata) (packageFiles, error) {
	var files packageFiles
	err := filepath.WalkDir(root, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		target, script, keep := l.targetPath(filepath.ToSlash(rel), meta.DistInfoDir)
		if !keep {
			return nil
		}
		entry := archiveEntry{Name: target, Source: current, Mode: fileMode(current)}
		placeholder := false
		if script {
			entry.Mode = 0755
			if !l.noarch {
				data, err := os.ReadFile(current)
				if err != nil {
					return err
				}
				if rewritten, ok := rewriteShebang(data, l.windows); ok {
					entry.Source = ""
					entry.Data = rewritten
					placeholder = true
				}
			}
		}
		if strings.HasSuffix(target, ".dist-info/INSTALLER") {
			entry.Source = ""
			entry.Data = []byte("conda\n")
		}
		file, err := hashedFile(entry)
		if err != nil {
			return err
		}
		file.placeholder = placeholder
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, shared.PackageFormatError("failed to collect wheel contents", err)
	}
	if meta.DistInfoDir != "" {
		installer := path.Join(l.sitePackages, meta.DistInfoDir, "INSTALLER")
		found := false
		for _, file := range files {
			if file.Name == installer {
				found = true
				break
			}
		}
		if !found {
			file, err := hashedFile(archiveEntry{Name: installer, Data: []byte("conda\n")})
			if err != nil {
				return nil, err
			}
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// targetPath maps a wheel-relative path; script reports files from the
// .data/scripts directory and keep is false for dropped files.
func (l packageLayout) targetPath(rel string, distInfo string) (string, bool, bool) {
	top, rest, _ := strings.Cut(rel, "/")
	if top == distInfo {
		switch rest {
		case "RECORD", "RECORD.jws", "RECORD.p7s":
			return "", false, false
		}
	}
	if strings.HasSuffix(top, ".data") && top != distInfo {
		scheme, inner, _ := strings.Cut(rest, "/")
		switch scheme {
		case "purelib", "platlib":
			return path.Join(l.sitePackages, inner), false, true
		case "scripts":
			return path.Join(l.scripts, inner), true, true
		case "headers":
			return path.Join("include", l.name, inner), false, true
		case "data":
			return inner, false, true
		}
		return "", false, false
	}
	return path.Join(l.sitePackages, rel), false, true
}

// launchers renders console and gui script wrappers for platform builds.
func (l packageLayout) launchers(meta types.WheelMetadata) (packageFiles, error) {
	if l.windows || l.noarch {
		return nil, nil
	}
	var files packageFiles
	for _, entry := range append(append([]types.EntryPoint(nil), meta.ConsoleScripts...), meta.GUIScripts...) {
		file, err := hashedFile(archiveEntry{
			Name: path.Join(l.scripts, entry.Name),
			Data: []byte(renderLauncher(entry)),
			Mode: 0755,
		})
		if err != nil {
			return nil, err
		}
		file.placeholder = true
		files = append(files, file)
	}
	return files, nil
}

func renderLauncher(entry types.EntryPoint) string {
	function := entry.Function
	call := function
	if function == "" {
		function = "main"
		call = "main"
	}
	head, _, _ := strings.Cut(function, ".")
	return fmt.Sprintf(`#!%s/bin/python
# -*- coding: utf-8 -*-
import re
import sys

from %s import %s

if __name__ == "__main__":
    sys.argv[0] = re.sub(r"(-script\.pyw|\.exe)?$", "", sys.argv[0])
    sys.exit(%s())
`, types.PrefixPlaceholder, entry.Module, head, call)
}

// rewriteShebang replaces the "#!python" marker wheels use for scripts.
func rewriteShebang(data []byte, windows bool) ([]byte, bool) {
	if windows {
		return nil, false
	}
	for _, marker := range []string{"#!pythonw", "#!python"} {
		if strings.HasPrefix(string(data), marker) {
			rest := data[len(marker):]
			return append([]byte("#!"+types.PrefixPlaceholder+"/bin/python"), rest...), true
		}
	}
	return nil, false
}

func hashedFile(entry archiveEntry) (packageFile, error) {
	hash := sha256.New()
	var size int64
	if entry.Source == "" {
		hash.Write(entry.Data)
		size = int64(len(entry.Data))
	} else {
		file, err := os.Open(entry.Source)
		if err != nil {
			return packageFile{}, err
		}
		defer file.Close()
		size, err = io.Copy(hash, file)
		if err != nil {
			return packageFile{}, err
		}
	}
	return packageFile{
		archiveEntry: entry,
		sha256:       hex.EncodeToString(hash.Sum(nil)),
		size:         size,
	}, nil
}

func fileMode(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0111 == 0 {
		return 0644
	}
	return 0755
}

var _ ports.ArtifactConverterPort = CondaBuildAdapter{}
