package core

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"sort"
	"strings"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// ParseMetadata parses a core metadata document (METADATA or PKG-INFO).
// Requires-Dist lines that do not parse are returned as warnings.
func ParseMetadata(data []byte) (types.WheelMetadata, []string, error) {
	payload := append(append([]byte(nil), data...), '\n', '\n')
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	header, err := reader.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return types.WheelMetadata{}, nil, shared.PackageFormatError("failed to parse package metadata", err)
	}
	meta := types.WheelMetadata{
		Name:           strings.TrimSpace(header.Get("Name")),
		Version:        strings.TrimSpace(header.Get("Version")),
		Summary:        strings.TrimSpace(header.Get("Summary")),
		HomePage:       strings.TrimSpace(header.Get("Home-Page")),
		RequiresPython: strings.TrimSpace(header.Get("Requires-Python")),
		License:        strings.TrimSpace(header.Get("License-Expression")),
	}
	if meta.License == "" {
		meta.License = firstLine(header.Get("License"))
	}
	if meta.Name == "" || meta.Version == "" {
		return types.WheelMetadata{}, nil, shared.PackageFormatError("package metadata is missing Name or Version", nil)
	}
	for _, extra := range header.Values("Provides-Extra") {
		if extra = shared.NormalizePipName(extra); extra != "" {
			meta.ProvidesExtra = append(meta.ProvidesExtra, extra)
		}
	}
	reqs, invalid := ParseRequirements(header.Values("Requires-Dist"))
	meta.Requires = reqs
	var warnings []string
	for _, line := range invalid {
		if req, _ := ParseRequirement(line); req.Name != "" {
			warnings = append(warnings, fmt.Sprintf("dropped unparseable constraint of requirement %q", line))
			continue
		}
		warnings = append(warnings, fmt.Sprintf("ignored unparseable requirement %q", line))
	}
	return meta, warnings, nil
}

// ParseWheelInfo reads the WHEEL file: its tags and Root-Is-Purelib.
func ParseWheelInfo(data []byte) ([]types.WheelTag, bool, error) {
	payload := append(append([]byte(nil), data...), '\n', '\n')
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	header, err := reader.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return nil, false, shared.PackageFormatError("failed to parse WHEEL file", err)
	}
	var tags []types.WheelTag
	for _, value := range header.Values("Tag") {
		parsed, err := ParseTag(value)
		if err != nil {
			return nil, false, shared.PackageFormatError("invalid tag in WHEEL file", err)
		}
		tags = append(tags, parsed...)
	}
	purelib := strings.EqualFold(strings.TrimSpace(header.Get("Root-Is-Purelib")), "true")
	return tags, purelib, nil
}

// ParseEntryPoints reads console and gui scripts from entry_points.txt.
func ParseEntryPoints(data []byte) ([]types.EntryPoint, []types.EntryPoint) {
	var console, gui []types.EntryPoint
	section := ""
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		if section != "console_scripts" && section != "gui_scripts" {
			continue
		}
		name, target, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		if idx := strings.Index(target, "["); idx >= 0 {
			target = strings.TrimSpace(target[:idx])
		}
		module, function, _ := strings.Cut(target, ":")
		entry := types.EntryPoint{
			Name:     strings.TrimSpace(name),
			Module:   strings.TrimSpace(module),
			Function: strings.TrimSpace(function),
		}
		if section == "console_scripts" {
			console = append(console, entry)
		} else {
			gui = append(gui, entry)
		}
	}
	sortEntryPoints(console)
	sortEntryPoints(gui)
	return console, gui
}

// ParseLines splits a newline-separated file into trimmed, non-empty lines.
func ParseLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortEntryPoints(entries []types.EntryPoint) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(value), "\n")
	return strings.TrimSpace(line)
}
