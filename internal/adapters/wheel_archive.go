package adapters

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

type WheelArchiveAdapter struct{}

func NewWheelArchiveAdapter() WheelArchiveAdapter {
	return WheelArchiveAdapter{}
}

// ReadMetadata parses the dist-info of a wheel directly from the archive.
func (a WheelArchiveAdapter) ReadMetadata(wheelPath string) (types.WheelMetadata, error) {
	reader, err := zip.OpenReader(wheelPath)
	if err != nil {
		return types.WheelMetadata{}, shared.PackageFormatError("failed to open wheel: "+wheelPath, err)
	}
	defer reader.Close()
	distInfo, err := findDistInfo(reader.File)
	if err != nil {
		return types.WheelMetadata{}, err
	}
	files := map[string][]byte{}
	for _, file := range reader.File {
		dir, name := path.Split(file.Name)
		if strings.TrimSuffix(dir, "/") != distInfo {
			continue
		}
		data, err := readZipFile(file)
		if err != nil {
			return types.WheelMetadata{}, shared.PackageFormatError("failed to read "+file.Name, err)
		}
		files[name] = data
	}
	meta, _, err := metadataFromDistInfo(distInfo, files)
	return meta, err
}

// Unpack extracts a wheel into dest and returns its parsed metadata plus
// any warnings produced while parsing requirements.
func (a WheelArchiveAdapter) Unpack(wheelPath string, dest string) (types.WheelMetadata, []string, error) {
	reader, err := zip.OpenReader(wheelPath)
	if err != nil {
		return types.WheelMetadata{}, nil, shared.PackageFormatError("failed to open wheel: "+wheelPath, err)
	}
	defer reader.Close()
	distInfo, err := findDistInfo(reader.File)
	if err != nil {
		return types.WheelMetadata{}, nil, err
	}
	for _, file := range reader.File {
		if err := extractZipEntry(file, dest); err != nil {
			return types.WheelMetadata{}, nil, err
		}
	}
	files := map[string][]byte{}
	for _, name := range []string{"METADATA", "WHEEL", "entry_points.txt", "top_level.txt"} {
		data, err := os.ReadFile(filepath.Join(dest, distInfo, name))
		if err != nil {
			continue
		}
		files[name] = data
	}
	return metadataFromDistInfo(distInfo, files)
}

func metadataFromDistInfo(distInfo string, files map[string][]byte) (types.WheelMetadata, []string, error) {
	metadata, ok := files["METADATA"]
	if !ok {
		return types.WheelMetadata{}, nil, shared.PackageFormatError(distInfo+" has no METADATA file", nil)
	}
	meta, warnings, err := core.ParseMetadata(metadata)
	if err != nil {
		return types.WheelMetadata{}, nil, err
	}
	if wheel, ok := files["WHEEL"]; ok {
		tags, purelib, err := core.ParseWheelInfo(wheel)
		if err != nil {
			return types.WheelMetadata{}, nil, err
		}
		meta.Tags = tags
		meta.RootIsPurelib = purelib
	}
	if entryPoints, ok := files["entry_points.txt"]; ok {
		meta.ConsoleScripts, meta.GUIScripts = core.ParseEntryPoints(entryPoints)
	}
	if topLevel, ok := files["top_level.txt"]; ok {
		meta.TopLevel = core.ParseLines(topLevel)
	}
	meta.DistInfoDir = distInfo
	return meta, warnings, nil
}

// findDistInfo returns the single top-level *.dist-info directory.
func findDistInfo(files []*zip.File) (string, error) {
	found := map[string]struct{}{}
	for _, file := range files {
		top, _, ok := strings.Cut(file.Name, "/")
		if ok && strings.HasSuffix(top, ".dist-info") {
			found[top] = struct{}{}
		}
	}
	if len(found) != 1 {
		return "", shared.PackageFormatError(fmt.Sprintf("wheel must contain exactly one .dist-info directory, found %d", len(found)), nil)
	}
	for name := range found {
		return name, nil
	}
	return "", nil
}

func extractZipEntry(file *zip.File, dest string) error {
	name := filepath.FromSlash(file.Name)
	target := filepath.Join(dest, name)
	if !isWithin(dest, target) {
		return shared.PackageFormatError("wheel entry escapes the archive root: "+file.Name, nil)
	}
	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if file.Mode()&0111 != 0 {
		mode = 0755
	}
	src, err := file.Open()
	if err != nil {
		return shared.PackageFormatError("failed to read wheel entry "+file.Name, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return shared.PackageFormatError("failed to extract wheel entry "+file.Name, err)
	}
	return dst.Close()
}

func readZipFile(file *zip.File) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var _ ports.WheelReaderPort = WheelArchiveAdapter{}
