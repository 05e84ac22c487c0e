package adapters

import (
	"archive/tar"
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/klauspost/compress/zstd"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// archiveEpoch is the fixed timestamp stamped on every archive member so
// identical inputs yield identical bytes.
var archiveEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

const condaMetadataJSON = `{"conda_pkg_format_version": 2}`

type archiveEntry struct {
	Name   string
	Source string
	Data   []byte
	Mode   int64
}

func (e archiveEntry) size() (int64, error) {
	if e.Source == "" {
		return int64(len(e.Data)), nil
	}
	info, err := os.Stat(e.Source)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// writeCondaPackage writes a v2 .conda file atomically at path.
func writeCondaPackage(path string, stem string, pkg []archiveEntry, info []archiveEntry) error {
	return shared.WriteAtomic(path, 0644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		if err := writeStoredMember(zw, "metadata.json", func(out io.Writer) error {
			_, err := io.WriteString(out, condaMetadataJSON)
			return err
		}); err != nil {
			return err
		}
		if err := writeStoredMember(zw, "pkg-"+stem+".tar.zst", func(out io.Writer) error {
			return writeTarZst(out, pkg)
		}); err != nil {
			return err
		}
		if err := writeStoredMember(zw, "info-"+stem+".tar.zst", func(out io.Writer) error {
			return writeTarZst(out, info)
		}); err != nil {
			return err
		}
		return zw.Close()
	})
}

func writeStoredMember(zw *zip.Writer, name string, write func(io.Writer) error) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: archiveEpoch,
	}
	header.SetMode(0644)
	member, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	return write(member)
}

// writeTarZst writes entries sorted by name into a zstd compressed tar.
func writeTarZst(w io.Writer, entries []archiveEntry) error {
	sorted := append([]archiveEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	encoder, err := zstd.NewWriter(w,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(encoder)
	for _, entry := range sorted {
		size, err := entry.size()
		if err != nil {
			encoder.Close()
			return err
		}
		mode := entry.Mode
		if mode == 0 {
			mode = 0644
		}
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     entry.Name,
			Size:     size,
			Mode:     mode,
			ModTime:  archiveEpoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(header); err != nil {
			encoder.Close()
			return err
		}
		if err := copyEntry(tw, entry); err != nil {
			encoder.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func copyEntry(w io.Writer, entry archiveEntry) error {
	if entry.Source == "" {
		_, err := w.Write(entry.Data)
		return err
	}
	file, err := os.Open(entry.Source)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// readCondaInfoFile returns one member of the info tarball of a .conda.
func readCondaInfoFile(path string, member string) ([]byte, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, "info-") || !strings.HasSuffix(file.Name, ".tar.zst") {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer src.Close()
		decoder, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		tr := tar.NewReader(decoder)
		for {
			header, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if header.Name == member {
				return io.ReadAll(tr)
			}
		}
	}
	return nil, errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(member + " not found in " + path)
}

// readCondaIndex returns the parsed info/index.json of a .conda file.
func readCondaIndex(path string) (types.PackageRecord, error) {
	data, err := readCondaInfoFile(path, "info/index.json")
	if err != nil {
		return types.PackageRecord{}, err
	}
	var record types.PackageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.PackageRecord{}, err
	}
	return record, nil
}
