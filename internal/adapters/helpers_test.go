package adapters

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"conda-pypi/internal/types"
)

const demoMetadata = `Metadata-Version: 2.1
Name: demo-package
Version: 1.0.0
Summary: A demo package
License-Expression: MIT
Requires-Python: >=3.8
Requires-Dist: requests>=2.0
Requires-Dist: pytest ; extra == "test"
Provides-Extra: test
`

const pureWheelInfo = `Wheel-Version: 1.0
Generator: bdist_wheel
Root-Is-Purelib: true
Tag: py3-none-any
`

// writeWheel zips files into dir/filename in sorted order.
func writeWheel(t *testing.T, dir string, filename string, files map[string]string) string {
	t.Helper()
	target := filepath.Join(dir, filename)
	out, err := os.Create(target)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return target
}

func demoWheelFiles() map[string]string {
	return map[string]string{
		"demo_package/__init__.py":                      "def main():\n    return 0\n",
		"demo_package/core.py":                          "VALUE = 1\n",
		"demo_package-1.0.0.dist-info/METADATA":         demoMetadata,
		"demo_package-1.0.0.dist-info/WHEEL":            pureWheelInfo,
		"demo_package-1.0.0.dist-info/entry_points.txt": "[console_scripts]\ndemo = demo_package:main\n",
		"demo_package-1.0.0.dist-info/top_level.txt":    "demo_package\n",
		"demo_package-1.0.0.dist-info/RECORD":           "",
	}
}

func writeDemoWheel(t *testing.T, dir string) string {
	t.Helper()
	return writeWheel(t, dir, "demo_package-1.0.0-py3-none-any.whl", demoWheelFiles())
}

func linuxEnvironment() types.Environment {
	return types.Environment{
		Prefix:         "/opt/env",
		Python:         "/opt/env/bin/python",
		PythonVersion:  "3.12.1",
		Implementation: "cpython",
		Platform:       "linux",
		Subdir:         "linux-64",
		Markers: map[string]string{
			"python_version":      "3.12",
			"python_full_version": "3.12.1",
			"sys_platform":        "linux",
			"os_name":             "posix",
			"platform_system":     "Linux",
			"platform_machine":    "x86_64",
			"implementation_name": "cpython",
		},
		Tags: []types.WheelTag{
			{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
			{Python: "cp312", ABI: "abi3", Platform: "manylinux_2_17_x86_64"},
			{Python: "py3", ABI: "none", Platform: "manylinux_2_17_x86_64"},
			{Python: "cp312", ABI: "none", Platform: "any"},
			{Python: "py3", ABI: "none", Platform: "any"},
		},
	}
}

// condaMembers returns the member names of the pkg tarball of a .conda.
func condaMembers(t *testing.T, path string, prefix string) []string {
	t.Helper()
	reader, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()
	var names []string
	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, prefix) || !strings.HasSuffix(file.Name, ".tar.zst") {
			continue
		}
		src, err := file.Open()
		require.NoError(t, err)
		decoder, err := zstd.NewReader(src)
		require.NoError(t, err)
		tr := tar.NewReader(decoder)
		for {
			header, err := tr.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			names = append(names, header.Name)
		}
		decoder.Close()
		src.Close()
	}
	return names
}
