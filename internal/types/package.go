package types

type PackageRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	License     string   `json:"license,omitempty"`
	Noarch      string   `json:"noarch,omitempty"`
	Subdir      string   `json:"subdir"`
}

type AboutRecord struct {
	Summary     string `json:"summary,omitempty"`
	License     string `json:"license,omitempty"`
	Home        string `json:"home,omitempty"`
	PypiName    string `json:"pypi_name,omitempty"`
	PypiVersion string `json:"pypi_version,omitempty"`
	Editable    bool   `json:"editable,omitempty"`
}

type PathEntry struct {
	Path              string `json:"_path"`
	PathType          string `json:"path_type"`
	SHA256            string `json:"sha256"`
	SizeInBytes       int64  `json:"size_in_bytes"`
	FileMode          string `json:"file_mode,omitempty"`
	PrefixPlaceholder string `json:"prefix_placeholder,omitempty"`
}

type PathsRecord struct {
	Paths        []PathEntry `json:"paths"`
	PathsVersion int         `json:"paths_version"`
}

type NoarchLink struct {
	Type        string   `json:"type"`
	EntryPoints []string `json:"entry_points,omitempty"`
}

type LinkRecord struct {
	Noarch                 NoarchLink `json:"noarch"`
	PackageMetadataVersion int        `json:"package_metadata_version"`
}

type TargetArtifact struct {
	Path     string
	Filename string
	Record   PackageRecord
	MD5      string
	SHA256   string
	Size     int64
}
