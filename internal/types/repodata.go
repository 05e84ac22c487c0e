package types

type RepoInfo struct {
	Subdir string `json:"subdir"`
}

type RepoRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	License     string   `json:"license,omitempty"`
	Noarch      string   `json:"noarch,omitempty"`
	Subdir      string   `json:"subdir"`
	MD5         string   `json:"md5"`
	SHA256      string   `json:"sha256"`
	Size        int64    `json:"size"`
}

type WheelRepoRecord struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Build   string   `json:"build"`
	Depends []string `json:"depends"`
	Fn      string   `json:"fn"`
	URL     string   `json:"url"`
	SHA256  string   `json:"sha256"`
	Size    int64    `json:"size"`
	Subdir  string   `json:"subdir"`
}

type RepoData struct {
	Info            RepoInfo                   `json:"info"`
	Packages        map[string]RepoRecord      `json:"packages"`
	PackagesConda   map[string]RepoRecord      `json:"packages.conda"`
	PackagesWhl     map[string]WheelRepoRecord `json:"packages.whl,omitempty"`
	Removed         []string                   `json:"removed"`
	RepodataVersion int                        `json:"repodata_version"`
}

type IndexSummary struct {
	Root    string
	Subdirs []string
	Records int
	Reused  int
}
