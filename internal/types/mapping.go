package types

type NameMappingEntry struct {
	PypiName      string `json:"pypi_name,omitempty" yaml:"pypi_name,omitempty"`
	CondaName     string `json:"conda_name" yaml:"conda_name"`
	ImportName    string `json:"import_name,omitempty" yaml:"import_name,omitempty"`
	MappingSource string `json:"mapping_source,omitempty" yaml:"mapping_source,omitempty"`
}

// NameMapping is keyed by the normalized PyPI name.
type NameMapping map[string]NameMappingEntry

// MappingField is one key/value pair of a mapping document in source order.
type MappingField struct {
	Key   any
	Value any
}

// OrderedMapping keeps the document order of a decoded mapping file so
// validation reports the first offending key as written.
type OrderedMapping []MappingField
