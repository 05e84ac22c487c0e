package core

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

//go:embed data/name_mapping.json
var defaultNameMappingJSON []byte

var defaultNameMapping = sync.OnceValue(func() types.NameMapping {
	var raw map[string]types.NameMappingEntry
	if err := json.Unmarshal(defaultNameMappingJSON, &raw); err != nil {
		panic(fmt.Sprintf("embedded name mapping is invalid: %v", err))
	}
	out := make(types.NameMapping, len(raw))
	for key, entry := range raw {
		out[shared.NormalizePipName(key)] = entry
	}
	return out
})

// DefaultNameMapping returns a copy of the built-in PyPI to conda table.
func DefaultNameMapping() types.NameMapping {
	builtin := defaultNameMapping()
	out := make(types.NameMapping, len(builtin))
	for key, entry := range builtin {
		out[key] = entry
	}
	return out
}

// ValidateNameMapping checks a decoded mapping document. Rules are
// checked per key in document order and the first violation is returned.
func ValidateNameMapping(raw any) error {
	fields, ok := mappingFields(raw)
	if !ok {
		return shared.ConfigurationError(
			fmt.Sprintf("name mapping must be a dictionary, got %s", describeType(raw)), nil)
	}
	for _, field := range fields {
		key, ok := field.Key.(string)
		if !ok {
			return shared.ConfigurationError(
				fmt.Sprintf("name mapping keys must be strings, got %s: %v", describeType(field.Key), field.Key), nil)
		}
		entry, ok := stringKeyedFields(field.Value)
		if !ok {
			return shared.ConfigurationError(
				fmt.Sprintf("name mapping values must be dictionaries, got %s for '%s'", describeType(field.Value), key), nil)
		}
		condaName, found := lookupField(entry, "conda_name")
		if !found {
			return shared.ConfigurationError(
				fmt.Sprintf("name mapping entry '%s' is missing required key 'conda_name'", key), nil)
		}
		if _, ok := condaName.(string); !ok {
			return shared.ConfigurationError(
				fmt.Sprintf("name mapping entry '%s' has invalid 'conda_name' type: %s", key, describeType(condaName)), nil)
		}
	}
	return nil
}

// NameMappingFrom validates raw and converts it into a NameMapping keyed
// by normalized PyPI name.
func NameMappingFrom(raw any) (types.NameMapping, error) {
	if err := ValidateNameMapping(raw); err != nil {
		return nil, err
	}
	fields, _ := mappingFields(raw)
	out := make(types.NameMapping, len(fields))
	for _, field := range fields {
		key := field.Key.(string)
		values, _ := stringKeyedFields(field.Value)
		entry := types.NameMappingEntry{}
		for _, value := range values {
			text, _ := value.Value.(string)
			switch value.Key {
			case "conda_name":
				entry.CondaName = text
			case "pypi_name":
				entry.PypiName = text
			case "import_name":
				entry.ImportName = text
			case "mapping_source":
				entry.MappingSource = text
			}
		}
		out[shared.NormalizePipName(key)] = entry
	}
	return out, nil
}

// NameTranslator resolves PyPI names to conda names using an override
// table, then the built-in table, then PEP 503 normalization.
type NameTranslator struct {
	override types.NameMapping
	builtin  types.NameMapping
}

func NewNameTranslator(override types.NameMapping) NameTranslator {
	return NameTranslator{
		override: override,
		builtin:  defaultNameMapping(),
	}
}

func (t NameTranslator) Translate(pypiName string) string {
	entry, ok := t.Lookup(pypiName)
	if ok && strings.TrimSpace(entry.CondaName) != "" {
		return strings.TrimSpace(entry.CondaName)
	}
	return shared.NormalizePipName(pypiName)
}

func (t NameTranslator) Lookup(pypiName string) (types.NameMappingEntry, bool) {
	key := shared.NormalizePipName(pypiName)
	if entry, ok := t.override[key]; ok {
		return entry, true
	}
	entry, ok := t.builtin[key]
	return entry, ok
}

// ImportName returns the import name recorded for pypiName, if any.
func (t NameTranslator) ImportName(pypiName string) string {
	entry, ok := t.Lookup(pypiName)
	if !ok {
		return ""
	}
	return entry.ImportName
}

func mappingFields(raw any) ([]types.MappingField, bool) {
	switch value := raw.(type) {
	case types.OrderedMapping:
		return value, true
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fields := make([]types.MappingField, 0, len(keys))
		for _, key := range keys {
			fields = append(fields, types.MappingField{Key: key, Value: value[key]})
		}
		return fields, true
	case map[any]any:
		keys := make([]any, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		})
		fields := make([]types.MappingField, 0, len(keys))
		for _, key := range keys {
			fields = append(fields, types.MappingField{Key: key, Value: value[key]})
		}
		return fields, true
	default:
		return nil, false
	}
}

func stringKeyedFields(raw any) ([]types.MappingField, bool) {
	fields, ok := mappingFields(raw)
	if !ok {
		return nil, false
	}
	for _, field := range fields {
		if _, ok := field.Key.(string); !ok {
			return nil, false
		}
	}
	return fields, true
}

func lookupField(fields []types.MappingField, key string) (any, bool) {
	for _, field := range fields {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

func describeType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, uint64, float64, json.Number:
		return "number"
	case []any:
		return "list"
	case types.OrderedMapping, map[string]any, map[any]any:
		return "dictionary"
	default:
		return fmt.Sprintf("%T", value)
	}
}
