package adapters

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

// NameMappingFileAdapter loads user mapping files. JSON is the default
// format; .yaml and .yml files are read as YAML.
type NameMappingFileAdapter struct{}

func NewNameMappingFileAdapter() NameMappingFileAdapter {
	return NameMappingFileAdapter{}
}

func (a NameMappingFileAdapter) Load(path string) (types.NameMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shared.ConfigurationError("Could not open "+path, err)
	}
	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = decodeYAMLDocument(data)
	default:
		raw, err = decodeJSONDocument(data)
	}
	if err != nil {
		return nil, shared.ConfigurationError("invalid name mapping file "+path, err)
	}
	return core.NameMappingFrom(raw)
}

// decodeJSONDocument decodes JSON keeping object keys in document order.
func decodeJSONDocument(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	value, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after the top-level value")
	}
	return value, nil
}

func decodeJSONValue(dec *json.Decoder) (any, error) {
	token, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := token.(json.Delim)
	if !ok {
		return token, nil
	}
	switch delim {
	case '{':
		fields := types.OrderedMapping{}
		for dec.More() {
			keyToken, err := dec.Token()
			if err != nil {
				return nil, err
			}
			value, err := decodeJSONValue(dec)
			if err != nil {
				return nil, err
			}
			fields = append(fields, types.MappingField{Key: keyToken, Value: value})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return fields, nil
	case '[':
		items := []any{}
		for dec.More() {
			value, err := decodeJSONValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func decodeYAMLDocument(data []byte) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	return yamlValue(&doc)
}

// yamlValue converts a node tree into plain values, keeping mapping
// order and the scalar type of keys.
func yamlValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return yamlValue(node.Content[0])
	case yaml.AliasNode:
		return yamlValue(node.Alias)
	case yaml.MappingNode:
		fields := make(types.OrderedMapping, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, err := yamlValue(node.Content[i])
			if err != nil {
				return nil, err
			}
			value, err := yamlValue(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			fields = append(fields, types.MappingField{Key: key, Value: value})
		}
		return fields, nil
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := yamlValue(child)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	default:
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, err
		}
		return value, nil
	}
}

var _ ports.NameMappingSourcePort = NameMappingFileAdapter{}
