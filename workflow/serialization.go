package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/nodeflow/internal/xjson"
)

// ToJSON converts a Definition to indented JSON.
func (d *Definition) ToJSON() (string, error) {
	data, err := xjson.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Definition to YAML.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON parses a Definition. It does not validate; run a Validator for that.
func FromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := xjson.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow from JSON: %w", err)
	}
	return &def, nil
}

// FromYAML parses a Definition from YAML.
func FromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow from YAML: %w", err)
	}
	normalizeYAML(&def)
	return &def, nil
}

// LoadDefinitionFile reads a JSON or YAML definition, chosen by extension.
func LoadDefinitionFile(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return FromJSON(data)
	}
}

// SaveDefinitionFile writes a definition as JSON or YAML, chosen by extension.
func SaveDefinitionFile(def *Definition, filename string) error {
	var (
		out string
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		out, err = def.ToYAML()
	default:
		out, err = def.ToJSON()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// LoadDefinitionDir loads every *.json, *.yaml and *.yml file in dir, keyed
// by workflow id.
func LoadDefinitionDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		def, err := LoadDefinitionFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("%s: workflow id is required", e.Name())
		}
		if _, dup := defs[def.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate workflow id %q", e.Name(), def.ID)
		}
		defs[def.ID] = def
	}
	return defs, nil
}

// normalizeYAML converts yaml.v3's map[string]interface{} nesting and int
// scalars into the shapes JSON decoding produces, so values flow through
// checkpoints and hashing the same way regardless of source format.
func normalizeYAML(def *Definition) {
	for i := range def.Nodes {
		n := &def.Nodes[i]
		for k, v := range n.Params {
			n.Params[k] = normalizeValue(v)
		}
		for j := range n.Inputs {
			n.Inputs[j].Default = normalizeValue(n.Inputs[j].Default)
		}
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case Params:
		// yaml.v3 decodes mappings nested under a Params value as Params
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = normalizeValue(inner)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return m
	case []any:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	default:
		return v
	}
}
