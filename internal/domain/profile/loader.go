package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
)

// LoadFile reads a profile from a YAML or JSON file. See Parse for the
// accepted shapes.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse accepts either a bare list of mappings or a document with name,
// version and mappings keys. JSON input is parsed as YAML. Unknown keys are
// rejected so that a misspelled jsonPath does not silently drop a mapping.
func Parse(data []byte) (*Profile, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse mapping YAML: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("mapping file is empty")
	}

	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		var mappings []hl7v2.Mapping
		if err := dec.Decode(&mappings); err != nil {
			return nil, fmt.Errorf("failed to parse mappings: %w", err)
		}
		p.Mappings = mappings
	case yaml.MappingNode:
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to parse profile: %w", err)
		}
	default:
		return nil, fmt.Errorf("mapping file must hold a list or a document")
	}

	for i, m := range p.Mappings {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	return &p, nil
}

// Marshal serializes a profile to YAML.
func Marshal(p *Profile) ([]byte, error) {
	return yaml.Marshal(p)
}
