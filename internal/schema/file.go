package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML schema definition.
func LoadFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML schema definition and checks it.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	if s.ConflictKey == "" {
		s.ConflictKey = "url"
	}
	if err := s.Check(); err != nil {
		return Schema{}, err
	}
	return s, nil
}
