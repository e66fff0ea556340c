// Package schema describes extraction schemas and turns raw records into
// validated ones.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Field types.
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeList   = "list"
)

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Field describes one output column and where to find its value.
type Field struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Type     string `mapstructure:"type" yaml:"type"`
	Required bool   `mapstructure:"required" yaml:"required"`
	Default  any    `mapstructure:"default" yaml:"default,omitempty"`
	// Selector is the CSS selector used by the css strategy, relative to the
	// base selector (or to the list item for nested fields).
	Selector string `mapstructure:"selector" yaml:"selector,omitempty"`
	// Attr reads an attribute instead of the element text.
	Attr string `mapstructure:"attr" yaml:"attr,omitempty"`
	// Path is the dotted path used by the embedded strategy. Defaults to Name.
	Path        string  `mapstructure:"path" yaml:"path,omitempty"`
	Description string  `mapstructure:"description" yaml:"description,omitempty"`
	Fields      []Field `mapstructure:"fields" yaml:"fields,omitempty"`
}

// SourcePath returns Path or, when unset, the field name.
func (f Field) SourcePath() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

// Schema is an ordered list of fields plus the storage target.
type Schema struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Table       string  `mapstructure:"table" yaml:"table"`
	ConflictKey string  `mapstructure:"conflict_key" yaml:"conflict_key"`
	Fields      []Field `mapstructure:"fields" yaml:"fields"`
}

// Check verifies the schema is usable.
func (s Schema) Check() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}
	if s.Table != "" && !identifier.MatchString(s.Table) {
		return fmt.Errorf("schema table %q is not a valid identifier", s.Table)
	}
	if err := checkFields(s.Fields, ""); err != nil {
		return err
	}
	key := s.ConflictKey
	if key == "" {
		return fmt.Errorf("schema %q has no conflict key", s.Name)
	}
	if key != "url" && !s.hasField(key) {
		return fmt.Errorf("conflict key %q is not a schema field", key)
	}
	return nil
}

func (s Schema) hasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Columns returns the top-level column names in declared order, always
// including url and scraped_at.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+2)
	for _, f := range s.Fields {
		cols = append(cols, f.Name)
	}
	if !s.hasField("url") {
		cols = append(cols, "url")
	}
	return append(cols, "scraped_at")
}

func checkFields(fields []Field, prefix string) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		name := prefix + f.Name
		if !identifier.MatchString(f.Name) {
			return fmt.Errorf("field %q is not a valid identifier", name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case TypeString, TypeNumber:
			if len(f.Fields) > 0 {
				return fmt.Errorf("field %q of type %s cannot have nested fields", name, f.Type)
			}
		case TypeList:
			if len(f.Fields) == 0 {
				return fmt.Errorf("list field %q needs nested fields", name)
			}
			if err := checkFields(f.Fields, name+"."); err != nil {
				return err
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", name, f.Type)
		}
	}
	return nil
}

// Describe renders the field list for an LLM prompt.
func (s Schema) Describe() string {
	var b strings.Builder
	describeFields(&b, s.Fields, 0)
	return b.String()
}

func describeFields(b *strings.Builder, fields []Field, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, f := range fields {
		kind := f.Type
		if f.Type == TypeList {
			kind = "array of objects"
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(b, "%s- %s (%s, %s)", pad, f.Name, kind, req)
		if f.Description != "" {
			fmt.Fprintf(b, ": %s", f.Description)
		}
		b.WriteString("\n")
		if f.Type == TypeList {
			describeFields(b, f.Fields, indent+1)
		}
	}
}
