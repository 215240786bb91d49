package annotation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultSchemaYAML []byte

var ErrInvalidSchema = errors.New("invalid field schema")

type Kind string

const (
	KindBinary Kind = "binary"
	KindText   Kind = "text"
)

// Field is one annotation form field.
type Field struct {
	Name       string `yaml:"name" json:"name"`
	Kind       Kind   `yaml:"kind" json:"kind"`
	Label      string `yaml:"label" json:"label,omitempty"`
	GovernedBy string `yaml:"governed_by" json:"governed_by,omitempty"`
}

// Empty returns the value a field holds while it is inactive.
func (f Field) Empty() any {
	if f.Kind == KindBinary {
		return 0
	}
	return ""
}

// Schema is the ordered field set plus its governing relationships. Fields
// are ordered so that every governor comes before the fields it governs.
type Schema struct {
	fields []Field
	index  map[string]int
	root   string
}

type schemaFile struct {
	Fields []Field `yaml:"fields"`
}

// DefaultSchema returns the built-in metastasis field set.
func DefaultSchema() *Schema {
	s, err := ParseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded field schema: %v", err))
	}
	return s
}

// LoadSchemaFile reads and validates a YAML schema from path.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes a YAML schema. Exactly one binary field may be
// ungoverned (the root), governors must be binary fields declared earlier,
// and names must be unique.
func ParseSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if len(f.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}

	s := &Schema{
		fields: f.Fields,
		index:  make(map[string]int, len(f.Fields)),
	}

	for i, field := range f.Fields {
		if field.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidSchema, i)
		}
		if _, dup := s.index[field.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %s", ErrInvalidSchema, field.Name)
		}
		if field.Kind != KindBinary && field.Kind != KindText {
			return nil, fmt.Errorf("%w: field %s has unknown kind %q", ErrInvalidSchema, field.Name, field.Kind)
		}

		if field.GovernedBy == "" {
			if s.root != "" {
				return nil, fmt.Errorf("%w: fields %s and %s are both ungoverned", ErrInvalidSchema, s.root, field.Name)
			}
			if field.Kind != KindBinary {
				return nil, fmt.Errorf("%w: root field %s must be binary", ErrInvalidSchema, field.Name)
			}
			s.root = field.Name
		} else {
			gi, ok := s.index[field.GovernedBy]
			if !ok {
				return nil, fmt.Errorf("%w: %s is governed by %s, which is not declared before it", ErrInvalidSchema, field.Name, field.GovernedBy)
			}
			if f.Fields[gi].Kind != KindBinary {
				return nil, fmt.Errorf("%w: governor %s of %s must be binary", ErrInvalidSchema, field.GovernedBy, field.Name)
			}
		}

		s.index[field.Name] = i
	}

	if s.root == "" {
		return nil, fmt.Errorf("%w: no root field", ErrInvalidSchema)
	}
	return s, nil
}

// Fields returns the fields in display order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Root returns the name of the gate field.
func (s *Schema) Root() string {
	return s.root
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}
