// Package fixedwidth formats fixed-width address records into one-line addresses.
package fixedwidth

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldRule describes one fixed-width column.
type FieldRule struct {
	Name      string `yaml:"name" json:"name"`
	Width     int    `yaml:"width" json:"width"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
}

// Schema is an ordered list of field rules. Rules consume contiguous spans
// of the line from left to right.
type Schema struct {
	Name  string      `yaml:"name" json:"name"`
	Rules []FieldRule `yaml:"rules" json:"rules"`
}

// DefaultSchemaName identifies the built-in layout.
const DefaultSchemaName = "us-address-138"

// DefaultSchema returns the built-in 138-column US address layout.
func DefaultSchema() Schema {
	return Schema{
		Name: DefaultSchemaName,
		Rules: []FieldRule{
			{Name: "House Number", Width: 30, Delimiter: " "},
			{Name: "Street Direction Prefix", Width: 2, Delimiter: " "},
			{Name: "Street Name", Width: 40, Delimiter: " "},
			{Name: "Street Suffix", Width: 4, Delimiter: " "},
			{Name: "Street Direction Suffix", Width: 2, Delimiter: " "},
			{Name: "Unit Descriptor", Width: 10, Delimiter: " "},
			{Name: "Unit Number", Width: 6, Delimiter: ", "},
			{Name: "City", Width: 30, Delimiter: ", "},
			{Name: "State", Width: 2, Delimiter: ", "},
			{Name: "Zip", Width: 12, Delimiter: ""},
		},
	}
}

// TotalWidth returns the sum of all rule widths.
func (s Schema) TotalWidth() int {
	total := 0
	for _, r := range s.Rules {
		total += r.Width
	}
	return total
}

// Validate checks that the schema has at least one rule and every width is positive.
func (s Schema) Validate() error {
	if len(s.Rules) == 0 {
		return eris.New("fixedwidth: schema has no rules")
	}
	for i, r := range s.Rules {
		if r.Width <= 0 {
			return eris.Errorf("fixedwidth: rule %d (%q) has non-positive width %d", i, r.Name, r.Width)
		}
	}
	return nil
}

// Column is a rule with its resolved character offsets.
type Column struct {
	FieldRule
	Start int
	End   int
}

// Columns returns each rule with its [Start, End) character span.
func (s Schema) Columns() []Column {
	cols := make([]Column, 0, len(s.Rules))
	pos := 0
	for _, r := range s.Rules {
		cols = append(cols, Column{FieldRule: r, Start: pos, End: pos + r.Width})
		pos += r.Width
	}
	return cols
}

// ParseSchema decodes a YAML schema document and validates it.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, eris.Wrap(err, "fixedwidth: decode schema")
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// LoadSchema reads a YAML schema from path. An empty path yields DefaultSchema.
func LoadSchema(path string) (Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, eris.Wrapf(err, "fixedwidth: read schema %s", path)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return Schema{}, eris.Wrapf(err, "fixedwidth: load schema %s", path)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}
