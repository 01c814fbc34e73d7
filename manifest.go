package stencil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the shared validator instance for manifest structs.
var validate = validator.New()

// Format specifies the expected manifest data format.
type Format int

const (
	// FormatAuto detects format from content (default).
	FormatAuto Format = iota
	// FormatJSON expects JSON format.
	FormatJSON
	// FormatYAML expects YAML format.
	FormatYAML
)

// Manifest is the serialized definition of a template: its text plus
// per-variable metadata and validation constraints. Struct tags drive
// both decoding and go-playground/validator checks.
type Manifest struct {
	Name      string         `yaml:"name" json:"name" validate:"required"`
	Text      string         `yaml:"template" json:"template" validate:"required"`
	Variables []VariableSpec `yaml:"variables" json:"variables" validate:"omitempty,dive"`
}

// VariableSpec carries manifest metadata for one template variable.
// MinLength and MaxLength are pointers so an omitted bound is
// distinguishable from an explicit zero, which disables the rule.
type VariableSpec struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	MinLength   *int   `yaml:"minLength,omitempty" json:"minLength,omitempty" validate:"omitempty,min=0"`
	MaxLength   *int   `yaml:"maxLength,omitempty" json:"maxLength,omitempty" validate:"omitempty,min=0"`
	Pattern     string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// ParseManifest decodes a manifest from raw bytes, auto-detecting JSON
// or YAML, and validates its structure.
func ParseManifest(raw []byte) (*Manifest, error) {
	return parseManifest(raw, FormatAuto)
}

// parseManifest decodes and validates a manifest in the given format.
func parseManifest(raw []byte, format Format) (*Manifest, error) {
	var m Manifest
	if err := unmarshal(raw, &m, format); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &m, nil
}

// unmarshal parses bytes according to the specified format.
// If format is FormatAuto, it detects the format from content.
func unmarshal(data []byte, v any, format Format) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("expected JSON: %w", err)
		}
		return nil

	case FormatYAML:
		return yaml.Unmarshal(data, v)

	default: // FormatAuto
		// Trim whitespace for detection
		trimmed := bytes.TrimSpace(data)

		// Detect JSON by leading character
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			return json.Unmarshal(data, v)
		}

		// Default to YAML (which also handles plain JSON)
		return yaml.Unmarshal(data, v)
	}
}

// Build parses the manifest's template text and applies variable
// metadata, producing a ready-to-edit Template. Specs naming variables
// absent from the text, duplicate specs, invalid patterns, and
// incoherent length bounds are all rejected here, before any editing
// session exists.
func (m *Manifest) Build() (*Template, error) {
	tmpl := Parse(m.Text)
	tmpl.name = m.Name

	seen := make(map[string]bool, len(m.Variables))
	for i := range m.Variables {
		spec := &m.Variables[i]
		if seen[spec.Name] {
			return nil, fmt.Errorf("variable %q: duplicate spec", spec.Name)
		}
		seen[spec.Name] = true

		idx, ok := tmpl.index[spec.Name]
		if !ok {
			return nil, fmt.Errorf("variable %q: not present in template text", spec.Name)
		}

		v := &tmpl.variables[idx]
		v.Description = spec.Description
		v.Default = spec.Default
		v.Required = spec.Required

		opts := DefaultOptions()
		if spec.MinLength != nil {
			opts.MinLength = *spec.MinLength
		}
		if spec.MaxLength != nil {
			opts.MaxLength = *spec.MaxLength
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("variable %q: invalid pattern: %w", spec.Name, err)
			}
			opts.Pattern = re
		}
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("variable %q: %w", spec.Name, err)
		}
		tmpl.opts[spec.Name] = opts
	}

	return tmpl, nil
}
