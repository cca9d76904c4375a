// Package template loads and validates the document templates that drive
// classification, extraction and merging.
package template

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Field is a single field a template asks the specialist model to extract.
type Field struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // string, date, amount, number, integer
	Required    bool   `yaml:"required"`
	Description string `yaml:"description,omitempty"`
}

// Extraction holds a template's extraction instructions and field list.
type Extraction struct {
	Rules  string  `yaml:"rules"`
	Fields []Field `yaml:"fields"`
}

// Template describes one document family: how to recognize it, what to
// extract, and how extracted fields map onto archive custom fields.
type Template struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// Selectors used by classification.
	CorrespondentHint string `yaml:"correspondent_hint,omitempty"`
	CorrespondentIDs  []int  `yaml:"correspondent_ids,omitempty"`
	DocumentType      string `yaml:"document_type,omitempty"`
	DocumentTypeIDs   []int  `yaml:"document_type_ids,omitempty"`
	ContentRegex      string `yaml:"content_regex,omitempty"`

	// Kind selects the post-processing hook. Empty means general.
	Kind string `yaml:"kind,omitempty"`

	Extraction *Extraction `yaml:"extraction,omitempty"`

	// FieldMapping maps extracted field names to archive custom field names.
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`

	TitleFormat     string   `yaml:"title_format,omitempty"`
	TagsAdd         []string `yaml:"tags_add,omitempty"`
	TagsSuggest     []string `yaml:"tags_suggest,omitempty"`
	AutoDueDateDays int      `yaml:"auto_due_date_days,omitempty"`

	AutoCommit    bool    `yaml:"auto_commit,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
}

// FieldNames returns the names of all extraction fields.
func (t *Template) FieldNames() []string {
	if t.Extraction == nil {
		return nil
	}
	names := make([]string, 0, len(t.Extraction.Fields))
	for _, f := range t.Extraction.Fields {
		names = append(names, f.Name)
	}
	return names
}

// RequiredFields returns the extraction fields marked required.
func (t *Template) RequiredFields() []Field {
	if t.Extraction == nil {
		return nil
	}
	var req []Field
	for _, f := range t.Extraction.Fields {
		if f.Required {
			req = append(req, f)
		}
	}
	return req
}

// FieldType returns the declared type for an extraction field, defaulting
// to "string".
func (t *Template) FieldType(name string) string {
	if t.Extraction != nil {
		for _, f := range t.Extraction.Fields {
			if f.Name == name && f.Type != "" {
				return f.Type
			}
		}
	}
	return "string"
}

// MappingKeys returns the field mapping's extracted-field names in sorted
// order. Merge iteration uses this so results are deterministic.
func (t *Template) MappingKeys() []string {
	keys := make([]string, 0, len(t.FieldMapping))
	for k := range t.FieldMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BasePrompts are the system prompts shared by all templates.
type BasePrompts struct {
	Gatekeeper string `yaml:"gatekeeper"`
	Specialist string `yaml:"specialist"`
}

// Config is the templates.yaml document.
type Config struct {
	BasePrompts BasePrompts `yaml:"base_prompts"`
	Templates   []Template  `yaml:"templates"`
}

// Load reads and validates a templates file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "template: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates templates from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "template: parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants: unique non-empty IDs, named
// extraction fields, non-empty mapping targets, compilable content regexes.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Templates))
	for i := range c.Templates {
		t := &c.Templates[i]
		if strings.TrimSpace(t.ID) == "" {
			return eris.Errorf("template: template %d has empty id", i)
		}
		if seen[t.ID] {
			return eris.Errorf("template: duplicate id %q", t.ID)
		}
		seen[t.ID] = true

		if t.ContentRegex != "" {
			if _, err := regexp.Compile(t.ContentRegex); err != nil {
				return eris.Wrapf(err, "template %s: invalid content_regex", t.ID)
			}
		}
		if t.MinConfidence < 0 || t.MinConfidence > 1 {
			return eris.Errorf("template %s: min_confidence %v out of range", t.ID, t.MinConfidence)
		}
		if t.Extraction != nil {
			for j, f := range t.Extraction.Fields {
				if strings.TrimSpace(f.Name) == "" {
					return eris.Errorf("template %s: extraction field %d has empty name", t.ID, j)
				}
			}
		}
		for from, to := range t.FieldMapping {
			if strings.TrimSpace(to) == "" {
				return eris.Errorf("template %s: field_mapping %q has empty target", t.ID, from)
			}
		}
	}
	return nil
}

// ByID finds a template by ID. Returns nil if no template has the ID.
func (c *Config) ByID(id string) *Template {
	for i := range c.Templates {
		if c.Templates[i].ID == id {
			return &c.Templates[i]
		}
	}
	return nil
}

// IDs lists all template IDs in file order.
func (c *Config) IDs() []string {
	ids := make([]string, 0, len(c.Templates))
	for i := range c.Templates {
		ids = append(ids, c.Templates[i].ID)
	}
	return ids
}

// ForCorrespondent finds a template matching a correspondent, by archive ID
// first and then by a case-insensitive hint match against the name. Returns
// nil when no template claims the correspondent.
func (c *Config) ForCorrespondent(id int, name string) *Template {
	if id > 0 {
		for i := range c.Templates {
			for _, cid := range c.Templates[i].CorrespondentIDs {
				if cid == id {
					return &c.Templates[i]
				}
			}
		}
	}
	if name != "" {
		lower := strings.ToLower(name)
		for i := range c.Templates {
			hint := c.Templates[i].CorrespondentHint
			if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
				return &c.Templates[i]
			}
		}
	}
	return nil
}
