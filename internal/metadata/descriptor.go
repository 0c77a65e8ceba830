package metadata

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// FieldConfig is a partial field descriptor as written by a handler configuration.
// Pointer booleans distinguish "unset" from false so defaults can fill the gaps.
type FieldConfig struct {
	Type        string         `json:"type,omitempty" yaml:"type"`
	Title       string         `json:"title,omitempty" yaml:"title"`
	Label       string         `json:"label,omitempty" yaml:"label"`
	Placeholder string         `json:"placeholder,omitempty" yaml:"placeholder"`
	Entity      string         `json:"entity,omitempty" yaml:"entity"`
	Multiple    *bool          `json:"multiple,omitempty" yaml:"multiple"`
	Editable    *bool          `json:"editable,omitempty" yaml:"editable"`
	Sortable    *bool          `json:"sortable,omitempty" yaml:"sortable"`
	Options     map[string]any `json:"options,omitempty" yaml:"options"`
}

// FieldSpec names one field, optionally with its own partial configuration.
type FieldSpec struct {
	Name   string
	Config *FieldConfig
}

// Names builds bare field specs.
func Names(names ...string) []FieldSpec {
	specs := make([]FieldSpec, len(names))
	for i, n := range names {
		specs[i] = FieldSpec{Name: n}
	}
	return specs
}

// UnmarshalYAML accepts "title", {name: title, type: text} and {title: {type: text}}.
func (s *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Name = node.Value
		return nil
	case yaml.MappingNode:
		var named struct {
			Name        string `yaml:"name"`
			FieldConfig `yaml:",inline"`
		}
		if err := node.Decode(&named); err == nil && named.Name != "" {
			s.Name = named.Name
			cfg := named.FieldConfig
			s.Config = &cfg
			return nil
		}
		if len(node.Content) == 2 {
			var cfg FieldConfig
			if err := node.Content[1].Decode(&cfg); err != nil {
				return fmt.Errorf("field %s: %w", node.Content[0].Value, err)
			}
			s.Name = node.Content[0].Value
			s.Config = &cfg
			return nil
		}
	}
	return fmt.Errorf("line %d: field must be a name or a single-key mapping", node.Line)
}

// Descriptor is the resolved metadata of one exposed attribute or relation.
type Descriptor struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	Label       string         `json:"label,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Entity      string         `json:"entity,omitempty"`
	Multiple    bool           `json:"multiple"`
	Editable    bool           `json:"editable"`
	Sortable    bool           `json:"sortable"`
	Options     map[string]any `json:"options,omitempty"`
}

// DisplayName is the human-readable attribute name used in validation messages.
func (d *Descriptor) DisplayName() string {
	switch {
	case d.Title != "":
		return d.Title
	case d.Label != "":
		return d.Label
	case d.Placeholder != "":
		return d.Placeholder
	}
	return Title(d.Name)
}

// FieldSet is an ordered set of descriptors keyed by field name.
type FieldSet struct {
	order  []string
	byName map[string]*Descriptor
}

// NewFieldSet builds a set from descriptors, keeping the first occurrence of each name.
func NewFieldSet(descriptors ...*Descriptor) *FieldSet {
	fs := &FieldSet{byName: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, dup := fs.byName[d.Name]; dup {
			continue
		}
		fs.order = append(fs.order, d.Name)
		fs.byName[d.Name] = d
	}
	return fs
}

func (fs *FieldSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.order)
}

func (fs *FieldSet) Get(name string) *Descriptor {
	if fs == nil {
		return nil
	}
	return fs.byName[name]
}

func (fs *FieldSet) Has(name string) bool {
	return fs.Get(name) != nil
}

// Names returns the field names in declaration order.
func (fs *FieldSet) Names() []string {
	if fs == nil {
		return nil
	}
	out := make([]string, len(fs.order))
	copy(out, fs.order)
	return out
}

// All returns the descriptors in declaration order.
func (fs *FieldSet) All() []*Descriptor {
	if fs == nil {
		return nil
	}
	out := make([]*Descriptor, len(fs.order))
	for i, n := range fs.order {
		out[i] = fs.byName[n]
	}
	return out
}

// Only returns a new set restricted to the named field, or an empty set.
func (fs *FieldSet) Only(name string) *FieldSet {
	if d := fs.Get(name); d != nil {
		return NewFieldSet(d)
	}
	return NewFieldSet()
}

// MarshalJSON renders the set as an array of descriptors, each carrying its name.
func (fs *FieldSet) MarshalJSON() ([]byte, error) {
	all := fs.All()
	if all == nil {
		all = []*Descriptor{}
	}
	return json.Marshal(all)
}

var titleSeparators = regexp.MustCompile(`[_\-\s]+`)

// Title derives a human title from a field name: "created_at" -> "Created At".
func Title(name string) string {
	spaced := strings.TrimSpace(titleSeparators.ReplaceAllString(name, " "))
	return cases.Title(language.Und).String(spaced)
}

// ResolveFields infers descriptors for the given specs against the entity schema.
// Bare names take defaults; explicit configs win over defaults field by field.
func ResolveFields(e *Entity, reg *Registry, specs []FieldSpec, defaults FieldConfig) *FieldSet {
	descriptors := make([]*Descriptor, 0, len(specs))
	for _, spec := range specs {
		cfg := defaults
		if spec.Config != nil {
			cfg = mergeConfig(*spec.Config, defaults)
		}
		descriptors = append(descriptors, resolveField(e, reg, spec.Name, cfg))
	}
	return NewFieldSet(descriptors...)
}

func resolveField(e *Entity, reg *Registry, name string, cfg FieldConfig) *Descriptor {
	d := &Descriptor{
		Name:        name,
		Type:        cfg.Type,
		Title:       cfg.Title,
		Label:       cfg.Label,
		Placeholder: cfg.Placeholder,
		Entity:      cfg.Entity,
		Multiple:    boolValue(cfg.Multiple),
		Editable:    boolValue(cfg.Editable),
		Sortable:    boolValue(cfg.Sortable),
		Options:     cfg.Options,
	}

	if d.Type == "" {
		f := e.GetField(name)
		switch {
		case f != nil && f.IsDate():
			d.Type = "datetime"
		case f != nil && f.Cast != "":
			d.Type = f.Cast
		case e.IsHidden(name):
			d.Type = "password"
		default:
			if l := reg.Link(e.Name, name); l != nil {
				d.Type = "relation"
				if cfg.Multiple == nil && l.ToMany() {
					d.Multiple = true
				}
				if d.Entity == "" {
					if related := reg.GetEntity(l.Related()); related != nil {
						d.Entity = strings.ReplaceAll(related.Table, "_", "-")
					}
				}
			}
		}
	}
	if d.Type == "" {
		d.Type = "text"
	}

	if d.Title == "" && d.Label == "" && d.Placeholder == "" {
		d.Title = Title(name)
	}
	return d
}

func mergeConfig(c, defaults FieldConfig) FieldConfig {
	if c.Type == "" {
		c.Type = defaults.Type
	}
	if c.Title == "" && c.Label == "" && c.Placeholder == "" {
		c.Title, c.Label, c.Placeholder = defaults.Title, defaults.Label, defaults.Placeholder
	}
	if c.Entity == "" {
		c.Entity = defaults.Entity
	}
	if c.Multiple == nil {
		c.Multiple = defaults.Multiple
	}
	if c.Editable == nil {
		c.Editable = defaults.Editable
	}
	if c.Sortable == nil {
		c.Sortable = defaults.Sortable
	}
	if c.Options == nil {
		c.Options = defaults.Options
	}
	return c
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// Bool returns a pointer to b, for FieldConfig literals.
func Bool(b bool) *bool {
	return &b
}
