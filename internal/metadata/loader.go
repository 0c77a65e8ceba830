package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk description of every entity served by the engine.
type Document struct {
	Bindings    map[string]string `yaml:"bindings"`
	Entities    []*Entity         `yaml:"entities"`
	Relations   []*Relation       `yaml:"relations"`
	Permissions []*Permission     `yaml:"permissions"`
}

// LoadFile reads a YAML document and populates the registry.
func LoadFile(path string, reg *Registry) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Apply(reg)
	return doc, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entities: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Apply loads the document into the registry, replacing its previous content.
func (d *Document) Apply(reg *Registry) {
	reg.Load(d.Entities, d.Relations)
	reg.LoadPermissions(d.Permissions)
	reg.LoadBindings(d.Bindings)
}

// Validate checks internal consistency: unique names, primary keys and relation endpoints.
func (d *Document) Validate() error {
	byName := make(map[string]*Entity, len(d.Entities))
	for _, e := range d.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity without name")
		}
		if _, dup := byName[e.Name]; dup {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		if e.PrimaryKey.Field == "" {
			e.PrimaryKey = PrimaryKey{Field: "id", Type: "bigint", Generated: true}
		}
		if e.PrimaryKeyField() == nil {
			e.Fields = append([]Field{{Name: e.PrimaryKey.Field, Type: e.PrimaryKey.Type}}, e.Fields...)
		}
		byName[e.Name] = e
	}

	for _, r := range d.Relations {
		if r.Name == "" {
			return fmt.Errorf("relation without name")
		}
		if byName[r.Source] == nil {
			return fmt.Errorf("relation %s: unknown source entity %q", r.Name, r.Source)
		}
		if byName[r.Target] == nil {
			return fmt.Errorf("relation %s: unknown target entity %q", r.Name, r.Target)
		}
		switch r.Type {
		case "one_to_many", "one_to_one":
			if r.TargetKey == "" {
				return fmt.Errorf("relation %s: target_key is required", r.Name)
			}
		case "many_to_many":
			if r.JoinTable == "" || r.SourceJoinKey == "" || r.TargetJoinKey == "" {
				return fmt.Errorf("relation %s: join_table, source_join_key and target_join_key are required", r.Name)
			}
		default:
			return fmt.Errorf("relation %s: unknown type %q", r.Name, r.Type)
		}
	}

	for name, target := range d.Bindings {
		if byName[target] == nil {
			return fmt.Errorf("binding %s: unknown entity %q", name, target)
		}
	}
	return nil
}
