package metadata

// Entity is the pure-data schema of one persisted record type.
type Entity struct {
	Name       string      `json:"name" yaml:"name"`
	Table      string      `json:"table" yaml:"table"`
	PrimaryKey PrimaryKey  `json:"primary_key" yaml:"primary_key"`
	SoftDelete bool        `json:"soft_delete" yaml:"soft_delete"`
	Fields     []Field     `json:"fields" yaml:"fields"`
	Hidden     []string    `json:"hidden,omitempty" yaml:"hidden"`
	Computed   []string    `json:"computed,omitempty" yaml:"computed"`
	Visible    []string    `json:"visible,omitempty" yaml:"visible"`
	Fillable   []string    `json:"fillable,omitempty" yaml:"fillable"`
	Admin      AdminConfig `json:"admin" yaml:"admin"`
}

type PrimaryKey struct {
	Field     string `json:"field" yaml:"field"`
	Type      string `json:"type" yaml:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated" yaml:"generated"`
}

// AdminConfig is the declarative part of a handler configuration.
type AdminConfig struct {
	Title        string            `json:"title,omitempty" yaml:"title"`
	ItemTitle    string            `json:"item_title,omitempty" yaml:"item_title"`
	CreateTitle  string            `json:"create_title,omitempty" yaml:"create_title"`
	Abilities    []string          `json:"abilities,omitempty" yaml:"abilities"`
	UsePolicies  bool              `json:"use_policies,omitempty" yaml:"use_policies"`
	PolicyPrefix string            `json:"policy_prefix,omitempty" yaml:"policy_prefix"`
	Searchable   []string          `json:"searchable,omitempty" yaml:"searchable"`
	IndexFields  []FieldSpec       `json:"index_fields,omitempty" yaml:"index_fields"`
	ItemFields   []FieldSpec       `json:"item_fields,omitempty" yaml:"item_fields"`
	FilterFields []FieldSpec       `json:"filter_fields,omitempty" yaml:"filter_fields"`
	Rules        map[string]string `json:"rules,omitempty" yaml:"rules"`
	Messages     map[string]string `json:"messages,omitempty" yaml:"messages"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all column names in declaration order.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// IsHidden reports whether the attribute is secret and must never be emitted.
func (e *Entity) IsHidden(name string) bool {
	return contains(e.Hidden, name)
}

// IsComputed reports whether name is a derived accessor rather than a column.
func (e *Entity) IsComputed(name string) bool {
	return contains(e.Computed, name)
}

// IsDate reports whether the attribute holds a date or timestamp.
func (e *Entity) IsDate(name string) bool {
	f := e.GetField(name)
	return f != nil && f.IsDate()
}

// BooleanFields lists columns that must come back as bool (SQLite stores them as INTEGER).
func (e *Entity) BooleanFields() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Type == "boolean" || f.Cast == "boolean" || f.Cast == "bool" {
			names = append(names, f.Name)
		}
	}
	return names
}

// AutoFields returns the fields maintained by the engine for the given moment ("create" or "update").
func (e *Entity) AutoFields(moment string) []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Auto == moment || (moment == "create" && f.Auto == "update") {
			fields = append(fields, f)
		}
	}
	return fields
}

// PrimaryKeyField returns the primary-key column definition, or nil when undeclared.
func (e *Entity) PrimaryKeyField() *Field {
	return e.GetField(e.PrimaryKey.Field)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
