package engine

import (
	"context"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/storage"
)

// QueryContext is what query modifiers and search strategies see of the request.
type QueryContext struct {
	Entity *metadata.Entity
	Actor  *metadata.UserContext
	Params *Params
}

// QueryModifier constrains a listing query before or after the request-derived stages.
type QueryModifier interface {
	ModifyQuery(ctx context.Context, q *query.Builder, qc *QueryContext) error
}

type QueryModifierFunc func(ctx context.Context, q *query.Builder, qc *QueryContext) error

func (f QueryModifierFunc) ModifyQuery(ctx context.Context, q *query.Builder, qc *QueryContext) error {
	return f(ctx, q, qc)
}

// SearchStrategy replaces the default LIKE search.
type SearchStrategy interface {
	Search(ctx context.Context, q *query.Builder, term string, fields []string) error
}

type SearchFunc func(ctx context.Context, q *query.Builder, term string, fields []string) error

func (f SearchFunc) Search(ctx context.Context, q *query.Builder, term string, fields []string) error {
	return f(ctx, q, term, fields)
}

// ValidationInput is the raw request as seen by a Validator.
type ValidationInput struct {
	Values      map[string]any
	Files       map[string][]storage.File
	Rules       map[string][]metadata.Rule
	Messages    map[string]string
	Titles      map[string]string
	Record      *Record
	OnlyPresent bool
}

// Validator replaces the built-in rule validation when set.
type Validator interface {
	Validate(ctx context.Context, in *ValidationInput) error
}

type ValidatorFunc func(ctx context.Context, in *ValidationInput) error

func (f ValidatorFunc) Validate(ctx context.Context, in *ValidationInput) error {
	return f(ctx, in)
}

// Config is the handler configuration of one entity for one request.
// It is assembled once when the handler is built and not changed afterwards.
type Config struct {
	Title       string
	ItemTitle   string
	CreateTitle string

	// Abilities restricts the permitted actions; nil permits all.
	Abilities    []string
	UsePolicies  bool
	PolicyPrefix string

	Searchable []string
	Search     SearchStrategy

	IndexFields  *metadata.FieldSet
	ItemFields   *metadata.FieldSet
	FilterFields *metadata.FieldSet

	Rules     map[string][]metadata.Rule
	Messages  map[string]string
	Validator Validator

	PreQuery  []QueryModifier
	PostQuery []QueryModifier

	// AllowReparent lets a has-many sync take members away from another parent.
	AllowReparent bool
}

// IsSearchable reports whether the index accepts a search term.
func (c *Config) IsSearchable() bool {
	return len(c.Searchable) > 0 || c.Search != nil
}

// SetIndexFields resolves specs against the schema, replacing the index field set.
func (c *Config) SetIndexFields(t *Type, reg *metadata.Registry, specs []metadata.FieldSpec) {
	c.IndexFields = metadata.ResolveFields(t.Schema, reg, specs, metadata.FieldConfig{Sortable: metadata.Bool(true)})
}

func (c *Config) SetItemFields(t *Type, reg *metadata.Registry, specs []metadata.FieldSpec) {
	c.ItemFields = metadata.ResolveFields(t.Schema, reg, specs, metadata.FieldConfig{Editable: metadata.Bool(true)})
}

func (c *Config) SetFilterFields(t *Type, reg *metadata.Registry, specs []metadata.FieldSpec) {
	c.FilterFields = metadata.ResolveFields(t.Schema, reg, specs, metadata.FieldConfig{})
}

// SetRules parses rule strings such as "required|max:255".
func (c *Config) SetRules(rules map[string]string) {
	c.Rules = make(map[string][]metadata.Rule, len(rules))
	for field, spec := range rules {
		if parsed := metadata.ParseRules(spec); len(parsed) > 0 {
			c.Rules[field] = parsed
		}
	}
}

func buildConfig(env *Env, t *Type) *Config {
	e := t.Schema
	a := e.Admin
	c := &Config{
		Title:        a.Title,
		ItemTitle:    a.ItemTitle,
		CreateTitle:  a.CreateTitle,
		Abilities:    a.Abilities,
		UsePolicies:  a.UsePolicies,
		PolicyPrefix: a.PolicyPrefix,
		Searchable:   append([]string(nil), a.Searchable...),
		Messages:     a.Messages,
	}
	if c.Title == "" {
		c.Title = metadata.Title(e.Name)
	}

	index := a.IndexFields
	if len(index) == 0 {
		index = metadata.Names(defaultIndexFields(e)...)
	}
	c.SetIndexFields(t, env.Registry, index)

	item := a.ItemFields
	if len(item) == 0 {
		item = metadata.Names(defaultItemFields(e)...)
	}
	c.SetItemFields(t, env.Registry, item)

	if len(a.FilterFields) > 0 {
		c.SetFilterFields(t, env.Registry, a.FilterFields)
	}
	c.SetRules(a.Rules)

	c.PreQuery = append(c.PreQuery, env.PreQuery...)

	if t.Configure != nil {
		t.Configure(c)
	}

	// Search fields are interpolated into SQL, keep only real columns.
	var searchable []string
	for _, f := range c.Searchable {
		if e.HasField(f) && query.ValidIdent(f) {
			searchable = append(searchable, f)
		}
	}
	c.Searchable = searchable
	return c
}

func defaultIndexFields(e *metadata.Entity) []string {
	if len(e.Visible) > 0 {
		return e.Visible
	}
	var names []string
	for _, f := range e.Fields {
		if !e.IsHidden(f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}

func defaultItemFields(e *metadata.Entity) []string {
	if len(e.Fillable) > 0 {
		return e.Fillable
	}
	var names []string
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field || f.IsAuto() || f.Name == "deleted_at" {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}
