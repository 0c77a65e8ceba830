package engine

import (
	"context"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
)

// ScopeFunc is a named query scope invoked as scopes[name]=p1,p2.
type ScopeFunc func(q *query.Builder, params ...string)

// SortScopeFunc replaces the plain ORDER BY for one sort key.
type SortScopeFunc func(q *query.Builder, asc bool)

// AccessorFunc computes a derived output field.
type AccessorFunc func(r *Record) any

// MutatorFunc is a custom setter; it takes precedence over relation association.
type MutatorFunc func(r *Record, value any) error

// ActionRequest is what a named action receives. Record is set for item
// actions, Keys for bulk actions.
type ActionRequest struct {
	Handler *Handler
	Actor   *metadata.UserContext
	Record  *Record
	Keys    []any
	Payload map[string]any
}

type ActionFunc func(ctx context.Context, req *ActionRequest) (any, error)

// Type is an entity schema plus the Go capabilities that cannot be expressed as data.
type Type struct {
	Schema *metadata.Entity

	Scopes      map[string]ScopeFunc
	SortScopes  map[string]SortScopeFunc
	Accessors   map[string]AccessorFunc
	Mutators    map[string]MutatorFunc
	Actions     map[string]ActionFunc
	BulkActions map[string]ActionFunc

	// Configure adjusts the handler configuration built from the schema.
	Configure func(c *Config)

	// NewHandler overrides the generic handler for this type.
	NewHandler func(base *Handler) EntityHandler

	// CustomChanges adds entries to the change record of every write.
	CustomChanges func(r *Record) Changes
}

// NewType wraps a schema without any Go capabilities.
func NewType(schema *metadata.Entity) *Type {
	return &Type{Schema: schema}
}

func (t *Type) Name() string { return t.Schema.Name }
