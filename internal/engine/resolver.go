package engine

import (
	"context"
	"sort"
	"strings"

	"entity-api/internal/metadata"
)

// Resolver maps public entity names to types and builds their handlers.
type Resolver struct {
	env   *Env
	types map[string]*Type // schema name -> type
}

// NewResolver registers a plain type for every entity of the registry.
// Register replaces them with types that carry Go capabilities.
func NewResolver(env *Env) *Resolver {
	r := &Resolver{env: env, types: make(map[string]*Type)}
	for _, e := range env.Registry.AllEntities() {
		r.types[e.Name] = NewType(e)
	}
	return r
}

func (r *Resolver) Register(t *Type) {
	r.types[t.Name()] = t
}

// ResolveEntity finds the type for a public name. Explicit bindings win;
// unbound entities answer to their table name with hyphens.
func (r *Resolver) ResolveEntity(name string) (*Type, bool) {
	bindings := r.env.Registry.Bindings()
	if schema, ok := bindings[name]; ok {
		t, ok := r.types[schema]
		return t, ok
	}
	bound := boundSchemas(bindings)
	table := strings.ReplaceAll(name, "-", "_")
	for _, t := range r.types {
		if !bound[t.Name()] && t.Schema.Table == table {
			return t, true
		}
	}
	return nil, false
}

// ResolveHandler builds the request handler for a public name.
func (r *Resolver) ResolveHandler(name string, actor *metadata.UserContext) (EntityHandler, error) {
	t, ok := r.ResolveEntity(name)
	if !ok {
		return nil, UnknownEntityError(name)
	}
	base := NewHandler(r.env, t, name, actor)
	if t.NewHandler != nil {
		return t.NewHandler(base), nil
	}
	return base, nil
}

// Names lists every public entity name, sorted.
func (r *Resolver) Names() []string {
	bindings := r.env.Registry.Bindings()
	bound := boundSchemas(bindings)
	var names []string
	for name, schema := range bindings {
		if _, ok := r.types[schema]; ok {
			names = append(names, name)
		}
	}
	for _, t := range r.types {
		if !bound[t.Name()] {
			names = append(names, strings.ReplaceAll(t.Schema.Table, "_", "-"))
		}
	}
	sort.Strings(names)
	return names
}

// ListMeta describes every entity as seen by actor. Denied actions are
// reported as false, never as errors.
func (r *Resolver) ListMeta(ctx context.Context, actor *metadata.UserContext) map[string]*Meta {
	out := make(map[string]*Meta)
	for _, name := range r.Names() {
		h, err := r.ResolveHandler(name, actor)
		if err != nil {
			continue
		}
		out[name] = h.Meta(ctx)
	}
	return out
}

func boundSchemas(bindings map[string]string) map[string]bool {
	bound := make(map[string]bool, len(bindings))
	for _, schema := range bindings {
		bound[schema] = true
	}
	return bound
}

// ActionName converts a URL action segment to its registered name:
// "publish-all" and "publish_all" become "publishAll".
func ActionName(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(parts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(lowerFirst(parts[0]))
	for _, p := range parts[1:] {
		sb.WriteString(upperFirst(p))
	}
	return sb.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
