package engine

import (
	"context"
	"fmt"
	"strings"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
)

// BuildQuery composes the listing query. The stage order is fixed:
// pre-modifiers, scopes, filters, search, sort, eager loads, post-modifiers.
func (h *Handler) BuildQuery(ctx context.Context, p *Params) (*query.Builder, error) {
	q := h.baseQuery()
	qc := &QueryContext{Entity: h.typ.Schema, Actor: h.actor, Params: p}

	for _, m := range h.config.PreQuery {
		if err := m.ModifyQuery(ctx, q, qc); err != nil {
			return nil, err
		}
	}
	h.applyScopes(q, p)
	if err := h.applyFilters(q, p); err != nil {
		return nil, err
	}
	if err := h.applySearch(ctx, q, p); err != nil {
		return nil, err
	}
	h.applySort(q, p)
	h.applyEagerLoads(q)
	for _, m := range h.config.PostQuery {
		if err := m.ModifyQuery(ctx, q, qc); err != nil {
			return nil, err
		}
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("build %s query: %w", h.name, err)
	}
	return q, nil
}

// baseQuery selects every column of live rows.
func (h *Handler) baseQuery() *query.Builder {
	e := h.typ.Schema
	q := query.New(e.Table).Select(e.FieldNames()...)
	if e.SoftDelete {
		q.WhereNull("deleted_at")
	}
	return q
}

func (h *Handler) applyScopes(q *query.Builder, p *Params) {
	for _, s := range p.Scopes {
		if fn, ok := h.typ.Scopes[s.Name]; ok {
			fn(q, s.Params...)
		}
	}
}

// parseFilterKey splits the operator prefix off a filter key.
func parseFilterKey(key string) (field, op string, not bool) {
	switch {
	case strings.HasPrefix(key, "!"):
		return key[1:], "!=", true
	case strings.HasPrefix(key, ">~"):
		return key[2:], ">=", false
	case strings.HasPrefix(key, "<~"):
		return key[2:], "<=", false
	case strings.HasPrefix(key, ">"):
		return key[1:], ">", false
	case strings.HasPrefix(key, "<"):
		return key[1:], "<", false
	}
	return key, "=", false
}

// applyFilters only accepts keys naming a visible column or a relation; others are ignored.
func (h *Handler) applyFilters(q *query.Builder, p *Params) error {
	e := h.typ.Schema
	for _, f := range p.Filters {
		name, op, not := parseFilterKey(f.Key)
		if f.List && len(f.Values) == 0 {
			continue
		}
		if link := h.env.Registry.Link(e.Name, name); link != nil {
			if err := h.relationFilter(q, link, f, not); err != nil {
				return err
			}
			continue
		}
		field := e.GetField(name)
		if field == nil || e.IsHidden(name) {
			continue
		}
		switch {
		case f.List:
			vals, err := coerceAll(field, f.Values)
			if err != nil {
				return err
			}
			if not {
				q.WhereNotIn(name, vals)
			} else {
				q.WhereIn(name, vals)
			}
		case !f.Present():
			if not {
				q.WhereNull(name)
			} else {
				q.WhereNotNull(name)
			}
		default:
			v, ok := field.Coerce(f.Values[0])
			if !ok {
				return InvalidPayloadError(fmt.Sprintf("filter %s: %q is not a valid %s", name, f.Values[0], field.Type))
			}
			q.Where(name, op, v)
		}
	}
	return nil
}

// relationFilter constrains relation existence, or membership by related keys.
// The "!" prefix negates both forms.
func (h *Handler) relationFilter(q *query.Builder, link *metadata.Link, f Filter, not bool) error {
	related := h.env.Registry.GetEntity(link.Related())
	if related == nil {
		return nil
	}
	var keys []any
	if f.Present() {
		pk := related.PrimaryKeyField()
		if pk == nil {
			return nil
		}
		var err error
		if keys, err = coerceAll(pk, f.Values); err != nil {
			return err
		}
	}

	sub := h.relationSubquery(link, related, keys)
	if not {
		q.WhereNotExists(sub)
	} else {
		q.WhereExists(sub)
	}
	return nil
}

// relationSubquery correlates the related rows (or join rows) with the outer
// table. The inner table is aliased so a relation back to the same table
// still reaches the outer row.
func (h *Handler) relationSubquery(link *metadata.Link, related *metadata.Entity, keys []any) *query.Builder {
	e := h.typ.Schema
	outer := func(col string) string { return e.Table + "." + col }

	if link.IsManyToMany() {
		alias := "sub_" + link.JoinTable
		inner := func(col string) string { return alias + "." + col }
		sub := query.New(link.JoinTable).As(alias).
			WhereColumn(inner(link.LocalJoinKey()), outer(localJoinColumn(e, link)))
		if keys != nil {
			sub.WhereIn(inner(link.RelatedJoinKey()), keys)
		}
		return sub
	}

	alias := "sub_" + related.Table
	inner := func(col string) string { return alias + "." + col }
	sub := query.New(related.Table).As(alias)
	if link.BelongsTo() {
		sub.WhereColumn(inner(link.SourceKey), outer(link.ForeignKey()))
	} else {
		sub.WhereColumn(inner(link.ForeignKey()), outer(link.SourceKey))
	}
	if keys != nil {
		sub.WhereIn(inner(related.PrimaryKey.Field), keys)
	}
	if related.SoftDelete {
		sub.WhereNull(inner("deleted_at"))
	}
	return sub
}

// localJoinColumn is the column of e referenced by its join-table key.
func localJoinColumn(e *metadata.Entity, link *metadata.Link) string {
	if link.Forward {
		return link.SourceKey
	}
	return e.PrimaryKey.Field
}

// relatedJoinColumn is the column of the related entity referenced by the join table.
func relatedJoinColumn(related *metadata.Entity, link *metadata.Link) string {
	if link.Forward {
		return related.PrimaryKey.Field
	}
	return link.SourceKey
}

func (h *Handler) applySearch(ctx context.Context, q *query.Builder, p *Params) error {
	c := h.config
	if c.Search != nil {
		return c.Search.Search(ctx, q, p.Search, c.Searchable)
	}
	if len(c.Searchable) == 0 || p.Search == "" {
		return nil
	}
	pattern := "%" + strings.ToLower(p.Search) + "%"
	q.OrWhere(func(g *query.Builder) {
		for _, f := range c.Searchable {
			g.WhereLowerLike(f, pattern)
		}
	})
	return nil
}

// applySort honors sort scopes first, then plain columns. The primary key
// is appended so pages are reproducible.
func (h *Handler) applySort(q *query.Builder, p *Params) {
	e := h.typ.Schema
	for _, s := range p.Sort {
		if fn, ok := h.typ.SortScopes[s.Field]; ok {
			fn(q, s.Asc)
			continue
		}
		if e.HasField(s.Field) && !e.IsHidden(s.Field) && !q.IsOrderedBy(s.Field) {
			q.OrderBy(s.Field, !s.Asc)
		}
	}
	if pk := e.PrimaryKey.Field; !q.IsOrderedBy(pk) {
		q.OrderBy(pk, false)
	}
}

// applyEagerLoads schedules every relation of the index field set.
func (h *Handler) applyEagerLoads(q *query.Builder) {
	for _, name := range h.config.IndexFields.Names() {
		if h.env.Registry.Link(h.typ.Schema.Name, name) != nil {
			q.With(name)
		}
	}
}

func coerceAll(field *metadata.Field, raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for _, r := range raw {
		v, ok := field.Coerce(r)
		if !ok {
			return nil, InvalidPayloadError(fmt.Sprintf("filter %s: %q is not a valid %s", field.Name, r, field.Type))
		}
		out = append(out, v)
	}
	return out, nil
}
