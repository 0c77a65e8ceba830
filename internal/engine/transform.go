package engine

import (
	"context"

	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

// Transform renders a record for the API. Relations named in fields are
// embedded when fullRelations is set and the field is not editable, and
// reduced to keys otherwise. The primary key is always present.
func (h *Handler) Transform(ctx context.Context, r *Record, fields *metadata.FieldSet, fullRelations bool) (map[string]any, error) {
	return h.transform(ctx, h.env.Store.DB, r, fields, fullRelations)
}

func (h *Handler) transform(ctx context.Context, db store.Querier, r *Record, fields *metadata.FieldSet, fullRelations bool) (map[string]any, error) {
	e := h.typ.Schema
	out := make(map[string]any)
	relations := make(map[string]any)

	if fields.Len() == 0 {
		for _, f := range e.Fields {
			if !e.IsHidden(f.Name) {
				out[f.Name] = r.Get(f.Name)
			}
		}
	}

	var missing []string
	for _, d := range fields.All() {
		if h.env.Registry.Link(e.Name, d.Name) != nil && !r.RelationLoaded(d.Name) {
			missing = append(missing, d.Name)
		}
	}
	if err := h.loadRelations(ctx, db, e, []*Record{r}, missing); err != nil {
		return nil, err
	}

	for _, d := range fields.All() {
		name := d.Name
		if h.env.Registry.Link(e.Name, name) != nil {
			if fullRelations && !d.Editable {
				relations[name] = embedRelation(r.Relation(name))
			} else {
				relations[name] = r.RelatedKeys(name)
			}
			continue
		}
		if fn, ok := h.typ.Accessors[name]; ok {
			out[name] = fn(r)
			continue
		}
		if e.HasField(name) && !e.IsHidden(name) {
			out[name] = r.Get(name)
		}
	}

	out[e.PrimaryKey.Field] = r.Key()
	for k, v := range relations {
		out[k] = v
	}
	return out, nil
}

// embedRelation renders loaded related records without their hidden attributes.
func embedRelation(v any) any {
	switch rel := v.(type) {
	case []*Record:
		list := make([]map[string]any, len(rel))
		for i, r := range rel {
			list[i] = visibleAttributes(r)
		}
		return list
	case *Record:
		if rel == nil {
			return nil
		}
		return visibleAttributes(rel)
	}
	return nil
}

func visibleAttributes(r *Record) map[string]any {
	e := r.Entity()
	out := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		if !e.IsHidden(f.Name) {
			out[f.Name] = r.Get(f.Name)
		}
	}
	return out
}
