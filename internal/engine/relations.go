package engine

import (
	"context"
	"fmt"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/store"
)

// loadRelations materializes the named accessors for all records with one
// query per relation, never one per record.
func (h *Handler) loadRelations(ctx context.Context, q store.Querier, e *metadata.Entity, records []*Record, names []string) error {
	if len(records) == 0 || len(names) == 0 {
		return nil
	}
	for _, name := range names {
		link := h.env.Registry.Link(e.Name, name)
		if link == nil {
			continue
		}
		related := h.env.Registry.GetEntity(link.Related())
		if related == nil {
			return fmt.Errorf("unknown related entity: %s", link.Related())
		}

		var err error
		switch {
		case link.IsManyToMany():
			err = h.loadManyToMany(ctx, q, e, related, link, records)
		case link.BelongsTo():
			err = h.loadBelongsTo(ctx, q, related, link, records)
		default:
			err = h.loadHasMany(ctx, q, related, link, records)
		}
		if err != nil {
			return fmt.Errorf("load relation %s: %w", name, err)
		}
	}
	return nil
}

// fetchRows runs q and returns the rows with booleans fixed for the dialect.
func (h *Handler) fetchRows(ctx context.Context, db store.Querier, e *metadata.Entity, q *query.Builder) ([]map[string]any, error) {
	sql, args, err := q.ToSQL(h.env.Store.Dialect)
	if err != nil {
		return nil, err
	}
	rows, err := store.QueryRows(ctx, db, sql, args...)
	if err != nil {
		return nil, err
	}
	if e != nil && h.env.Store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, e.BooleanFields())
	}
	return rows, nil
}

func liveRows(e *metadata.Entity) *query.Builder {
	q := query.New(e.Table).Select(e.FieldNames()...)
	if e.SoftDelete {
		q.WhereNull("deleted_at")
	}
	return q
}

func (h *Handler) loadBelongsTo(ctx context.Context, db store.Querier, related *metadata.Entity, link *metadata.Link, records []*Record) error {
	fk := link.ForeignKey()
	fkValues := collectValues(records, func(r *Record) any { return r.Get(fk) })
	byKey := make(map[string]*Record)
	if len(fkValues) > 0 {
		rows, err := h.fetchRows(ctx, db, related, liveRows(related).WhereIn(link.SourceKey, fkValues))
		if err != nil {
			return err
		}
		for _, row := range rows {
			byKey[keyString(row[link.SourceKey])] = recordFromRow(related, row)
		}
	}
	for _, r := range records {
		var parent *Record
		if v := r.Get(fk); v != nil {
			parent = byKey[keyString(v)]
		}
		r.SetRelation(link.Accessor, parent)
	}
	return nil
}

func (h *Handler) loadHasMany(ctx context.Context, db store.Querier, related *metadata.Entity, link *metadata.Link, records []*Record) error {
	fk := link.ForeignKey()
	parentKeys := collectValues(records, func(r *Record) any { return r.Get(link.SourceKey) })
	grouped := make(map[string][]*Record)
	if len(parentKeys) > 0 {
		q := liveRows(related).WhereIn(fk, parentKeys).OrderBy(related.PrimaryKey.Field, false)
		rows, err := h.fetchRows(ctx, db, related, q)
		if err != nil {
			return err
		}
		for _, row := range rows {
			k := keyString(row[fk])
			grouped[k] = append(grouped[k], recordFromRow(related, row))
		}
	}
	for _, r := range records {
		children := grouped[keyString(r.Get(link.SourceKey))]
		if link.HasOne() {
			var child *Record
			if len(children) > 0 {
				child = children[0]
			}
			r.SetRelation(link.Accessor, child)
			continue
		}
		if children == nil {
			children = []*Record{}
		}
		r.SetRelation(link.Accessor, children)
	}
	return nil
}

func (h *Handler) loadManyToMany(ctx context.Context, db store.Querier, e, related *metadata.Entity, link *metadata.Link, records []*Record) error {
	localCol := localJoinColumn(e, link)
	relatedCol := relatedJoinColumn(related, link)
	localKeys := collectValues(records, func(r *Record) any { return r.Get(localCol) })

	sourceToTargets := make(map[string][]*Record)
	if len(localKeys) > 0 {
		jq := query.New(link.JoinTable).
			Select(link.LocalJoinKey(), link.RelatedJoinKey()).
			WhereIn(link.LocalJoinKey(), localKeys)
		if link.PivotOrder != "" {
			jq.OrderBy(link.PivotOrder, false)
		}
		jq.OrderBy(link.RelatedJoinKey(), false)
		joinRows, err := h.fetchRows(ctx, db, nil, jq)
		if err != nil {
			return err
		}

		targetIDs := collectRowValues(joinRows, link.RelatedJoinKey())
		targetByKey := make(map[string]map[string]any)
		if len(targetIDs) > 0 {
			rows, err := h.fetchRows(ctx, db, related, liveRows(related).WhereIn(relatedCol, targetIDs))
			if err != nil {
				return err
			}
			for _, row := range rows {
				targetByKey[keyString(row[relatedCol])] = row
			}
		}

		for _, jr := range joinRows {
			sid := keyString(jr[link.LocalJoinKey()])
			if row, ok := targetByKey[keyString(jr[link.RelatedJoinKey()])]; ok {
				sourceToTargets[sid] = append(sourceToTargets[sid], recordFromRow(related, row))
			}
		}
	}

	for _, r := range records {
		targets := sourceToTargets[keyString(r.Get(localCol))]
		if targets == nil {
			targets = []*Record{}
		}
		r.SetRelation(link.Accessor, targets)
	}
	return nil
}

func collectValues(records []*Record, get func(*Record) any) []any {
	seen := make(map[string]bool)
	var values []any
	for _, r := range records {
		v := get(r)
		if v == nil {
			continue
		}
		s := keyString(v)
		if !seen[s] {
			seen[s] = true
			values = append(values, v)
		}
	}
	return values
}

func collectRowValues(rows []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rows {
		v := row[field]
		if v == nil {
			continue
		}
		s := keyString(v)
		if !seen[s] {
			seen[s] = true
			values = append(values, v)
		}
	}
	return values
}
