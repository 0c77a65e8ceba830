package engine

import (
	"context"
	"fmt"
	"strings"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/store"
)

// syncRelation reconciles a deferred to-many (or has-one) relation of rec
// with the submitted value. Leaving members are always detached before
// entering members are attached.
func (h *Handler) syncRelation(ctx context.Context, tx store.Querier, rec *Record, link *metadata.Link, value any) (*RelationChange, error) {
	related := h.env.Registry.GetEntity(link.Related())
	if related == nil {
		return nil, fmt.Errorf("unknown related entity: %s", link.Related())
	}
	members, withPivot, err := relationMembers(related, link.Accessor, value)
	if err != nil {
		return nil, err
	}
	if link.IsManyToMany() {
		return h.syncManyToMany(ctx, tx, rec, related, link, members, withPivot)
	}
	if value == nil {
		// key was not submitted
		return nil, nil
	}
	return h.syncHasMany(ctx, tx, rec, related, link, members)
}

// relationMembers normalizes a submitted relation value into unique,
// ordered members with keys coerced to the related primary-key type.
func relationMembers(related *metadata.Entity, accessor string, value any) ([]PivotMember, bool, error) {
	var raw []PivotMember
	withPivot := false
	switch v := value.(type) {
	case PivotSet:
		raw, withPivot = v, true
	case *Record:
		if v != nil {
			raw = []PivotMember{{Key: v.Key()}}
		}
	default:
		for _, k := range toList(value) {
			raw = append(raw, PivotMember{Key: k})
		}
	}

	pk := related.PrimaryKeyField()
	seen := make(map[string]bool, len(raw))
	members := make([]PivotMember, 0, len(raw))
	for _, m := range raw {
		key := scalar(m.Key)
		if pk != nil {
			c, ok := pk.Coerce(key)
			if !ok {
				return nil, false, InvalidPayloadError(fmt.Sprintf("%s: %v is not a valid %s key", accessor, m.Key, related.Name))
			}
			key = c
		}
		if seen[keyString(key)] {
			continue
		}
		seen[keyString(key)] = true
		members = append(members, PivotMember{Key: key, Pivot: m.Pivot})
	}
	return members, withPivot, nil
}

// syncHasMany moves foreign keys on the related table. A member owned by a
// different parent is only taken over when the configuration allows it.
func (h *Handler) syncHasMany(ctx context.Context, tx store.Querier, rec *Record, related *metadata.Entity, link *metadata.Link, members []PivotMember) (*RelationChange, error) {
	d := h.env.Store.Dialect
	fk := link.ForeignKey()
	pk := related.PrimaryKey.Field
	parentKey := rec.Get(link.SourceKey)

	desired := make(map[string]bool, len(members))
	keys := make([]any, 0, len(members))
	for _, m := range members {
		desired[keyString(m.Key)] = true
		keys = append(keys, m.Key)
	}

	current, err := h.fetchRows(ctx, tx, nil, liveColumns(related, pk, fk).Where(fk, "=", parentKey).OrderBy(pk, false))
	if err != nil {
		return nil, err
	}
	var targets []map[string]any
	if len(keys) > 0 {
		targets, err = h.fetchRows(ctx, tx, nil, liveColumns(related, pk, fk).WhereIn(pk, keys).OrderBy(pk, false))
		if err != nil {
			return nil, err
		}
	}

	if !h.config.AllowReparent {
		var details []ErrorDetail
		for _, row := range targets {
			if owner := row[fk]; owner != nil && keyString(owner) != keyString(parentKey) {
				details = append(details, ErrorDetail{
					Field:   link.Accessor,
					Rule:    "owned",
					Message: fmt.Sprintf("%s %v already belongs to another %s", related.Name, row[pk], h.name),
				})
			}
		}
		if len(details) > 0 {
			return nil, ValidationError(details)
		}
	}

	rc := &RelationChange{}
	for _, row := range current {
		if !desired[keyString(row[pk])] {
			rc.Detached = append(rc.Detached, row[pk])
		}
	}
	if len(rc.Detached) > 0 {
		sqlStr, args, err := query.New(related.Table).WhereIn(pk, rc.Detached).UpdateSQL(d, []string{fk}, []any{nil})
		if err != nil {
			return nil, err
		}
		if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
			return nil, store.MapError(d, err)
		}
	}

	for _, row := range targets {
		if row[fk] == nil || keyString(row[fk]) != keyString(parentKey) {
			rc.Attached = append(rc.Attached, row[pk])
		}
	}
	if len(rc.Attached) > 0 {
		sqlStr, args, err := query.New(related.Table).WhereIn(pk, rc.Attached).UpdateSQL(d, []string{fk}, []any{parentKey})
		if err != nil {
			return nil, err
		}
		if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
			return nil, store.MapError(d, err)
		}
	}
	return rc, nil
}

// syncManyToMany reconciles join rows: detach, attach, then pivot updates.
func (h *Handler) syncManyToMany(ctx context.Context, tx store.Querier, rec *Record, related *metadata.Entity, link *metadata.Link, members []PivotMember, withPivot bool) (*RelationChange, error) {
	d := h.env.Store.Dialect
	localCol, relatedCol := link.LocalJoinKey(), link.RelatedJoinKey()
	localKey := rec.Get(localJoinColumn(h.typ.Schema, link))
	pivotCols := pivotColumns(link)

	jq := query.New(link.JoinTable).Select(append([]string{localCol, relatedCol}, pivotCols...)...).Where(localCol, "=", localKey).
		OrderBy(relatedCol, false)
	rows, err := h.fetchRows(ctx, tx, nil, jq)
	if err != nil {
		return nil, err
	}
	current := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		current[keyString(row[relatedCol])] = row
	}
	desired := make(map[string]bool, len(members))
	for _, m := range members {
		desired[keyString(m.Key)] = true
	}

	rc := &RelationChange{}
	for _, row := range rows {
		if !desired[keyString(row[relatedCol])] {
			rc.Detached = append(rc.Detached, row[relatedCol])
		}
	}
	if len(rc.Detached) > 0 {
		sqlStr, args, err := query.New(link.JoinTable).Where(localCol, "=", localKey).WhereIn(relatedCol, rc.Detached).DeleteSQL(d)
		if err != nil {
			return nil, err
		}
		if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
			return nil, store.MapError(d, err)
		}
	}

	for _, m := range members {
		row, exists := current[keyString(m.Key)]
		if !exists {
			if err := h.attachJoinRow(ctx, tx, link, localKey, m, pivotCols); err != nil {
				return nil, err
			}
			rc.Attached = append(rc.Attached, m.Key)
			continue
		}
		if !withPivot {
			continue
		}
		var cols []string
		var vals []any
		for _, c := range pivotCols {
			if v, ok := m.Pivot[c]; ok && !sameValue(row[c], v) {
				cols = append(cols, c)
				vals = append(vals, v)
			}
		}
		if len(cols) == 0 {
			continue
		}
		sqlStr, args, err := query.New(link.JoinTable).Where(localCol, "=", localKey).Where(relatedCol, "=", m.Key).UpdateSQL(d, cols, vals)
		if err != nil {
			return nil, err
		}
		if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
			return nil, store.MapError(d, err)
		}
		rc.Updated = append(rc.Updated, m.Key)
	}
	return rc, nil
}

func (h *Handler) attachJoinRow(ctx context.Context, tx store.Querier, link *metadata.Link, localKey any, m PivotMember, pivotCols []string) error {
	d := h.env.Store.Dialect
	pb := d.NewParamBuilder()
	cols := []string{link.LocalJoinKey(), link.RelatedJoinKey()}
	vals := []string{pb.Add(localKey), pb.Add(m.Key)}
	for _, c := range pivotCols {
		if v, ok := m.Pivot[c]; ok {
			cols = append(cols, c)
			vals = append(vals, pb.Add(v))
		}
	}
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", link.JoinTable, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return store.MapError(d, err)
	}
	return nil
}

// pivotColumns are the join-table columns a sync may write besides the keys.
func pivotColumns(link *metadata.Link) []string {
	cols := link.PivotNames()
	if link.PivotOrder != "" {
		for _, c := range cols {
			if c == link.PivotOrder {
				return cols
			}
		}
		cols = append(cols, link.PivotOrder)
	}
	return cols
}

// liveColumns selects cols from the related table, skipping soft-deleted rows.
func liveColumns(e *metadata.Entity, cols ...string) *query.Builder {
	q := query.New(e.Table).Select(cols...)
	if e.SoftDelete {
		q.WhereNull("deleted_at")
	}
	return q
}
