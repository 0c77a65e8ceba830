package engine

import (
	"context"
	"fmt"
	"time"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/store"
)

// remove applies the on_delete policies of every relation the record owns,
// then soft- or hard-deletes the row.
func (h *Handler) remove(ctx context.Context, tx store.Querier, rec *Record) error {
	e := h.typ.Schema
	for _, link := range h.env.Registry.Links(e.Name) {
		if link.BelongsTo() {
			continue
		}
		if err := h.applyOnDelete(ctx, tx, rec, link); err != nil {
			return fmt.Errorf("on_delete %s: %w", link.Accessor, err)
		}
	}

	d := h.env.Store.Dialect
	q := query.New(e.Table).Where(e.PrimaryKey.Field, "=", rec.Key())
	var (
		sqlStr string
		args   []any
		err    error
	)
	if e.SoftDelete {
		sqlStr, args, err = q.WhereNull("deleted_at").UpdateSQL(d, []string{"deleted_at"}, []any{time.Now().UTC()})
	} else {
		sqlStr, args, err = q.DeleteSQL(d)
	}
	if err != nil {
		return err
	}
	if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
		return store.MapError(d, err)
	}
	return nil
}

func (h *Handler) applyOnDelete(ctx context.Context, tx store.Querier, rec *Record, link *metadata.Link) error {
	d := h.env.Store.Dialect
	related := h.env.Registry.GetEntity(link.Related())
	if related == nil {
		return nil
	}

	if link.IsManyToMany() {
		if link.OnDelete != "cascade" && link.OnDelete != "detach" {
			return nil
		}
		localKey := rec.Get(localJoinColumn(h.typ.Schema, link))
		sqlStr, args, err := query.New(link.JoinTable).Where(link.LocalJoinKey(), "=", localKey).DeleteSQL(d)
		if err != nil {
			return err
		}
		_, err = store.Exec(ctx, tx, sqlStr, args...)
		return err
	}

	fk := link.ForeignKey()
	parentKey := rec.Get(link.SourceKey)
	children := query.New(related.Table).Where(fk, "=", parentKey)
	if related.SoftDelete {
		children.WhereNull("deleted_at")
	}

	var (
		sqlStr string
		args   []any
		err    error
	)
	switch link.OnDelete {
	case "cascade":
		if related.SoftDelete {
			sqlStr, args, err = children.UpdateSQL(d, []string{"deleted_at"}, []any{time.Now().UTC()})
		} else {
			sqlStr, args, err = children.DeleteSQL(d)
		}
	case "set_null":
		sqlStr, args, err = children.UpdateSQL(d, []string{fk}, []any{nil})
	case "restrict":
		countSQL, countArgs, err := children.CountSQL(d)
		if err != nil {
			return err
		}
		n, err := store.QueryInt64(ctx, tx, countSQL, countArgs...)
		if err != nil {
			return err
		}
		if n > 0 {
			return ConflictError(fmt.Sprintf("Cannot delete: %d related %s records exist", n, related.Name))
		}
		return nil
	default:
		return nil
	}
	if err != nil {
		return err
	}
	_, err = store.Exec(ctx, tx, sqlStr, args...)
	return err
}
