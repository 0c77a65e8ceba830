package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/store"
)

type deferredRelation struct {
	link  *metadata.Link
	value any
}

// save transforms the request for every field of the set, assigns the
// values, persists the record and syncs its to-many relations in one
// transaction, and returns what changed. Validation happens before.
func (h *Handler) save(ctx context.Context, rec *Record, fields *metadata.FieldSet, in *Input) (Changes, error) {
	e := h.typ.Schema
	reg := h.env.Registry

	if rec.Exists() {
		var toMany []string
		for _, d := range fields.All() {
			if l := reg.Link(e.Name, d.Name); l != nil && !l.BelongsTo() && !rec.RelationLoaded(d.Name) {
				toMany = append(toMany, d.Name)
			}
		}
		if err := h.loadRelations(ctx, h.env.Store.DB, e, []*Record{rec}, toMany); err != nil {
			return nil, err
		}
	}

	values := make(map[string]any, fields.Len())
	for _, d := range fields.All() {
		v, err := h.env.Transformer.Transform(ctx, &TransformInput{
			Field:  d.Name,
			Type:   d.Type,
			Input:  in,
			Record: rec,
			Link:   reg.Link(e.Name, d.Name),
		})
		if err != nil {
			return nil, err
		}
		values[d.Name] = v
	}

	var deferred []deferredRelation
	belongsTo := make(map[string]string) // foreign key column -> accessor
	for _, d := range fields.All() {
		name, v := d.Name, values[d.Name]
		if fn, ok := h.typ.Mutators[name]; ok {
			if err := fn(rec, v); err != nil {
				return nil, err
			}
			continue
		}
		if link := reg.Link(e.Name, name); link != nil {
			if link.BelongsTo() {
				fk := link.ForeignKey()
				rec.Set(fk, coerceColumn(e, fk, firstKey(v)))
				belongsTo[fk] = name
			} else {
				// A submitted blank detaches everything; an absent key leaves the relation alone.
				if v == nil && in.Present(name) {
					v = []any{}
				}
				deferred = append(deferred, deferredRelation{link: link, value: v})
			}
			continue
		}
		if !e.HasField(name) || (name == e.PrimaryKey.Field && rec.Exists()) {
			continue
		}
		rec.Set(name, coerceColumn(e, name, v))
	}

	changes := h.attributeChanges(rec, fields, belongsTo)
	if err := h.prepareForSave(rec, fields); err != nil {
		return nil, err
	}

	err := h.env.Store.InTx(ctx, func(tx *sql.Tx) error {
		if err := h.persist(ctx, tx, rec); err != nil {
			return err
		}
		for _, dr := range deferred {
			rc, err := h.syncRelation(ctx, tx, rec, dr.link, dr.value)
			if err != nil {
				return err
			}
			if !rc.Empty() {
				changes[dr.link.Accessor] = rc
			}
		}
		return nil
	})
	if err != nil {
		h.env.Logger.ErrorContext(ctx, "save failed", "entity", h.name, "key", rec.Key(), "error", err)
		return nil, PersistenceError(h.name, err)
	}

	if h.typ.CustomChanges != nil {
		for k, v := range h.typ.CustomChanges(rec) {
			changes[k] = v
		}
	}
	return changes, nil
}

// attributeChanges captures the dirty attributes before timestamps and hashing.
// Foreign keys set through a belongs-to field are reported under that field.
func (h *Handler) attributeChanges(rec *Record, fields *metadata.FieldSet, belongsTo map[string]string) Changes {
	e := h.typ.Schema
	changes := make(Changes)
	for k, v := range rec.Dirty() {
		if !e.HasField(k) || k == e.PrimaryKey.Field {
			continue
		}
		old := rec.Original(k)
		if !rec.Exists() && v == nil {
			continue
		}
		name := k
		if accessor, ok := belongsTo[k]; ok && !fields.Has(k) {
			name = accessor
		}
		if d := fields.Get(name); d != nil && d.Type == "password" {
			changes[name] = maskedChange
			continue
		}
		changes[name] = []any{old, v}
	}
	return changes
}

// prepareForSave hashes changed passwords, fills auto timestamps and
// generates UUID keys the database will not generate itself.
func (h *Handler) prepareForSave(rec *Record, fields *metadata.FieldSet) error {
	e := h.typ.Schema
	dirty := rec.Dirty()

	for _, d := range fields.All() {
		if d.Type != "password" || h.env.Hasher == nil {
			continue
		}
		if v, ok := dirty[d.Name]; ok && !isEmpty(v) {
			hashed, err := h.env.Hasher(fmt.Sprint(v))
			if err != nil {
				return fmt.Errorf("hash %s: %w", d.Name, err)
			}
			rec.Set(d.Name, hashed)
		}
	}

	now := time.Now().UTC()
	if !rec.Exists() {
		for _, f := range e.AutoFields("create") {
			rec.Set(f.Name, now)
		}
		if rec.Key() == nil && e.PrimaryKey.Type == "uuid" && h.env.Store.Dialect.UUIDDefault() == "" {
			rec.Set(e.PrimaryKey.Field, uuid.NewString())
		}
	} else if len(dirty) > 0 {
		for _, f := range e.AutoFields("update") {
			rec.Set(f.Name, now)
		}
	}
	return nil
}

// persist inserts a new record (reading back generated values) or updates the changed columns.
func (h *Handler) persist(ctx context.Context, tx store.Querier, rec *Record) error {
	e := h.typ.Schema
	d := h.env.Store.Dialect

	if !rec.Exists() {
		var cols []string
		var vals []string
		pb := d.NewParamBuilder()
		for _, f := range e.Fields {
			v, ok := rec.attrs[f.Name]
			if !ok || (f.Name == e.PrimaryKey.Field && v == nil) {
				continue
			}
			cols = append(cols, f.Name)
			vals = append(vals, pb.Add(v))
		}
		var sqlStr string
		if len(cols) == 0 {
			sqlStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", e.Table)
		} else {
			sqlStr = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", e.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
		}
		sqlStr += " RETURNING " + strings.Join(e.FieldNames(), ", ")

		rows, err := store.QueryRows(ctx, tx, sqlStr, pb.Params()...)
		if err != nil {
			return store.MapError(d, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("insert %s returned no row", e.Table)
		}
		if d.NeedsBoolFix() {
			store.NormalizeBooleans(rows, e.BooleanFields())
		}
		for k, v := range rows[0] {
			rec.attrs[k] = v
		}
		rec.markPersisted()
		return nil
	}

	dirty := rec.Dirty()
	var cols []string
	var vals []any
	for _, f := range e.Fields {
		if v, ok := dirty[f.Name]; ok && f.Name != e.PrimaryKey.Field {
			cols = append(cols, f.Name)
			vals = append(vals, v)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	sqlStr, args, err := query.New(e.Table).Where(e.PrimaryKey.Field, "=", rec.Key()).UpdateSQL(d, cols, vals)
	if err != nil {
		return err
	}
	if _, err := store.Exec(ctx, tx, sqlStr, args...); err != nil {
		return store.MapError(d, err)
	}
	rec.markPersisted()
	return nil
}

// coerceColumn converts a transformed value to the column's Go type where
// possible. Lists and objects are stored as JSON text.
func coerceColumn(e *metadata.Entity, name string, v any) any {
	v = scalar(v)
	switch v.(type) {
	case nil:
		return nil
	case []any, map[string]any, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	}
	if f := e.GetField(name); f != nil {
		if s, ok := v.(string); ok && f.IsDate() {
			if t, ok := parseDate(s); ok {
				return t
			}
		}
		if c, ok := f.Coerce(v); ok {
			return c
		}
	}
	return v
}

// firstKey reduces a belongs-to value to one key.
func firstKey(v any) any {
	switch val := v.(type) {
	case []any:
		if len(val) == 0 {
			return nil
		}
		return scalar(val[0])
	case map[string]any:
		return nil
	}
	return scalar(v)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
