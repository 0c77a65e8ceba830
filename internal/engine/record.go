package engine

import (
	"fmt"
	"time"

	"entity-api/internal/metadata"
)

// Record is one row of an entity together with its loaded relations.
// It remembers the attributes it was loaded with so writes can report what changed.
type Record struct {
	entity    *metadata.Entity
	attrs     map[string]any
	original  map[string]any
	relations map[string]any // accessor -> *Record, []*Record or nil
	exists    bool
}

// NewRecord returns an empty, not yet persisted record.
func NewRecord(e *metadata.Entity) *Record {
	return &Record{
		entity:    e,
		attrs:     make(map[string]any),
		original:  make(map[string]any),
		relations: make(map[string]any),
	}
}

func recordFromRow(e *metadata.Entity, row map[string]any) *Record {
	r := NewRecord(e)
	for k, v := range row {
		r.attrs[k] = v
		r.original[k] = v
	}
	r.exists = true
	return r
}

func (r *Record) Entity() *metadata.Entity { return r.entity }

// Exists reports whether the record has been persisted.
func (r *Record) Exists() bool { return r.exists }

func (r *Record) Get(name string) any { return r.attrs[name] }

func (r *Record) Has(name string) bool {
	_, ok := r.attrs[name]
	return ok
}

func (r *Record) Set(name string, v any) { r.attrs[name] = v }

// Original returns the value the attribute had when the record was loaded.
func (r *Record) Original(name string) any { return r.original[name] }

// Key returns the primary-key value, nil for a new record without an assigned key.
func (r *Record) Key() any { return r.attrs[r.entity.PrimaryKey.Field] }

// Attributes returns a copy of the raw attributes.
func (r *Record) Attributes() map[string]any {
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// Dirty returns the attributes whose value differs from the loaded state.
// For a new record every assigned attribute is dirty.
func (r *Record) Dirty() map[string]any {
	dirty := make(map[string]any)
	for k, v := range r.attrs {
		if !r.exists {
			dirty[k] = v
			continue
		}
		if old, ok := r.original[k]; !ok || !sameValue(old, v) {
			dirty[k] = v
		}
	}
	return dirty
}

// RelationLoaded reports whether the accessor has been materialized.
func (r *Record) RelationLoaded(name string) bool {
	_, ok := r.relations[name]
	return ok
}

func (r *Record) Relation(name string) any { return r.relations[name] }

func (r *Record) SetRelation(name string, v any) { r.relations[name] = v }

// RelatedRecords returns a loaded to-many relation.
func (r *Record) RelatedRecords(name string) []*Record {
	list, _ := r.relations[name].([]*Record)
	return list
}

// RelatedKeys reduces a loaded relation to keys: a list for to-many, a scalar or nil for to-one.
func (r *Record) RelatedKeys(name string) any {
	switch v := r.relations[name].(type) {
	case []*Record:
		keys := make([]any, len(v))
		for i, rel := range v {
			keys[i] = rel.Key()
		}
		return keys
	case *Record:
		if v == nil {
			return nil
		}
		return v.Key()
	}
	return nil
}

// markPersisted makes the current attributes the new baseline.
func (r *Record) markPersisted() {
	r.original = make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		r.original[k] = v
	}
	r.exists = true
}

// sameValue compares attribute values across the representations a driver
// and a request may use for the same thing (int64 vs float64, time vs string).
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func keyString(v any) string {
	return fmt.Sprintf("%v", v)
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
