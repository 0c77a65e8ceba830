package engine

import (
	"context"
	"log/slog"

	"entity-api/internal/metadata"
	"entity-api/internal/storage"
)

// Uploader persists a plain file and returns its public reference.
type Uploader interface {
	Upload(ctx context.Context, f storage.File) (string, error)
}

// ImageStore persists an image and returns its key.
type ImageStore interface {
	Store(ctx context.Context, f storage.File) (string, error)
}

// TransformInput is everything a value transformer may look at.
type TransformInput struct {
	Field  string
	Type   string
	Input  *Input
	Record *Record
	Link   *metadata.Link
}

// Value returns the raw request value of the field.
func (in *TransformInput) Value() (any, bool) {
	return in.Input.Value(in.Field)
}

// ValueTransformer converts a raw request value into a storage-ready value.
type ValueTransformer interface {
	Transform(ctx context.Context, in *TransformInput) (any, error)
}

type TransformFunc func(ctx context.Context, in *TransformInput) (any, error)

func (f TransformFunc) Transform(ctx context.Context, in *TransformInput) (any, error) {
	return f(ctx, in)
}

// PivotMember is one ordered member of a relation sync carrying pivot data.
type PivotMember struct {
	Key   any
	Pivot map[string]any
}

// PivotSet asks the relation sync to update pivot columns as well as membership.
type PivotSet []PivotMember

// Transformer dispatches by field type: registered transformers first,
// then the built-ins, then a pass-through.
type Transformer struct {
	custom   map[string]ValueTransformer
	builtin  map[string]TransformFunc
	uploader Uploader
	images   ImageStore
	logger   *slog.Logger
}

func NewTransformer(uploader Uploader, images ImageStore, logger *slog.Logger) *Transformer {
	t := &Transformer{
		custom:   make(map[string]ValueTransformer),
		uploader: uploader,
		images:   images,
		logger:   logger,
	}
	t.builtin = map[string]TransformFunc{
		"file":     t.file,
		"image":    t.image,
		"gallery":  gallery,
		"boolean":  boolean,
		"bool":     boolean,
		"password": password,
		"integer":  integer,
		"int":      integer,
		"number":   integer,
		"numeric":  integer,
		"float":    float,
	}
	return t
}

// Extend registers a transformer for a field type, replacing any built-in.
func (t *Transformer) Extend(fieldType string, vt ValueTransformer) {
	t.custom[fieldType] = vt
}

func (t *Transformer) Transform(ctx context.Context, in *TransformInput) (any, error) {
	if vt, ok := t.custom[in.Type]; ok {
		return vt.Transform(ctx, in)
	}
	if fn, ok := t.builtin[in.Type]; ok {
		return fn(ctx, in)
	}
	return passThrough(in), nil
}

func passThrough(in *TransformInput) any {
	v, ok := in.Value()
	if !ok || isEmpty(v) {
		return nil
	}
	return scalar(v)
}

func (t *Transformer) file(ctx context.Context, in *TransformInput) (any, error) {
	return t.upload(ctx, in, func(ctx context.Context, f storage.File) (string, error) {
		if t.uploader == nil {
			return "", storage.ErrBadSource
		}
		return t.uploader.Upload(ctx, f)
	})
}

func (t *Transformer) image(ctx context.Context, in *TransformInput) (any, error) {
	return t.upload(ctx, in, func(ctx context.Context, f storage.File) (string, error) {
		if t.images == nil {
			return "", storage.ErrBadSource
		}
		return t.images.Store(ctx, f)
	})
}

// upload stores the field's files. Without files the plain value is kept,
// so an update can leave an existing reference alone. In a multi-file field
// a failing file is skipped and the rest are still stored.
func (t *Transformer) upload(ctx context.Context, in *TransformInput, store func(context.Context, storage.File) (string, error)) (any, error) {
	files := in.Input.Files[in.Field]
	if len(files) == 0 {
		return passThrough(in), nil
	}
	if !in.Input.MultiFile[in.Field] && len(files) == 1 {
		ref, err := store(ctx, files[0])
		if err != nil {
			return nil, uploadError(in.Field, err)
		}
		return ref, nil
	}
	refs := make([]any, 0, len(files))
	for _, f := range files {
		ref, err := store(ctx, f)
		if err != nil {
			t.logger.WarnContext(ctx, "skipping upload", "field", in.Field, "file", f.Filename(), "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// gallery keeps an identical ordered key list as is; otherwise it ranks the keys.
func gallery(_ context.Context, in *TransformInput) (any, error) {
	v, _ := in.Value()
	keys := toList(v)
	if keys == nil {
		keys = []any{}
	}
	if in.Record != nil && in.Record.Exists() {
		if current, ok := in.Record.RelatedKeys(in.Field).([]any); ok && sameKeys(current, keys) {
			return keys, nil
		}
	}
	column := "sort"
	if in.Link != nil && in.Link.PivotOrder != "" {
		column = in.Link.PivotOrder
	}
	set := make(PivotSet, len(keys))
	for i, k := range keys {
		set[i] = PivotMember{Key: k, Pivot: map[string]any{column: int64(i)}}
	}
	return set, nil
}

func boolean(_ context.Context, in *TransformInput) (any, error) {
	v, _ := in.Value()
	return truthy(v), nil
}

// password never overwrites a stored password with a blank one.
func password(_ context.Context, in *TransformInput) (any, error) {
	v, _ := in.Value()
	if isEmpty(v) {
		if in.Record != nil && in.Record.Exists() {
			return in.Record.Get(in.Field), nil
		}
		return nil, nil
	}
	return scalar(v), nil
}

func integer(_ context.Context, in *TransformInput) (any, error) {
	v, ok := in.Value()
	if !ok || isEmpty(v) {
		return nil, nil
	}
	n, _ := parseInt(v)
	return n, nil
}

func float(_ context.Context, in *TransformInput) (any, error) {
	v, ok := in.Value()
	if !ok || isEmpty(v) {
		return nil, nil
	}
	f, _ := parseFloat(v)
	return f, nil
}

// sameKeys compares two ordered key lists.
func sameKeys(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if keyString(a[i]) != keyString(b[i]) {
			return false
		}
	}
	return true
}
