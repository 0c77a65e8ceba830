package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/logging"
	"entity-api/internal/metadata"
	"entity-api/internal/storage"
)

func newTestTransformer() *Transformer {
	return NewTransformer(fakeUploader{}, &fakeImages{}, logging.Nop())
}

func transformValue(t *testing.T, tr *Transformer, typ string, in *Input) any {
	t.Helper()
	v, err := tr.Transform(context.Background(), &TransformInput{Field: "f", Type: typ, Input: in})
	require.NoError(t, err)
	return v
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{nil, "", "0", "false", "off", "no", "FALSE", 0, int64(0), 0.0, false, []any{}, json.Number("0")} {
		assert.False(t, truthy(v), "%#v", v)
	}
	for _, v := range []any{"1", "true", "on", "yes", "anything", 1, int64(2), 0.5, true, []any{"x"}, json.Number("1")} {
		assert.True(t, truthy(v), "%#v", v)
	}
}

func TestBuiltinScalarTransformers(t *testing.T) {
	tr := newTestTransformer()

	assert.Equal(t, true, transformValue(t, tr, "boolean", NewInput(map[string]any{"f": "on"})))
	assert.Equal(t, false, transformValue(t, tr, "boolean", NewInput(nil)))

	assert.Equal(t, int64(42), transformValue(t, tr, "integer", NewInput(map[string]any{"f": "42"})))
	assert.Equal(t, int64(3), transformValue(t, tr, "int", NewInput(map[string]any{"f": json.Number("3")})))
	assert.Nil(t, transformValue(t, tr, "integer", NewInput(map[string]any{"f": ""})))

	assert.Equal(t, 1.5, transformValue(t, tr, "float", NewInput(map[string]any{"f": "1,5"})))
	assert.Nil(t, transformValue(t, tr, "float", NewInput(nil)))

	assert.Equal(t, "plain", transformValue(t, tr, "text", NewInput(map[string]any{"f": "plain"})))
	assert.Nil(t, transformValue(t, tr, "text", NewInput(map[string]any{"f": ""})))
	assert.Equal(t, int64(7), transformValue(t, tr, "unknown", NewInput(map[string]any{"f": json.Number("7")})))
}

func TestPasswordKeepsStoredValue(t *testing.T) {
	tr := newTestTransformer()
	e := &metadata.Entity{Name: "users", PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "bigint"}}
	rec := recordFromRow(e, map[string]any{"id": int64(1), "f": "stored-hash"})

	v, err := tr.Transform(context.Background(), &TransformInput{Field: "f", Type: "password", Input: NewInput(map[string]any{"f": ""}), Record: rec})
	require.NoError(t, err)
	assert.Equal(t, "stored-hash", v)

	v, err = tr.Transform(context.Background(), &TransformInput{Field: "f", Type: "password", Input: NewInput(map[string]any{"f": "new"}), Record: rec})
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	assert.Nil(t, transformValue(t, tr, "password", NewInput(nil)))
}

func TestUploadTransformers(t *testing.T) {
	tr := newTestTransformer()

	in := NewInput(nil)
	in.AddFile("f", storage.BytesFile{Name: "doc.pdf", Data: []byte("%PDF")}, false)
	assert.Equal(t, "/storage/uploads/doc.pdf", transformValue(t, tr, "file", in))

	// Without files the submitted reference is kept.
	assert.Equal(t, "/old.pdf", transformValue(t, tr, "file", NewInput(map[string]any{"f": "/old.pdf"})))

	in = NewInput(nil)
	in.AddFile("f", storage.BytesFile{Name: "empty.png"}, false)
	_, err := tr.Transform(context.Background(), &TransformInput{Field: "f", Type: "image", Input: in})
	requireAppError(t, err, "BAD_UPLOAD")
}

func TestMultiFileUploadSkipsFailures(t *testing.T) {
	tr := newTestTransformer()

	in := NewInput(nil)
	in.AddFile("f", storage.BytesFile{Name: "a.png", Data: []byte("a")}, true)
	in.AddFile("f", storage.BytesFile{Name: "broken.png"}, true)
	in.AddFile("f", storage.BytesFile{Name: "b.png", Data: []byte("b")}, true)

	assert.Equal(t, []any{"img-1.png", "img-2.png"}, transformValue(t, tr, "image", in))
}

func TestGalleryTransformer(t *testing.T) {
	tr := newTestTransformer()
	link := &metadata.Link{Relation: &metadata.Relation{PivotOrder: "position"}, Accessor: "f"}

	v, err := tr.Transform(context.Background(), &TransformInput{Field: "f", Type: "gallery", Input: NewInput(map[string]any{"f": []any{"x", "y"}}), Link: link})
	require.NoError(t, err)
	assert.Equal(t, PivotSet{
		{Key: "x", Pivot: map[string]any{"position": int64(0)}},
		{Key: "y", Pivot: map[string]any{"position": int64(1)}},
	}, v)

	e := &metadata.Entity{Name: "articles", PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "bigint"}}
	img := &metadata.Entity{Name: "images", PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "string"}}
	rec := recordFromRow(e, map[string]any{"id": int64(1)})
	rec.SetRelation("f", []*Record{
		recordFromRow(img, map[string]any{"id": "x"}),
		recordFromRow(img, map[string]any{"id": "y"}),
	})

	v, err = tr.Transform(context.Background(), &TransformInput{Field: "f", Type: "gallery", Input: NewInput(map[string]any{"f": []any{"x", "y"}}), Record: rec, Link: link})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, v)
}

func TestTransformerExtendWins(t *testing.T) {
	tr := newTestTransformer()
	tr.Extend("boolean", TransformFunc(func(_ context.Context, in *TransformInput) (any, error) {
		return "custom", nil
	}))
	tr.Extend("slug", TransformFunc(func(_ context.Context, in *TransformInput) (any, error) {
		v, _ := in.Value()
		return "slug:" + v.(string), nil
	}))

	assert.Equal(t, "custom", transformValue(t, tr, "boolean", NewInput(map[string]any{"f": "1"})))
	assert.Equal(t, "slug:x", transformValue(t, tr, "slug", NewInput(map[string]any{"f": "x"})))
}

func TestToList(t *testing.T) {
	assert.Nil(t, toList(nil))
	assert.Equal(t, []any{}, toList(""))
	assert.Equal(t, []any{"1", "2"}, toList("1, 2,"))
	assert.Equal(t, []any{int64(3), "a"}, toList([]any{json.Number("3"), "", nil, "a"}))
	assert.Equal(t, []any{int64(5)}, toList(int64(5)))
}
