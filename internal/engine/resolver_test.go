package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/metadata"
)

func TestResolveEntity(t *testing.T) {
	f := newFixture(t)

	typ, ok := f.resolver.ResolveEntity("writers")
	require.True(t, ok)
	assert.Equal(t, "authors", typ.Name())

	// A bound schema no longer answers to its table name.
	_, ok = f.resolver.ResolveEntity("authors")
	assert.False(t, ok)

	typ, ok = f.resolver.ResolveEntity("articles")
	require.True(t, ok)
	assert.NotNil(t, typ.Scopes["published"])

	_, ok = f.resolver.ResolveEntity("nope")
	assert.False(t, ok)
}

func TestResolveEntityHyphenatedTable(t *testing.T) {
	f := newFixture(t)
	e := &metadata.Entity{
		Name:       "blog_posts",
		Table:      "blog_posts",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "bigint"},
		Fields:     []metadata.Field{{Name: "id", Type: "bigint"}},
	}
	reg := f.env.Registry
	reg.Load(append(reg.AllEntities(), e), reg.AllRelations())
	f.resolver.Register(NewType(e))

	typ, ok := f.resolver.ResolveEntity("blog-posts")
	require.True(t, ok)
	assert.Equal(t, "blog_posts", typ.Name())
	assert.Contains(t, f.resolver.Names(), "blog-posts")
}

func TestResolveHandler(t *testing.T) {
	f := newFixture(t)
	actor := &metadata.UserContext{ID: "u9"}

	h, err := f.resolver.ResolveHandler("writers", actor)
	require.NoError(t, err)
	assert.Equal(t, "writers", h.Name())
	assert.Equal(t, "authors", h.Type().Name())
	assert.Same(t, actor, h.(*Handler).Actor())

	_, err = f.resolver.ResolveHandler("ghosts", actor)
	appErr := requireAppError(t, err, "UNKNOWN_ENTITY")
	assert.Equal(t, 404, appErr.Status)
}

type wrappedHandler struct {
	*Handler
}

func (w wrappedHandler) Name() string { return "wrapped:" + w.Handler.Name() }

func TestResolveHandlerOverride(t *testing.T) {
	f := newFixture(t)
	typ, ok := f.resolver.ResolveEntity("tags")
	require.True(t, ok)
	typ.NewHandler = func(base *Handler) EntityHandler { return wrappedHandler{base} }

	h, err := f.resolver.ResolveHandler("tags", nil)
	require.NoError(t, err)
	assert.Equal(t, "wrapped:tags", h.Name())
}

func TestNames(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"articles", "categories", "comments", "images", "profiles", "tags", "users", "writers"}, f.resolver.Names())
}

func TestListMeta(t *testing.T) {
	f := newFixture(t)
	f.deny["users:index"] = true
	f.deny["users:destroy"] = true

	metas := f.resolver.ListMeta(f.ctx, &metadata.UserContext{ID: "u1"})
	require.Len(t, metas, 8)

	users := metas["users"]
	require.NotNil(t, users)
	assert.False(t, users.Permissions["index"])
	assert.False(t, users.Permissions["destroy"])
	assert.True(t, users.Permissions["create"])
	assert.False(t, users.Searchable)

	assert.True(t, metas["writers"].Permissions["destroy"])
	assert.Equal(t, "Authors", metas["writers"].Title)
}

func TestActionName(t *testing.T) {
	assert.Equal(t, "publishAll", ActionName("publish-all"))
	assert.Equal(t, "publishAll", ActionName("publish_all"))
	assert.Equal(t, "publish", ActionName("Publish"))
	assert.Equal(t, "publishNow", ActionName("publishNow"))
	assert.Equal(t, "", ActionName("--"))
}
