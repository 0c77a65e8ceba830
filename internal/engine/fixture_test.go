package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"entity-api/internal/config"
	"entity-api/internal/events"
	"entity-api/internal/logging"
	"entity-api/internal/metadata"
	"entity-api/internal/query"
	"entity-api/internal/storage"
	"entity-api/internal/store"
)

const blogYAML = `
bindings:
  writers: authors
entities:
  - name: authors
    table: authors
    fields:
      - {name: id, type: bigint}
      - {name: name, type: string, required: true}
  - name: articles
    table: articles
    soft_delete: true
    fields:
      - {name: id, type: bigint}
      - {name: title, type: string, required: true}
      - {name: slug, type: string, unique: true, nullable: true}
      - {name: published, type: boolean, cast: boolean, default: false}
      - {name: views, type: int, default: 0}
      - {name: cover, type: string, nullable: true}
      - {name: author_id, type: bigint, nullable: true}
      - {name: created_at, type: timestamp, auto: create}
      - {name: updated_at, type: timestamp, auto: update}
    admin:
      searchable: [title, slug]
      index_fields:
        - id
        - title
        - published
        - views
        - author
        - headline
      item_fields:
        - title
        - slug
        - published
        - views
        - {name: cover, type: image}
        - author
        - tags
        - {name: gallery, type: gallery}
        - comments
      filter_fields: [published, author]
      rules:
        title: required|max:255
        views: nullable|integer|min:0
  - name: tags
    table: tags
    fields:
      - {name: id, type: bigint}
      - {name: name, type: string}
  - name: images
    table: images
    primary_key: {field: id, type: string}
    fields:
      - {name: id, type: string}
      - {name: path, type: string}
  - name: comments
    table: comments
    fields:
      - {name: id, type: bigint}
      - {name: body, type: text}
      - {name: article_id, type: bigint, nullable: true}
  - name: users
    table: users
    fields:
      - {name: id, type: bigint}
      - {name: email, type: string, unique: true}
      - {name: password, type: string, nullable: true}
    hidden: [password]
    fillable: [email, password, profile]
  - name: profiles
    table: profiles
    fields:
      - {name: id, type: bigint}
      - {name: bio, type: text}
      - {name: user_id, type: bigint, unique: true, nullable: true}
  - name: categories
    table: categories
    fields:
      - {name: id, type: bigint}
      - {name: name, type: string}
      - {name: parent_id, type: bigint, nullable: true}
relations:
  - {name: articles, type: one_to_many, source: authors, target: articles, target_key: author_id, inverse: author, on_delete: set_null}
  - {name: tags, type: many_to_many, source: articles, target: tags, join_table: article_tags, source_join_key: article_id, target_join_key: tag_id, on_delete: detach}
  - name: gallery
    type: many_to_many
    source: articles
    target: images
    join_table: article_images
    source_join_key: article_id
    target_join_key: image_id
    pivot_order: sort
    on_delete: detach
  - {name: comments, type: one_to_many, source: articles, target: comments, target_key: article_id, inverse: article, on_delete: cascade}
  - {name: profile, type: one_to_one, source: users, target: profiles, target_key: user_id, inverse: user, on_delete: restrict}
  - {name: children, type: one_to_many, source: categories, target: categories, target_key: parent_id, inverse: parent, on_delete: set_null}
`

type fakeImages struct {
	mu   sync.Mutex
	next int
}

func (f *fakeImages) Store(_ context.Context, file storage.File) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.Size() == 0 {
		return "", storage.ErrBadSource
	}
	f.next++
	return fmt.Sprintf("img-%d.png", f.next), nil
}

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, file storage.File) (string, error) {
	if file.Size() == 0 {
		return "", storage.ErrBadSource
	}
	return "/storage/uploads/" + file.Filename(), nil
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	env      *Env
	resolver *Resolver
	deny     map[string]bool // "entity:ability"
	calls    []string

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, "sqlite", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	doc, err := metadata.Parse([]byte(blogYAML))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	doc.Apply(reg)
	require.NoError(t, store.NewMigrator(s).MigrateAll(ctx, reg))

	f := &fixture{t: t, ctx: ctx, deny: map[string]bool{}}
	f.env = &Env{
		Store:       s,
		Registry:    reg,
		Transformer: NewTransformer(fakeUploader{}, &fakeImages{}, logging.Nop()),
		Authorizer: AuthorizerFunc(func(_ context.Context, _ *metadata.UserContext, ability string, e *metadata.Entity, _ *Record) (bool, error) {
			f.calls = append(f.calls, e.Name+":"+ability)
			return !f.deny[e.Name+":"+ability], nil
		}),
		Hasher: func(plain string) (string, error) { return "hashed:" + plain, nil },
		Events: events.SinkFunc(func(_ context.Context, e events.Event) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, e)
		}),
		Logger:     logging.Nop(),
		Pagination: config.PaginationConfig{DefaultPerPage: 25, MaxPerPage: 100},
	}

	f.resolver = NewResolver(f.env)
	articles := NewType(reg.GetEntity("articles"))
	articles.Scopes = map[string]ScopeFunc{
		"published": func(q *query.Builder, _ ...string) { q.Where("published", "=", true) },
		"minViews": func(q *query.Builder, params ...string) {
			if len(params) > 0 {
				q.Where("views", ">=", params[0])
			}
		},
	}
	articles.SortScopes = map[string]SortScopeFunc{
		"popularity": func(q *query.Builder, asc bool) { q.OrderBy("views", !asc) },
	}
	articles.Accessors = map[string]AccessorFunc{
		"headline": func(r *Record) any { return strings.ToUpper(fmt.Sprint(r.Get("title"))) },
	}
	articles.Actions = map[string]ActionFunc{
		"publishNow": func(ctx context.Context, req *ActionRequest) (any, error) {
			return map[string]any{"published": req.Record.Key()}, nil
		},
	}
	articles.BulkActions = map[string]ActionFunc{
		"archiveAll": func(ctx context.Context, req *ActionRequest) (any, error) {
			return len(req.Keys), nil
		},
	}
	f.resolver.Register(articles)
	return f
}

func (f *fixture) handler(name string) *Handler {
	f.t.Helper()
	h, err := f.resolver.ResolveHandler(name, &metadata.UserContext{ID: "u1", Roles: []string{"editor"}})
	require.NoError(f.t, err)
	return h.(*Handler)
}

// exec runs raw SQL against the fixture database.
func (f *fixture) exec(sql string, args ...any) {
	f.t.Helper()
	_, err := f.env.Store.DB.ExecContext(f.ctx, sql, args...)
	require.NoError(f.t, err)
}

func (f *fixture) count(sql string, args ...any) int64 {
	f.t.Helper()
	n, err := store.QueryInt64(f.ctx, f.env.Store.DB, sql, args...)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) eventsOf(kind events.Kind) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) createArticle(values map[string]any) map[string]any {
	f.t.Helper()
	item, err := f.handler("articles").Create(f.ctx, NewInput(values))
	require.NoError(f.t, err)
	return item
}
