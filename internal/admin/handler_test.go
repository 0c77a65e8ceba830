package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/engine"
	"entity-api/internal/events"
	"entity-api/internal/logging"
	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

const schemaYAML = `
entities:
  - name: authors
    table: authors
    fields:
      - {name: id, type: bigint}
      - {name: name, type: string}
  - name: posts
    table: posts
    fields:
      - {name: id, type: bigint}
      - {name: title, type: string}
      - {name: author_id, type: bigint, nullable: true}
relations:
  - {name: posts, type: one_to_many, source: authors, target: posts, target_key: author_id, inverse: author, on_delete: set_null}
`

func newTestApp(t *testing.T) (*fiber.App, *events.TableSink) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx))

	doc, err := metadata.Parse([]byte(schemaYAML))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	doc.Apply(reg)

	sink := events.NewTableSink(s, logging.Nop())
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := err.(*engine.AppError); ok {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return fiber.DefaultErrorHandler(c, err)
		},
	})
	RegisterAdminRoutes(app.Group("/_admin"), NewHandler(reg, store.NewMigrator(s), sink))
	return app, sink
}

func getJSON(t *testing.T, app *fiber.App, method, path string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestMigrateThenListEntities(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := getJSON(t, app, "POST", "/_admin/migrate")
	require.Equal(t, 200, status)
	assert.Equal(t, float64(2), body["data"].(map[string]any)["entities"])

	status, body = getJSON(t, app, "GET", "/_admin/entities")
	require.Equal(t, 200, status)
	list := body["data"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "authors", list[0].(map[string]any)["name"])
}

func TestGetEntityLinks(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := getJSON(t, app, "GET", "/_admin/entities/posts")
	require.Equal(t, 200, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "posts", data["entity"].(map[string]any)["table"])
	links := data["links"].([]any)
	require.Len(t, links, 1)
	link := links[0].(map[string]any)
	assert.Equal(t, "author", link["accessor"])
	assert.Equal(t, "belongs_to", link["kind"])
	assert.Equal(t, "authors", link["related"])

	status, body = getJSON(t, app, "GET", "/_admin/entities/authors")
	require.Equal(t, 200, status)
	link = body["data"].(map[string]any)["links"].([]any)[0].(map[string]any)
	assert.Equal(t, "has_many", link["kind"])
	assert.Equal(t, "set_null", link["on_delete"])

	status, body = getJSON(t, app, "GET", "/_admin/entities/ghosts")
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestListRelations(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := getJSON(t, app, "GET", "/_admin/relations")
	require.Equal(t, 200, status)
	rels := body["data"].([]any)
	require.Len(t, rels, 1)
	assert.Equal(t, "one_to_many", rels[0].(map[string]any)["type"])
}

func TestListEvents(t *testing.T) {
	app, sink := newTestApp(t)
	ctx := context.Background()
	sink.Emit(ctx, events.New(events.Created, "posts", "u1", int64(1), map[string]any{"title": []any{nil, "Hi"}}))
	sink.Emit(ctx, events.New(events.Destroyed, "posts", "u1", int64(1), nil))
	sink.Emit(ctx, events.New(events.Created, "authors", "u1", int64(3), nil))

	status, body := getJSON(t, app, "GET", "/_admin/entities/posts/events")
	require.Equal(t, 200, status)
	rows := body["data"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "Destroyed", rows[0].(map[string]any)["kind"])
	assert.Equal(t, "1", rows[1].(map[string]any)["record_key"])

	status, body = getJSON(t, app, "GET", "/_admin/entities/posts/events?limit=1")
	require.Equal(t, 200, status)
	assert.Len(t, body["data"].([]any), 1)

	status, _ = getJSON(t, app, "GET", "/_admin/entities/posts/events?limit=many")
	assert.Equal(t, 400, status)
}
