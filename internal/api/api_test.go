package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/auth"
	"entity-api/internal/config"
	"entity-api/internal/engine"
	"entity-api/internal/events"
	"entity-api/internal/logging"
	"entity-api/internal/metadata"
	"entity-api/internal/storage"
	"entity-api/internal/store"
)

const secret = "test-secret"

const appYAML = `
entities:
  - name: authors
    table: authors
    fields:
      - {name: id, type: bigint}
      - {name: name, type: string}
  - name: articles
    table: articles
    fields:
      - {name: id, type: bigint}
      - {name: title, type: string, required: true}
      - {name: published, type: boolean, cast: boolean, default: false}
      - {name: views, type: int, default: 0}
      - {name: cover, type: string, nullable: true}
      - {name: author_id, type: bigint, nullable: true}
    admin:
      index_fields: [id, title, published, views, author]
      item_fields:
        - title
        - published
        - views
        - {name: cover, type: image}
        - author
      rules:
        title: required|max:100
        views: nullable|integer|min:0
  - name: users
    table: users
    fields:
      - {name: id, type: bigint}
      - {name: email, type: string, unique: true}
      - {name: password, type: string, nullable: true}
    hidden: [password]
relations:
  - {name: articles, type: one_to_many, source: authors, target: articles, target_key: author_id, inverse: author, on_delete: set_null}
permissions:
  - {entity: articles, action: read, roles: [editor]}
  - {entity: articles, action: create, roles: [editor]}
  - {entity: articles, action: update, roles: [editor]}
  - {entity: users, action: read, roles: [editor]}
`

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type testServer struct {
	t      *testing.T
	app    *fiber.App
	events []events.Event
	admin  string
	editor string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, "sqlite", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	doc, err := metadata.Parse([]byte(appYAML))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	doc.Apply(reg)
	require.NoError(t, store.NewMigrator(s).MigrateAll(ctx, reg))

	dir := t.TempDir()
	cfg := &config.Config{
		Server:     config.ServerConfig{APIPrefix: "/api/admin"},
		Storage:    config.StorageConfig{UploadPath: dir + "/uploads", PublicPath: "/storage/uploads"},
		Pagination: config.PaginationConfig{DefaultPerPage: 25, MaxPerPage: 100},
		Auth:       config.AuthConfig{Enabled: true, JWTSecret: secret},
	}
	uploader := storage.NewUploader(storage.NewLocalStorage(cfg.Storage.UploadPath), cfg.Storage.PublicPath, 0)
	images := storage.NewImageStore(storage.NewLocalStorage(dir+"/images"), 0)

	ts := &testServer{t: t}
	policy := auth.NewRolePolicy(reg)
	env := &engine.Env{
		Store:       s,
		Registry:    reg,
		Transformer: engine.NewTransformer(uploader, images, logging.Nop()),
		Authorizer:  policy,
		Hasher:      auth.HashPassword,
		Events: events.SinkFunc(func(_ context.Context, e events.Event) {
			ts.events = append(ts.events, e)
		}),
		Logger:     logging.Nop(),
		Pagination: cfg.Pagination,
		PreQuery:   []engine.QueryModifier{policy.ReadFilter()},
	}

	ts.app = New(Options{
		Config:   cfg,
		Resolver: engine.NewResolver(env),
		Uploader: uploader,
		Images:   images,
		Logger:   logging.Nop(),
	})
	ts.admin = ts.token("1", "admin")
	ts.editor = ts.token("2", "editor")
	return ts
}

func (ts *testServer) token(sub, role string) string {
	tok, err := auth.IssueToken(&metadata.UserContext{ID: sub, Roles: []string{role}}, secret, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(req *http.Request, token string) (int, []byte) {
	ts.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp.StatusCode, body
}

func (ts *testServer) json(method, path, token string, payload any) (int, map[string]any) {
	ts.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(ts.t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	status, raw := ts.do(req, token)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(ts.t, json.Unmarshal(raw, &out))
	}
	return status, out
}

func (ts *testServer) createArticle(values map[string]any) string {
	ts.t.Helper()
	status, item := ts.json("POST", "/api/admin/entity/articles", ts.admin, values)
	require.Equal(ts.t, 201, status, item)
	return fmt.Sprint(item["id"])
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

type part struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, method, path string, values map[string]string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.json("GET", "/health", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])
}

func TestRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.json("GET", "/api/admin/entity/articles", "", nil)
	assert.Equal(t, 401, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestIndexSortsAndPaginates(t *testing.T) {
	ts := newTestServer(t)
	for _, title := range []string{"Alpha", "Bravo", "Charlie"} {
		ts.createArticle(map[string]any{"title": title})
	}

	status, body := ts.json("GET", "/api/admin/entity/articles?sort[title]=desc&limit=2", ts.editor, nil)
	require.Equal(t, 200, status, body)

	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["current_page"])
	assert.Equal(t, float64(2), pagination["per_page"])
	assert.Equal(t, float64(2), pagination["last_page"])
	assert.Equal(t, float64(3), pagination["total"])

	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Charlie", items[0].(map[string]any)["title"])
	assert.Equal(t, "Bravo", items[1].(map[string]any)["title"])
	assert.Contains(t, items[0].(map[string]any), "author")
}

func TestCreateValidationFailure(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.json("POST", "/api/admin/entity/articles", ts.editor, map[string]any{"views": -1})
	assert.Equal(t, 422, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	details := body["error"].(map[string]any)["details"].([]any)
	assert.Len(t, details, 2)
}

func TestCreateMultipartWithImage(t *testing.T) {
	ts := newTestServer(t)
	req := multipartRequest(t, "POST", "/api/admin/entity/articles",
		map[string]string{
			"title":       "overridden",
			jsonDataField: `{"title": "Sunset", "views": 12, "published": true}`,
		},
		part{field: "files__cover", name: "sunset.png", data: pngHeader},
	)
	status, raw := ts.do(req, ts.admin)
	require.Equal(t, 201, status, string(raw))

	var item map[string]any
	require.NoError(t, json.Unmarshal(raw, &item))
	assert.Equal(t, "Sunset", item["title"])
	assert.Equal(t, float64(12), item["views"])
	assert.Equal(t, true, item["published"])
	cover, _ := item["cover"].(string)
	require.True(t, strings.HasSuffix(cover, ".png"), cover)

	status, data := ts.do(httptest.NewRequest("GET", "/api/admin/images/"+cover, nil), ts.editor)
	assert.Equal(t, 200, status)
	assert.Equal(t, pngHeader, data)

	require.NotEmpty(t, ts.events)
	assert.Equal(t, events.Created, ts.events[0].Kind)
	assert.Equal(t, "1", ts.events[0].ActorID)
}

func TestCreateMultipartRejectsNonImage(t *testing.T) {
	ts := newTestServer(t)
	req := multipartRequest(t, "POST", "/api/admin/entity/articles",
		map[string]string{"title": "Broken"},
		part{field: "files__cover", name: "notes.png", data: []byte("plain text")},
	)
	status, raw := ts.do(req, ts.admin)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(raw), "BAD_UPLOAD")
}

func TestItemAndUpdate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createArticle(map[string]any{"title": "Draft", "views": 1})

	status, item := ts.json("GET", "/api/admin/entity/articles/"+id, ts.editor, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "Draft", item["title"])

	status, item = ts.json("PUT", "/api/admin/entity/articles/"+id, ts.editor, map[string]any{"title": "Final", "views": 2})
	require.Equal(t, 200, status, item)
	assert.Equal(t, "Final", item["title"])

	last := ts.events[len(ts.events)-1]
	assert.Equal(t, events.Updated, last.Kind)
	assert.Equal(t, "2", last.ActorID)

	status, body := ts.json("GET", "/api/admin/entity/articles/999", ts.editor, nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestFastUpdate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createArticle(map[string]any{"title": "Quick"})

	status, item := ts.json("POST", "/api/admin/entity/articles/"+id+"/fast", ts.editor,
		map[string]any{"__field": "published", "published": true})
	require.Equal(t, 200, status, item)
	assert.Equal(t, true, item["published"])
	assert.Equal(t, "Quick", item["title"])

	status, body := ts.json("POST", "/api/admin/entity/articles/"+id+"/fast", ts.editor,
		map[string]any{"__field": "cover", "cover": "x"})
	assert.Equal(t, 400, status)
	assert.Equal(t, "INVALID_PAYLOAD", errorCode(body))
}

func TestDestroyForbiddenForEditor(t *testing.T) {
	ts := newTestServer(t)
	status, user := ts.json("POST", "/api/admin/entity/users", ts.admin, map[string]any{"email": "ann@example.com", "password": "s3cret"})
	require.Equal(t, 201, status, user)
	assert.NotContains(t, user, "password")
	id := fmt.Sprint(user["id"])

	status, body := ts.json("DELETE", "/api/admin/entity/users/"+id, ts.editor, nil)
	assert.Equal(t, 403, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = ts.json("DELETE", "/api/admin/entity/users/"+id, ts.admin, nil)
	assert.Equal(t, 204, status)
}

func TestBulkDestroy(t *testing.T) {
	ts := newTestServer(t)
	a := ts.createArticle(map[string]any{"title": "A"})
	b := ts.createArticle(map[string]any{"title": "B"})

	status, body := ts.json("DELETE", "/api/admin/entity/articles", ts.admin, map[string]any{"keys": []any{a, b, "999"}})
	require.Equal(t, 200, status, body)
	assert.Equal(t, []any{float64(1), float64(2)}, body["destroyed"])

	status, body = ts.json("GET", "/api/admin/entity/articles", ts.admin, nil)
	require.Equal(t, 200, status)
	assert.Empty(t, body["items"])
}

func TestUnknownEntityAndAction(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.json("GET", "/api/admin/entity/ghosts", ts.admin, nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "UNKNOWN_ENTITY", errorCode(body))

	status, body = ts.json("POST", "/api/admin/entity/articles/action/archive-all", ts.admin, map[string]any{"keys": []any{1}})
	assert.Equal(t, 404, status)
	assert.Equal(t, "METHOD_NOT_SUPPORTED", errorCode(body))

	status, body = ts.json("GET", "/api/admin/nowhere", ts.admin, nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestMeta(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.json("GET", "/api/admin/meta", ts.editor, nil)
	require.Equal(t, 200, status)

	entities := body["entities"].(map[string]any)
	assert.Len(t, entities, 3)

	articles := entities["articles"].(map[string]any)
	perms := articles["permissions"].(map[string]any)
	assert.Equal(t, true, perms["index"])
	assert.Equal(t, true, perms["create"])
	assert.Equal(t, false, perms["destroy"])
	assert.NotEmpty(t, articles["index_fields"])

	users := entities["users"].(map[string]any)
	assert.Equal(t, false, users["permissions"].(map[string]any)["create"])
}

func TestUploadFiles(t *testing.T) {
	ts := newTestServer(t)
	req := multipartRequest(t, "POST", "/api/admin/upload/files", nil,
		part{field: "a", name: "one.txt", data: []byte("first")},
		part{field: "b", name: "two.pdf", data: []byte("%PDF-1.4")},
	)
	status, raw := ts.do(req, ts.editor)
	require.Equal(t, 200, status, string(raw))

	var urls []string
	require.NoError(t, json.Unmarshal(raw, &urls))
	require.Len(t, urls, 2)
	assert.True(t, strings.HasPrefix(urls[0], "/storage/uploads/"))
	assert.True(t, strings.HasSuffix(urls[0], ".txt"))
	assert.True(t, strings.HasSuffix(urls[1], ".pdf"))

	status, data := ts.do(httptest.NewRequest("GET", urls[0], nil), "")
	assert.Equal(t, 200, status)
	assert.Equal(t, "first", string(data))
}

func TestUploadImages(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/admin/upload/images", "/api/admin/gallery"} {
		req := multipartRequest(t, "POST", path, nil, part{field: "images[]", name: "a.png", data: pngHeader})
		status, raw := ts.do(req, ts.editor)
		require.Equal(t, 200, status, string(raw))
		var keys []string
		require.NoError(t, json.Unmarshal(raw, &keys))
		require.Len(t, keys, 1)
		assert.True(t, strings.HasSuffix(keys[0], ".png"))
	}

	req := multipartRequest(t, "POST", "/api/admin/upload/images", nil, part{field: "x", name: "a.png", data: []byte("nope")})
	status, raw := ts.do(req, ts.editor)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(raw), "BAD_UPLOAD")

	status, _ = ts.do(httptest.NewRequest("POST", "/api/admin/upload/images", strings.NewReader("{}")), ts.editor)
	assert.Equal(t, 400, status)
}
