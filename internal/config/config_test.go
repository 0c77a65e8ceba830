package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9090
  api_prefix: api/v1/
database:
  driver: sqlite
  name: shop
  path: /tmp/db
pagination:
  default_per_page: 10
  max_per_page: 5
events:
  webhooks:
    - url: http://example.test/hook
      kinds: [created, updated]
      headers:
        X-Token: "{{env.HOOK_TOKEN}}"
`), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, filepath.Join("/tmp/db", "shop.db"), cfg.Database.DSN())
	assert.Equal(t, 10, cfg.Pagination.DefaultPerPage)
	assert.Equal(t, 10, cfg.Pagination.MaxPerPage, "max is never below the default")
	require.Len(t, cfg.Events.Webhooks, 1)
	assert.Equal(t, []string{"created", "updated"}, cfg.Events.Webhooks[0].Kinds)
	assert.Equal(t, "./data/uploads", cfg.Storage.UploadPath)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "app"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", d.DSN())
	assert.False(t, d.IsSQLite())
}
