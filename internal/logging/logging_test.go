package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := FromConfig(config.LogConfig{Level: "debug", Format: "json"})
	cfg.Output = &buf

	New(cfg).Debug("entity created", "entity", "articles", "key", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "entity created", line["msg"])
	assert.Equal(t, "articles", line["entity"])
	assert.Equal(t, float64(7), line["key"])
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: slog.LevelWarn, Output: &buf}).Info("hidden")
	assert.Empty(t, buf.String())
}
