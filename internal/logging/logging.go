// Package logging builds the structured loggers shared by every component.
//
// Components take a *slog.Logger in their constructor. Tests and callers that
// do not care about output use Nop.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"entity-api/internal/config"
)

// Format represents the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     slog.Level
	Format    Format
	Output    io.Writer // defaults to os.Stderr
	AddSource bool
}

// FromConfig maps the application log section onto a logging Config.
func FromConfig(c config.LogConfig) Config {
	return Config{
		Level:     ParseLevel(c.Level),
		Format:    ParseFormat(c.Format),
		Output:    os.Stderr,
		AddSource: c.AddSource,
	}
}

// New creates a new slog.Logger with the given configuration.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel returns slog.LevelInfo for anything it does not recognize.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat returns FormatText for anything but "json".
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}
