package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"entity-api/internal/config"
	"entity-api/internal/logging"
	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

var configFile string

// rootCmd serves the API when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "entity-api",
	Short:         "Metadata-driven CRUD API over SQL entities",
	SilenceUsage:  true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./app.yaml or ./config/app.yaml)")
}

// runtime is what every subcommand needs: config, logger, database and schemas.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *metadata.Registry
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.FromConfig(cfg.Log))
	slog.SetDefault(logger)

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database ready", "driver", db.Dialect.Name())

	reg := metadata.NewRegistry()
	if _, err := metadata.LoadFile(cfg.Entities.Path, reg); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("entities loaded", "path", cfg.Entities.Path, "count", len(reg.AllEntities()))

	return &runtime{cfg: cfg, logger: logger, store: db, registry: reg}, nil
}

func (rt *runtime) Close() {
	rt.store.Close()
}
