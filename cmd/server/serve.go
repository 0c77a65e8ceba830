package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"entity-api/internal/admin"
	"entity-api/internal/api"
	"entity-api/internal/auth"
	"entity-api/internal/engine"
	"entity-api/internal/events"
	"entity-api/internal/storage"
	"entity-api/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// stack is the engine wiring shared by serve and meta.
type stack struct {
	env      *engine.Env
	resolver *engine.Resolver
	uploader *storage.Uploader
	images   *storage.ImageStore
	table    *events.TableSink
	webhooks *events.WebhookSink
}

func newStack(rt *runtime) (*stack, error) {
	cfg := rt.cfg
	maxBytes := cfg.Storage.MaxFileSizeMB * 1024 * 1024
	uploader := storage.NewUploader(storage.NewLocalStorage(cfg.Storage.UploadPath), cfg.Storage.PublicPath, maxBytes)
	images := storage.NewImageStore(storage.NewLocalStorage(cfg.Storage.ImagePath), maxBytes)

	st := &stack{uploader: uploader, images: images}
	var sinks events.Multi
	if cfg.Events.Log {
		sinks = append(sinks, events.NewLogSink(rt.logger))
	}
	if cfg.Events.Store {
		st.table = events.NewTableSink(rt.store, rt.logger)
		sinks = append(sinks, st.table)
	}
	if len(cfg.Events.Webhooks) > 0 {
		wh, err := events.NewWebhookSink(cfg.Events.Webhooks, rt.logger)
		if err != nil {
			return nil, err
		}
		st.webhooks = wh
		sinks = append(sinks, wh)
	}

	policy := auth.NewRolePolicy(rt.registry)
	st.env = &engine.Env{
		Store:       rt.store,
		Registry:    rt.registry,
		Transformer: engine.NewTransformer(uploader, images, rt.logger),
		Authorizer:  policy,
		Hasher:      auth.HashPassword,
		Events:      sinks,
		Logger:      rt.logger,
		Pagination:  cfg.Pagination,
		PreQuery:    []engine.QueryModifier{policy.ReadFilter()},
	}
	st.resolver = engine.NewResolver(st.env)
	return st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := newStack(rt)
	if err != nil {
		return err
	}

	var eventLog admin.EventLog
	if st.table != nil {
		eventLog = st.table
	}
	adminHandler := admin.NewHandler(rt.registry, store.NewMigrator(rt.store), eventLog)

	app := api.New(api.Options{
		Config:    rt.cfg,
		Resolver:  st.resolver,
		Uploader:  st.uploader,
		Images:    st.images,
		Logger:    rt.logger,
		AccessLog: os.Stdout,
		Mount: func(r fiber.Router) {
			admin.RegisterAdminRoutes(r.Group("/_admin", auth.RequireAdmin()), adminHandler)
		},
	})

	addr := fmt.Sprintf(":%d", rt.cfg.Server.Port)
	errc := make(chan error, 1)
	go func() {
		rt.logger.Info("starting server", "addr", addr, "prefix", rt.cfg.Server.APIPrefix, "auth", rt.cfg.Auth.Enabled)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		rt.logger.Error("shutdown", "error", err)
	}
	if st.webhooks != nil {
		st.webhooks.Wait()
	}
	return nil
}
