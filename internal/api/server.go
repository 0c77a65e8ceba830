package api

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"

	"entity-api/internal/auth"
	"entity-api/internal/config"
	"entity-api/internal/engine"
)

// Options wires the transport to the engine and the upload capabilities.
type Options struct {
	Config   *config.Config
	Resolver *engine.Resolver
	Uploader engine.Uploader
	Images   ImageStore
	Logger   *slog.Logger
	// AccessLog receives one line per request; nil disables access logging.
	AccessLog io.Writer
	// Mount registers extra routes on the authenticated API group.
	Mount func(r fiber.Router)
}

// New builds the Fiber app: health check, static uploads and the entity API
// under the configured prefix.
func New(opts Options) *fiber.App {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(log),
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
			Output: opts.AccessLog,
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Storage.PublicPath != "" && cfg.Storage.UploadPath != "" {
		app.Static(cfg.Storage.PublicPath, cfg.Storage.UploadPath)
	}

	api := app.Group(cfg.Server.APIPrefix, auth.Middleware(cfg.Auth))
	Register(api, &entityController{resolver: opts.Resolver, paging: cfg.Pagination})
	RegisterUploads(api, &uploadController{uploader: opts.Uploader, images: opts.Images})
	if opts.Mount != nil {
		opts.Mount(api)
	}
	return app
}

// ErrorHandler renders every error as {"error": {...}}. Application errors keep
// their code and status; anything unexpected is logged and hidden.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *engine.AppError
		if errors.As(err, &appErr) {
			if appErr.Status >= fiber.StatusInternalServerError {
				log.Error("request failed", "method", c.Method(), "path", c.Path(), "code", appErr.Code, "error", appErr.Message)
			}
			return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(engine.ErrorResponse{
				Error: &engine.AppError{Code: statusCode(fiberErr.Code), Message: fiberErr.Message},
			})
		}

		log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(engine.ErrorResponse{
			Error: &engine.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}

// statusCode turns an HTTP status into an error code: 404 -> NOT_FOUND.
func statusCode(status int) string {
	msg := utils.StatusMessage(status)
	if msg == "" {
		return "HTTP_ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(msg, " ", "_"))
}
