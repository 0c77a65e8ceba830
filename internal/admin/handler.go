package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"entity-api/internal/engine"
	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

// EventLog reads back stored events.
type EventLog interface {
	Recent(ctx context.Context, entity string, limit int) ([]map[string]any, error)
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Handler exposes the loaded schema and the event log to administrators.
type Handler struct {
	registry *metadata.Registry
	migrator *store.Migrator
	events   EventLog
}

// NewHandler builds the admin handler. A nil event log disables /events.
func NewHandler(reg *metadata.Registry, mig *store.Migrator, events EventLog) *Handler {
	return &Handler{registry: reg, migrator: mig, events: events}
}

// RegisterAdminRoutes mounts the admin endpoints on r. Callers guard r with
// auth.RequireAdmin.
func RegisterAdminRoutes(r fiber.Router, h *Handler) {
	r.Get("/entities", h.ListEntities)
	r.Get("/entities/:name", h.GetEntity)
	r.Get("/entities/:name/events", h.ListEvents)
	r.Get("/relations", h.ListRelations)
	r.Post("/migrate", h.Migrate)
}

type linkInfo struct {
	Accessor string `json:"accessor"`
	Relation string `json:"relation"`
	Kind     string `json:"kind"`
	Related  string `json:"related"`
	OnDelete string `json:"on_delete,omitempty"`
}

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllEntities()})
}

// GetEntity returns the schema together with every relation it can reach.
func (h *Handler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return engine.NotFoundError("entity", name)
	}

	links := make([]linkInfo, 0)
	for _, l := range h.registry.Links(name) {
		links = append(links, linkInfo{
			Accessor: l.Accessor,
			Relation: l.Name,
			Kind:     linkKind(l),
			Related:  l.Related(),
			OnDelete: l.OnDelete,
		})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"entity": entity, "links": links}})
}

func (h *Handler) ListRelations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllRelations()})
}

// ListEvents returns the newest stored events of one entity; ?limit caps the count.
func (h *Handler) ListEvents(c *fiber.Ctx) error {
	if h.events == nil {
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Event storage is disabled")
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return engine.InvalidPayloadError("limit must be a number")
		}
		limit = min(max(n, 1), maxEventLimit)
	}

	rows, err := h.events.Recent(c.UserContext(), c.Params("name"), limit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// Migrate creates or alters the tables of every loaded schema.
func (h *Handler) Migrate(c *fiber.Ctx) error {
	if err := h.migrator.MigrateAll(c.UserContext(), h.registry); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"entities": len(h.registry.AllEntities())}})
}

func linkKind(l *metadata.Link) string {
	switch {
	case l.IsManyToMany():
		return "many_to_many"
	case l.BelongsTo():
		return "belongs_to"
	case l.HasOne():
		return "has_one"
	default:
		return "has_many"
	}
}
