package api

import (
	"github.com/gofiber/fiber/v2"

	"entity-api/internal/auth"
	"entity-api/internal/config"
	"entity-api/internal/engine"
)

// Register mounts the generic entity routes and the discovery endpoint.
// The action routes come before /:id/fast so that "action" is never read as a key.
func Register(r fiber.Router, ec *entityController) {
	r.Get("/meta", ec.meta)

	r.Get("/entity/:name", ec.index)
	r.Post("/entity/:name", ec.create)
	r.Delete("/entity/:name", ec.bulkDestroy)
	r.Post("/entity/:name/action/:action", ec.bulkAction)
	r.Post("/entity/:name/:id/action/:action", ec.itemAction)
	r.Post("/entity/:name/:id/fast", ec.fastUpdate)
	r.Get("/entity/:name/:id", ec.item)
	r.Post("/entity/:name/:id", ec.update)
	r.Put("/entity/:name/:id", ec.update)
	r.Delete("/entity/:name/:id", ec.destroy)
}

type entityController struct {
	resolver *engine.Resolver
	paging   config.PaginationConfig
}

func (ec *entityController) handler(c *fiber.Ctx) (engine.EntityHandler, error) {
	return ec.resolver.ResolveHandler(c.Params("name"), auth.GetUser(c))
}

func (ec *entityController) meta(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"entities": ec.resolver.ListMeta(c.UserContext(), auth.GetUser(c))})
}

func (ec *entityController) index(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	p := engine.ParseParams(string(c.Request().URI().QueryString()), ec.paging)
	page, err := h.Index(c.UserContext(), p)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (ec *entityController) item(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	item, err := h.Item(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(item)
}

func (ec *entityController) create(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	item, err := h.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (ec *entityController) update(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	item, err := h.Update(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(item)
}

func (ec *entityController) fastUpdate(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	item, err := h.FastUpdate(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(item)
}

func (ec *entityController) destroy(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	if err := h.Destroy(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// bulkDestroy reads keys from the body, or from keys[] query parameters.
func (ec *entityController) bulkDestroy(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	keys := in.List("keys")
	if len(keys) == 0 {
		for _, k := range c.Context().QueryArgs().PeekMulti("keys[]") {
			keys = append(keys, string(k))
		}
	}
	destroyed, err := h.BulkDestroy(c.UserContext(), keys)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"destroyed": destroyed})
}

func (ec *entityController) itemAction(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	res, err := h.Action(c.UserContext(), c.Params("id"), c.Params("action"), in)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (ec *entityController) bulkAction(c *fiber.Ctx) error {
	h, err := ec.handler(c)
	if err != nil {
		return err
	}
	in, err := parseInput(c)
	if err != nil {
		return err
	}
	res, err := h.BulkAction(c.UserContext(), c.Params("action"), in)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
