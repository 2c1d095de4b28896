package router

import (
	"github.com/gofiber/fiber/v2"
)

type PublicRouter struct {
	deps Dependencies
}

func (h PublicRouter) InstallRouter(app *fiber.App) {
	mc := h.deps.Controllers.Main
	app.Get("/", mc.HandleIndex)
	app.Get("/health", mc.HandleHealth)
}

func NewPublicRouter(deps Dependencies) *PublicRouter {
	return &PublicRouter{deps: deps}
}
