package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CoinFox/app/controllers"
	"github.com/ManuelReschke/CoinFox/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries what the routers need from main.
type Dependencies struct {
	Controllers *controllers.Controllers
	Admin       middleware.AdminCredentials
	// LimiterStorage backs the rate limiters; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewPublicRouter(deps), NewPaymentRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
