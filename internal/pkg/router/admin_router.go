package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/CoinFox/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	requireAdmin := middleware.RequireAdmin(h.deps.Admin)
	bc := h.deps.Controllers.Balance

	// prometheus scrape + fiber monitor
	app.Get("/metrics", requireAdmin, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", requireAdmin, monitor.New(monitor.Config{Title: "CoinFox Monitor"}))

	adminGroup := app.Group("/admin", requireAdmin, middleware.RateLimit(120, time.Minute, h.deps.LimiterStorage))
	adminGroup.Get("/balances/:userId", bc.HandleGetBalance)
	adminGroup.Post("/balances/:userId/adjust", bc.HandleAdjustBalance)
	adminGroup.Get("/ledger/:userId", bc.HandleGetLedger)
	adminGroup.Get("/webhooks/stats", bc.HandleWebhookStats)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
