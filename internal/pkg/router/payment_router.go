package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
	"github.com/ManuelReschke/CoinFox/internal/pkg/middleware"
)

type PaymentRouter struct {
	deps Dependencies
}

func (h PaymentRouter) InstallRouter(app *fiber.App) {
	pc := h.deps.Controllers.Payment

	// Processor callbacks are signature-verified in the controller and are
	// not rate limited; PayMongo retries on any non-2xx.
	app.Post("/webhook", pc.HandleWebhook)
	app.Post("/paymongo/webhook", pc.HandleWebhook)

	// Browser-facing checkout
	corsHandler := cors.New(cors.Config{
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "*"),
		AllowMethods: "POST,OPTIONS",
	})
	limit := middleware.RateLimit(env.GetEnvInt("CHECKOUT_RATE_LIMIT", 20), time.Minute, h.deps.LimiterStorage)
	for _, path := range []string{"/paymongo", "/checkout"} {
		app.Options(path, corsHandler)
		app.Post(path, corsHandler, limit, pc.HandleCheckout)
	}
}

func NewPaymentRouter(deps Dependencies) *PaymentRouter {
	return &PaymentRouter{deps: deps}
}
