package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type MainController struct {
	checks map[string]HealthCheck
	now    func() time.Time
}

func NewMainController(checks map[string]HealthCheck) *MainController {
	return &MainController{checks: checks, now: time.Now}
}

func (mc *MainController) HandleIndex(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "CoinFox payment service is running"})
}

// HandleHealth always answers 200 so load balancers keep routing webhooks;
// a failing dependency turns the status into "degraded".
func (mc *MainController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "OK"
	message := "all systems operational"
	deps := fiber.Map{}
	for name, check := range mc.checks {
		if err := check(ctx); err != nil {
			log.Warnf("[Health] %s check failed: %v", name, err)
			deps[name] = "down"
			status = "degraded"
			message = "one or more dependencies are unavailable"
			continue
		}
		deps[name] = "up"
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":       status,
		"timestamp":    mc.now().UTC().Format(time.RFC3339),
		"message":      message,
		"dependencies": deps,
	})
}
