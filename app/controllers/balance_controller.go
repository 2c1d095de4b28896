package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CoinFox/app/models"
	"github.com/ManuelReschke/CoinFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
)

// BalanceService is the read and adjustment surface of payment.Service.
type BalanceService interface {
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	Adjust(ctx context.Context, userID string, delta int64, reason string) (*payment.CreditResult, error)
	EventStats(ctx context.Context) (map[models.ProcessedEventStatus]int64, error)
}

// BalanceController serves the admin balance routes.
type BalanceController struct {
	svc BalanceService

	recentOutcomes func(ctx context.Context, days int) ([]counter.DailyOutcomes, error)
}

func NewBalanceController(svc BalanceService) *BalanceController {
	return &BalanceController{
		svc:            svc,
		recentOutcomes: counter.RecentWebhookOutcomes,
	}
}

type adjustRequest struct {
	Coins  int64  `json:"coins"`
	Reason string `json:"reason"`
}

func (bc *BalanceController) HandleGetBalance(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "userId missing"})
	}

	coins, err := bc.svc.Balance(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[Admin] balance lookup for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "balance_unavailable"})
	}
	return c.JSON(fiber.Map{"userId": userID, "coins": coins})
}

func (bc *BalanceController) HandleGetLedger(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "userId missing"})
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := bc.svc.History(c.UserContext(), userID, limit)
	if err != nil {
		log.Errorf("[Admin] ledger lookup for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ledger_unavailable"})
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return c.JSON(fiber.Map{"userId": userID, "entries": entries})
}

// HandleAdjustBalance books a manual correction. Negative adjustments may
// not take the balance below zero.
func (bc *BalanceController) HandleAdjustBalance(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "request body must be JSON"})
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if userID == "" || req.Coins == 0 || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "coins must be non-zero and reason is required"})
	}

	res, err := bc.svc.Adjust(c.UserContext(), userID, req.Coins, req.Reason)
	if err != nil {
		if errors.Is(err, payment.ErrInsufficientCoins) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient_coins"})
		}
		if errors.Is(err, payment.ErrPartialWrite) {
			log.Errorf("[Admin] %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ledger_write_failed"})
		}
		log.Errorf("[Admin] adjustment for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "adjustment_failed"})
	}

	log.Infof("[Admin] adjusted %s by %d (%s), balance %d", userID, req.Coins, req.Reason, res.NewBalance)
	return c.JSON(fiber.Map{"userId": userID, "coins": res.NewBalance, "entry": res.Entry})
}

// HandleWebhookStats reports the daily outcome tallies and the
// processed-event marker counts.
func (bc *BalanceController) HandleWebhookStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	days := c.QueryInt("days", 1)
	outcomes, err := bc.recentOutcomes(ctx, days)
	if err != nil {
		log.Warnf("[Admin] outcome counters unavailable: %v", err)
		outcomes = []counter.DailyOutcomes{}
	}

	markers, err := bc.svc.EventStats(ctx)
	if err != nil {
		log.Errorf("[Admin] event stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	byStatus := make(fiber.Map, len(markers))
	for status, n := range markers {
		byStatus[string(status)] = n
	}

	return c.JSON(fiber.Map{"days": outcomes, "processedEvents": byStatus})
}
