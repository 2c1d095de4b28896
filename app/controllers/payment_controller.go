package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CoinFox/internal/pkg/metrics"
	"github.com/ManuelReschke/CoinFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
	"github.com/ManuelReschke/CoinFox/internal/pkg/paymongo"
)

// WebhookProcessor is the part of payment.Service the webhook route needs.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, in payment.InboundEvent) (*payment.Result, error)
}

// CheckoutCreator starts a hosted checkout with the payment processor.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, in paymongo.CheckoutRequest) (*paymongo.CheckoutSession, error)
}

// PaymentController serves the processor-facing routes.
type PaymentController struct {
	processor WebhookProcessor
	checkout  CheckoutCreator

	// RetryAfter is sent with 503 answers for events held by another delivery.
	RetryAfter time.Duration
	Timeout    time.Duration

	recordOutcome func(ctx context.Context, outcome string) error
	now           func() time.Time
}

func NewPaymentController(processor WebhookProcessor, checkout CheckoutCreator) *PaymentController {
	return &PaymentController{
		processor:     processor,
		checkout:      checkout,
		RetryAfter:    5 * time.Second,
		Timeout:       15 * time.Second,
		recordOutcome: counter.AddWebhookOutcome,
		now:           time.Now,
	}
}

// HandleWebhook verifies, normalizes and applies one processor delivery.
// Only this handler decides HTTP semantics; the service returns typed errors.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	started := pc.now()
	// fasthttp reuses the request buffer; the signature covers these exact bytes
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(payment.SignatureHeader)

	ctx, cancel := context.WithTimeout(c.UserContext(), pc.Timeout)
	defer cancel()

	res, err := pc.processor.HandleWebhook(ctx, payment.InboundEvent{
		RawBody:    rawBody,
		Signature:  signature,
		ReceivedAt: started,
	})
	status, body, outcome := webhookResponse(res, err)
	pc.observe(outcome, started)

	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(pc.RetryAfter.Seconds())))
	}
	return c.Status(status).JSON(body)
}

func webhookResponse(res *payment.Result, err error) (int, fiber.Map, string) {
	switch {
	case err == nil:
		body := fiber.Map{"ok": true, "outcome": string(res.Outcome), "eventId": res.EventID}
		if res.Outcome == payment.OutcomeCredited {
			body["userId"] = res.UserID
			body["coins"] = res.Coins
			body["balance"] = res.NewBalance
		}
		if res.Reason != "" {
			body["reason"] = res.Reason
		}
		return fiber.StatusOK, body, string(res.Outcome)
	case errors.Is(err, payment.ErrMisconfigured):
		log.Errorf("[Webhook] %v", err)
		return fiber.StatusInternalServerError, fiber.Map{"error": "webhook_misconfigured"}, "misconfigured"
	case payment.IsVerificationError(err):
		log.Warnf("[Webhook] rejected delivery: %v", err)
		return fiber.StatusUnauthorized, fiber.Map{"error": "invalid_signature"}, "rejected"
	case errors.Is(err, payment.ErrInvalidPayload):
		log.Warnf("[Webhook] bad payload: %v", err)
		return fiber.StatusBadRequest, fiber.Map{"error": "invalid_payload"}, "bad_payload"
	case errors.Is(err, payment.ErrEventInFlight):
		return fiber.StatusServiceUnavailable, fiber.Map{"error": "event_in_flight"}, "in_flight"
	case errors.Is(err, payment.ErrPartialWrite):
		log.Errorf("[Webhook] %v", err)
		return fiber.StatusInternalServerError, fiber.Map{"error": "ledger_write_failed"}, "partial_write"
	default:
		log.Errorf("[Webhook] processing failed: %v", err)
		return fiber.StatusInternalServerError, fiber.Map{"error": "processing_failed"}, "error"
	}
}

func (pc *PaymentController) observe(outcome string, started time.Time) {
	metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	metrics.WebhookDuration.Observe(pc.now().Sub(started).Seconds())
	if pc.recordOutcome == nil {
		return
	}
	// the daily tally is informational and must not delay the answer
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pc.recordOutcome(ctx, outcome); err != nil {
			log.Warnf("[Webhook] could not record outcome counter: %v", err)
		}
	}()
}

// HandleCheckout creates a PayMongo checkout session and hands back its URL.
func (pc *PaymentController) HandleCheckout(c *fiber.Ctx) error {
	var req paymongo.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "request body must be JSON"})
	}
	if err := req.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_request",
				"message": "invalid field " + verrs[0].Field(),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), pc.Timeout)
	defer cancel()

	session, err := pc.checkout.CreateCheckoutSession(ctx, req)
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"checkout_url": session.CheckoutURL})
	case errors.Is(err, paymongo.ErrNotConfigured):
		log.Errorf("[Checkout] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_not_configured"})
	case errors.Is(err, paymongo.ErrUpstream):
		log.Warnf("[Checkout] upstream failure for user %s: %v", req.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	default:
		log.Errorf("[Checkout] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}
}
