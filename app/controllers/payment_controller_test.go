package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
	"github.com/ManuelReschke/CoinFox/internal/pkg/paymongo"
)

const testSecret = "whsk_test"

// fakeProcessor verifies signatures for real and credits each event once.
type fakeProcessor struct {
	mu       sync.Mutex
	seen     map[string]bool
	balance  int64
	err      error
	lastBody []byte
}

func (f *fakeProcessor) HandleWebhook(ctx context.Context, in payment.InboundEvent) (*payment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBody = in.RawBody
	if f.err != nil {
		return nil, f.err
	}
	if err := payment.VerifyWebhookSignature(in.RawBody, in.Signature, testSecret, 0, in.ReceivedAt); err != nil {
		return nil, err
	}
	ev, err := payment.NormalizePayload(in.RawBody, in.ReceivedAt)
	if err != nil {
		return nil, err
	}
	if !ev.Creditable() {
		return &payment.Result{Outcome: payment.OutcomeIgnored, EventID: ev.EventID, Reason: ev.IgnoreReason()}, nil
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[ev.EventID] {
		return &payment.Result{Outcome: payment.OutcomeDuplicate, EventID: ev.EventID}, nil
	}
	f.seen[ev.EventID] = true
	f.balance += ev.CoinAmount
	return &payment.Result{Outcome: payment.OutcomeCredited, EventID: ev.EventID, UserID: ev.UserID, Coins: ev.CoinAmount, NewBalance: f.balance}, nil
}

type fakeCheckout struct {
	req paymongo.CheckoutRequest
	err error
}

func (f *fakeCheckout) CreateCheckoutSession(ctx context.Context, in paymongo.CheckoutRequest) (*paymongo.CheckoutSession, error) {
	f.req = in
	if f.err != nil {
		return nil, f.err
	}
	return &paymongo.CheckoutSession{ID: "cs_1", CheckoutURL: "https://checkout.paymongo.com/cs_1"}, nil
}

func newPaymentApp(proc WebhookProcessor, co CheckoutCreator) (*fiber.App, *PaymentController) {
	pc := NewPaymentController(proc, co)
	pc.recordOutcome = nil
	app := fiber.New()
	app.Post("/webhook", pc.HandleWebhook)
	app.Post("/paymongo/webhook", pc.HandleWebhook)
	app.Post("/checkout", pc.HandleCheckout)
	return app, pc
}

func paidBody(eventID, userID string, coins int) string {
	return fmt.Sprintf(`{"data":{"id":%q,"attributes":{"type":"payment.paid","data":{"id":"pay_1","attributes":{"amount":10000,"currency":"PHP","status":"paid","metadata":{"userId":%q,"coins":"%d"}}}}}}`, eventID, userID, coins)
}

func postWebhook(t *testing.T, app *fiber.App, path, body, signature string) (int, map[string]any, http.Header) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(payment.SignatureHeader, signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out, resp.Header
}

func TestHandleWebhook_DoubleDeliveryCreditsOnce(t *testing.T) {
	proc := &fakeProcessor{}
	app, _ := newPaymentApp(proc, nil)
	body := paidBody("evt_1", "user_a", 100)
	sig := payment.SignWebhookPayload([]byte(body), testSecret, time.Now())

	status, out, _ := postWebhook(t, app, "/webhook", body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "credited", out["outcome"])
	assert.EqualValues(t, 100, out["balance"])

	status, out, _ = postWebhook(t, app, "/paymongo/webhook", body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "duplicate", out["outcome"])
	assert.EqualValues(t, 100, proc.balance)
}

func TestHandleWebhook_PassesRawBodyUnchanged(t *testing.T) {
	proc := &fakeProcessor{}
	app, _ := newPaymentApp(proc, nil)
	body := "{ \"data\" :  {\"id\":\"evt_ws\"} }\n"
	postWebhook(t, app, "/webhook", body, "t=1,te=00")
	assert.Equal(t, body, string(proc.lastBody))
}

func TestHandleWebhook_BadSignatureIs401(t *testing.T) {
	proc := &fakeProcessor{}
	app, _ := newPaymentApp(proc, nil)
	body := paidBody("evt_2", "user_a", 50)

	for _, sig := range []string{"", "bad=value", "t=123,te=deadbeef"} {
		status, out, _ := postWebhook(t, app, "/webhook", body, sig)
		assert.Equal(t, fiber.StatusUnauthorized, status, "signature %q", sig)
		assert.Equal(t, "invalid_signature", out["error"])
	}
	assert.Zero(t, proc.balance)
}

func TestHandleWebhook_PendingPaymentIsIgnored(t *testing.T) {
	proc := &fakeProcessor{}
	app, _ := newPaymentApp(proc, nil)
	body := `{"data":{"id":"evt_3","attributes":{"type":"payment.paid","data":{"attributes":{"amount":100,"status":"pending","metadata":{"userId":"u","coins":"5"}}}}}}`
	sig := payment.SignWebhookPayload([]byte(body), testSecret, time.Now())

	status, out, _ := postWebhook(t, app, "/webhook", body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ignored", out["outcome"])
	assert.Zero(t, proc.balance)
}

func TestHandleWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"misconfigured", payment.ErrMisconfigured, fiber.StatusInternalServerError, "webhook_misconfigured"},
		{"expired", fmt.Errorf("verify: %w", payment.ErrSignatureExpired), fiber.StatusUnauthorized, "invalid_signature"},
		{"invalid payload", fmt.Errorf("parse: %w", payment.ErrInvalidPayload), fiber.StatusBadRequest, "invalid_payload"},
		{"in flight", payment.ErrEventInFlight, fiber.StatusServiceUnavailable, "event_in_flight"},
		{"store", fmt.Errorf("reserve: %w: %w", payment.ErrStoreUnavailable, errors.New("conn reset")), fiber.StatusInternalServerError, "processing_failed"},
		{"partial", &payment.PartialWriteError{UserID: "u", EventRef: "e", NewBalance: 10, Err: errors.New("x")}, fiber.StatusInternalServerError, "ledger_write_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, pc := newPaymentApp(&fakeProcessor{err: tt.err}, nil)
			pc.RetryAfter = 7 * time.Second

			status, out, header := postWebhook(t, app, "/webhook", "{}", "t=1,te=aa")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, out["error"])
			if tt.status == fiber.StatusServiceUnavailable {
				assert.Equal(t, "7", header.Get("Retry-After"))
			}
		})
	}
}

func TestHandleWebhook_RecordsOutcome(t *testing.T) {
	proc := &fakeProcessor{}
	app, pc := newPaymentApp(proc, nil)
	recorded := make(chan string, 1)
	pc.recordOutcome = func(ctx context.Context, outcome string) error {
		recorded <- outcome
		return nil
	}

	body := paidBody("evt_4", "user_b", 10)
	postWebhook(t, app, "/webhook", body, payment.SignWebhookPayload([]byte(body), testSecret, time.Now()))

	select {
	case got := <-recorded:
		assert.Equal(t, "credited", got)
	case <-time.After(2 * time.Second):
		t.Fatal("outcome was not recorded")
	}
}

func TestHandleCheckout(t *testing.T) {
	co := &fakeCheckout{}
	app, _ := newPaymentApp(nil, co)

	status, out, _ := postWebhook(t, app, "/checkout", `{"amount":10000,"coins":100,"userId":"user_a"}`, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "https://checkout.paymongo.com/cs_1", out["checkout_url"])
	assert.Equal(t, "user_a", co.req.UserID)
	assert.EqualValues(t, 100, co.req.Coins)
}

func TestHandleCheckout_Errors(t *testing.T) {
	valid := `{"amount":10000,"coins":100,"userId":"user_a"}`
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"not json", "amount=1", nil, fiber.StatusBadRequest},
		{"missing user", `{"amount":100,"coins":1}`, nil, fiber.StatusBadRequest},
		{"zero coins", `{"amount":100,"coins":0,"userId":"u"}`, nil, fiber.StatusBadRequest},
		{"not configured", valid, paymongo.ErrNotConfigured, fiber.StatusInternalServerError},
		{"upstream", valid, fmt.Errorf("%w: status 500", paymongo.ErrUpstream), fiber.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newPaymentApp(nil, &fakeCheckout{err: tt.err})
			status, _, _ := postWebhook(t, app, "/checkout", tt.body, "")
			assert.Equal(t, tt.status, status)
		})
	}
}
