package paymongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.paymongo.com/v1"

var (
	// ErrNotConfigured is returned when PAYMONGO_SECRET is missing.
	ErrNotConfigured = errors.New("PAYMONGO_SECRET is not configured")
	// ErrUpstream wraps non-2xx answers and transport failures.
	ErrUpstream = errors.New("paymongo request failed")
)

// DefaultPaymentMethods are offered when the caller does not pick one.
var DefaultPaymentMethods = []string{"gcash", "grab_pay"}

// CheckoutRequest is what a client sends to start a coin purchase. Amount
// is in centavos.
type CheckoutRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Coins         int64  `json:"coins" validate:"required,gt=0"`
	UserID        string `json:"userId" validate:"required,max=128"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,oneof=gcash grab_pay paymaya card"`
}

var requestValidator = validator.New()

func (r *CheckoutRequest) Validate() error {
	return requestValidator.Struct(r)
}

type Client struct {
	SecretKey   string
	APIBaseURL  string
	Description string

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		SecretKey:   strings.TrimSpace(env.GetEnv("PAYMONGO_SECRET", "")),
		APIBaseURL:  strings.TrimRight(strings.TrimSpace(env.GetEnv("PAYMONGO_API_BASE_URL", defaultAPIBaseURL)), "/"),
		Description: env.GetEnv("PAYMONGO_CHECKOUT_DESCRIPTION", "Buy %d Coins"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type lineItem struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type checkoutAttributes struct {
	Amount             int64             `json:"amount"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Description        string            `json:"description"`
	LineItems          []lineItem        `json:"line_items"`
	Metadata           map[string]string `json:"metadata"`
}

type checkoutEnvelope struct {
	Data struct {
		Attributes checkoutAttributes `json:"attributes"`
	} `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CheckoutURL string `json:"checkout_url"`
		} `json:"attributes"`
	} `json:"data"`
}

// CheckoutSession is the part of PayMongo's answer the caller needs.
type CheckoutSession struct {
	ID          string
	CheckoutURL string
}

// CreateCheckoutSession opens a hosted checkout. userId and coins travel in
// metadata and come back in the paid webhook.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutRequest) (*CheckoutSession, error) {
	if c.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "PHP"
	}
	methods := DefaultPaymentMethods
	if in.PaymentMethod != "" {
		methods = []string{in.PaymentMethod}
	}

	var payload checkoutEnvelope
	payload.Data.Attributes = checkoutAttributes{
		Amount:             in.Amount,
		PaymentMethodTypes: methods,
		Description:        c.description(in.Coins),
		LineItems: []lineItem{{
			Amount:   in.Amount,
			Currency: currency,
			Name:     "Coins Purchase",
			Quantity: 1,
		}},
		Metadata: map[string]string{
			"userId": in.UserID,
			"coins":  fmt.Sprintf("%d", in.Coins),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/checkout_sessions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, string(body))
	}

	var out checkoutResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if out.Data.Attributes.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: response has no checkout_url", ErrUpstream)
	}
	return &CheckoutSession{ID: out.Data.ID, CheckoutURL: out.Data.Attributes.CheckoutURL}, nil
}

func (c *Client) description(coins int64) string {
	if strings.Contains(c.Description, "%d") {
		return fmt.Sprintf(c.Description, coins)
	}
	if c.Description != "" {
		return c.Description
	}
	return fmt.Sprintf("Buy %d Coins", coins)
}
