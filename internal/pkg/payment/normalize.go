package payment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// payloadVariant selects the extraction rule for a payload shape.
type payloadVariant int

const (
	// variantFlat: payment fields live directly in data.attributes, in a root
	// attributes object, or in the root object itself.
	variantFlat payloadVariant = iota
	// variantPayment: a payment event wraps the payment resource one level
	// deeper in data.attributes.data.attributes.
	variantPayment
	// variantCheckoutSession: the wrapped resource is a checkout session whose
	// payments list carries amount and status.
	variantCheckoutSession
)

func variantFor(discriminator string) payloadVariant {
	switch strings.ToLower(strings.TrimSpace(discriminator)) {
	case "payment.paid", "payment.failed":
		return variantPayment
	case "checkout_session.payment.paid":
		return variantCheckoutSession
	default:
		return variantFlat
	}
}

// NormalizePayload parses a raw webhook body into a PaymentEvent. Bodies that
// are not a JSON object fail with ErrInvalidPayload; everything else yields an
// event, which may be non-creditable.
func NormalizePayload(raw []byte, receivedAt time.Time) (*PaymentEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidPayload)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidPayload)
	}
	return Normalize(obj, receivedAt), nil
}

// Normalize dispatches on the event discriminator and extracts the canonical
// fields. Unknown discriminators use the flat rule.
func Normalize(root map[string]any, receivedAt time.Time) *PaymentEvent {
	data := asMap(root["data"])
	eventAttrs := asMap(data["attributes"])

	discriminator := asString(eventAttrs["type"])
	if discriminator == "" {
		discriminator = asString(root["type"])
	}

	var (
		payAttrs map[string]any
		metadata map[string]any
		eventID  string
	)

	switch variantFor(discriminator) {
	case variantPayment:
		payAttrs = asMap(asMap(eventAttrs["data"])["attributes"])
		eventID = asString(data["id"])
	case variantCheckoutSession:
		sessionAttrs := asMap(asMap(eventAttrs["data"])["attributes"])
		metadata = asMap(sessionAttrs["metadata"])
		if payments := asSlice(sessionAttrs["payments"]); len(payments) > 0 {
			payAttrs = asMap(asMap(payments[0])["attributes"])
		}
		if payAttrs == nil {
			payAttrs = map[string]any{}
		}
		eventID = asString(data["id"])
	}

	if payAttrs == nil {
		payAttrs, eventID = flatAttributes(root, data, eventAttrs)
	}
	if metadata == nil {
		metadata = asMap(payAttrs["metadata"])
	}

	ev := &PaymentEvent{
		ProviderType: discriminator,
		UserID:       firstString(metadata, "userId", "user_id"),
		CoinAmount:   parseCoins(firstValue(metadata, "coins", "coinAmount", "coin_amount")),
		CashAmount:   parseMinorUnits(payAttrs["amount"]),
		Currency:     strings.ToUpper(asString(payAttrs["currency"])),
		RawStatus:    strings.ToLower(asString(payAttrs["status"])),
		Channel:      paymentChannel(payAttrs),
		ReceivedAt:   receivedAt,
	}
	ev.Status = StatusOther
	if ev.RawStatus == "paid" {
		ev.Status = StatusPaid
	}
	ev.EventType = eventTypeFor(discriminator, ev.RawStatus)

	processorTS := firstString(payAttrs, "paid_at", "created_at", "updated_at")
	if processorTS == "" {
		processorTS = firstString(eventAttrs, "created_at", "updated_at")
	}
	if unix, err := strconv.ParseInt(processorTS, 10, 64); err == nil && unix > 0 {
		ev.ProcessorTime = time.Unix(unix, 0).UTC()
	}

	ev.EventID = strings.TrimSpace(eventID)
	if ev.EventID == "" {
		ev.EventID = syntheticEventID(ev.UserID, ev.CoinAmount, ev.CashAmount, processorTS)
		ev.SyntheticID = true
	}
	return ev
}

func flatAttributes(root, data, eventAttrs map[string]any) (map[string]any, string) {
	if eventAttrs != nil {
		return eventAttrs, asString(data["id"])
	}
	if attrs := asMap(root["attributes"]); attrs != nil {
		return attrs, asString(root["id"])
	}
	return root, asString(root["id"])
}

func eventTypeFor(discriminator, rawStatus string) EventType {
	d := strings.ToLower(discriminator)
	switch {
	case strings.HasSuffix(d, "payment.paid"):
		return EventPaymentPaid
	case strings.HasSuffix(d, "payment.failed"):
		return EventPaymentFailed
	case d == "" && rawStatus == "paid":
		return EventPaymentPaid
	case d == "" && rawStatus == "failed":
		return EventPaymentFailed
	default:
		return EventOther
	}
}

// syntheticEventID derives a stable id for payloads without one. Retries of
// the same delivery hash identically.
func syntheticEventID(userID string, coins int64, cash decimal.Decimal, processorTS string) string {
	key := fmt.Sprintf("%s|%d|%s|%s", userID, coins, cash.StringFixed(2), processorTS)
	sum := sha256.Sum256([]byte(key))
	return "hash:" + hex.EncodeToString(sum[:])
}

func paymentChannel(payAttrs map[string]any) string {
	if src := asString(asMap(payAttrs["source"])["type"]); src != "" {
		return strings.ToLower(src)
	}
	return strings.ToLower(asString(payAttrs["payment_method_used"]))
}

// parseCoins accepts numbers and numeric strings. Fractions are truncated;
// anything unparsable or negative yields 0.
func parseCoins(v any) int64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return nonNegative(n)
		}
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return nonNegative(n)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0
	}
	return nonNegative(int64(f))
}

// parseMinorUnits converts an amount in centavos into a major-unit decimal.
func parseMinorUnits(v any) decimal.Decimal {
	raw := asString(v)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d.Shift(-2)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}
