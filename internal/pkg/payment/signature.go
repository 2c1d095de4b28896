package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header PayMongo signs deliveries with.
const SignatureHeader = "Paymongo-Signature"

// DefaultMaxClockSkew is used when no tolerance is configured.
const DefaultMaxClockSkew = 5 * time.Minute

// signatureKeys are the header components that may carry a signature:
// te (test mode), li (live mode) and v1 (generic).
var signatureKeys = map[string]struct{}{
	"te": {},
	"li": {},
	"v1": {},
}

type signatureParts struct {
	Timestamp  string
	Signatures []string
}

func parseSignatureHeader(header string) (signatureParts, error) {
	var parts signatureParts
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if key == "t" {
			parts.Timestamp = value
			continue
		}
		if _, isSig := signatureKeys[key]; isSig {
			parts.Signatures = append(parts.Signatures, value)
		}
	}
	if parts.Timestamp == "" || len(parts.Signatures) == 0 {
		return parts, ErrMalformedSignature
	}
	return parts, nil
}

// VerifyWebhookSignature checks that payload was signed with webhookSecret and
// that the signed timestamp lies within maxClockSkew of now. A zero
// maxClockSkew disables the freshness check.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string, maxClockSkew time.Duration, now time.Time) error {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return ErrMisconfigured
	}
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return ErrMissingSignature
	}

	parts, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	unix, err := strconv.ParseInt(parts.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrMalformedSignature, parts.Timestamp)
	}

	expected := computeSignature(secret, parts.Timestamp, payload)
	matched := false
	for _, sig := range parts.Signatures {
		decoded, decodeErr := hex.DecodeString(strings.ToLower(sig))
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrSignatureMismatch
	}

	if maxClockSkew > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxClockSkew {
			return ErrSignatureExpired
		}
	}
	return nil
}

// SignWebhookPayload produces a header value in PayMongo's format, signed in
// test mode.
func SignWebhookPayload(payload []byte, webhookSecret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := hex.EncodeToString(computeSignature(strings.TrimSpace(webhookSecret), ts, payload))
	return "t=" + ts + ",te=" + sig + ",li="
}

func computeSignature(secret, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
