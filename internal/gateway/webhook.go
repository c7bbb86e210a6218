package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

var ErrBadSignature = errors.New("invalid webhook signature")

// WebhookEvent is the processor's notification about a charge.
type WebhookEvent struct {
	ProviderRef   string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ParseWebhook verifies and decodes a webhook body
func ParseWebhook(secret string, body []byte, signature string) (*WebhookEvent, error) {
	if !VerifySignature(secret, body, signature) {
		return nil, ErrBadSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.ProviderRef == "" {
		return nil, errors.New("webhook without charge id")
	}
	if ev.Status != StatusSucceeded && ev.Status != StatusFailed {
		return nil, fmt.Errorf("webhook status %q is not final", ev.Status)
	}
	return &ev, nil
}
