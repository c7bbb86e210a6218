package gateway

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

	"github.com/google/uuid"
)

// Charge statuses reported by the card processor
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ChargeRequest asks the processor to collect a card payment.
type ChargeRequest struct {
	Reference   string    `json:"reference"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Email       string    `json:"customer_email,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ChargeResult is the processor's answer. CheckoutURL is set when the
// renter has to finish the payment on the processor's page.
type ChargeResult struct {
	ProviderRef   string `json:"id"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Gateway creates card charges
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type httpGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP returns a JSON-over-HTTP processor client
func NewHTTP(baseURL, apiKey string, timeout time.Duration) Gateway {
	return &httpGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *httpGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("card processor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("card processor create charge failed: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	if out.ProviderRef == "" {
		return nil, errors.New("card processor: empty charge id")
	}
	switch out.Status {
	case StatusSucceeded, StatusPending, StatusFailed:
	default:
		return nil, fmt.Errorf("card processor: unknown charge status %q", out.Status)
	}
	return &out, nil
}

// Mock approves every charge immediately. Used when no processor URL is configured.
type Mock struct{}

func (Mock) CreateCharge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{
		ProviderRef: "mock_" + uuid.NewString(),
		Status:      StatusSucceeded,
	}, nil
}
