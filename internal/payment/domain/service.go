package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

type CreateIntentRequest struct {
	OrgID      snowflake.ID
	Amount     int64
	Currency   string
	CustomerID *snowflake.ID
	OrderID    *snowflake.ID
	Metadata   map[string]any
}

type CreateIntentResponse struct {
	Payment      *Payment `json:"payment"`
	ClientSecret string   `json:"client_secret"`
}

// WebhookResult reports how an inbound event was absorbed.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Skipped bool   `json:"skipped"`
	Handled bool   `json:"handled"`
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error)
	GetPayment(ctx context.Context, orgID, paymentID snowflake.ID) (*Payment, error)
	ConfirmPayment(ctx context.Context, orgID, paymentID snowflake.ID, intentID string) (*Payment, error)
	Refund(ctx context.Context, orgID, paymentID snowflake.ID, amount *int64, reason string) (*Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error)
}

var (
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvalidPaymentState = errors.New("invalid_payment_state")
	ErrMissingCharge       = errors.New("missing_charge_id")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
)

// GatewayError wraps a failed or malformed external provider call.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("gateway %s failed", e.Op)
}

func (e *GatewayError) Unwrap() error { return e.Err }
