package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Intent statuses as reported by the gateway.
const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusCanceled              = "canceled"
	IntentStatusProcessing            = "processing"
)

// Webhook event types the reconciler dispatches on. Anything else is
// accepted and ignored.
const (
	EventTypeIntentSucceeded = "payment_intent.succeeded"
	EventTypeIntentFailed    = "payment_intent.payment_failed"
)

type Intent struct {
	ID            string
	ClientSecret  string
	Status        string
	Amount        int64
	Currency      string
	ChargeID      string
	FailureReason string
}

type Refund struct {
	ID     string
	Status string
	Amount int64
}

type CreateIntentParams struct {
	Amount         int64
	Currency       string
	ApplicationFee int64
	Metadata       map[string]string
	IdempotencyKey string
}

// Event is the canonical webhook event parsed by the gateway adapter.
// OrgID comes from the intent metadata the reconciler stamped at
// creation time; zero when the event refers to an intent this system
// never created.
type Event struct {
	ID            string
	Type          string
	OrgID         snowflake.ID
	IntentID      string
	ChargeID      string
	FailureReason string
	OccurredAt    time.Time
	RawPayload    []byte
}

// Gateway is the external payment provider surface the reconciler
// depends on. Injected at construction so tests substitute a fake.
type Gateway interface {
	Provider() string
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateRefund(ctx context.Context, chargeID string, amount *int64, reason string) (*Refund, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}
