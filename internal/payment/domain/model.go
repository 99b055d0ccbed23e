package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentStatus is the local payment lifecycle. completed, failed and
// refunded are terminal; the only transition out of a terminal state is
// completed -> refunded.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Terminal reports whether the status permits no further transition
// except completed -> refunded.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCustom   PaymentMethod = "custom"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodACH      PaymentMethod = "ach"
)

// Payment records one payment attempt. Provider ids are present only
// for card payments that went through the gateway.
type Payment struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID      `json:"org_id" gorm:"not null;index"`
	CustomerID       *snowflake.ID     `json:"customer_id,omitempty"`
	OrderID          *snowflake.ID     `json:"order_id,omitempty"`
	Amount           int64             `json:"amount" gorm:"not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	ApplicationFee   int64             `json:"application_fee" gorm:"not null"`
	Method           PaymentMethod     `json:"method" gorm:"type:text;not null"`
	Status           PaymentStatus     `json:"status" gorm:"type:text;not null;index"`
	ProviderIntentID *string           `json:"provider_intent_id,omitempty" gorm:"index"`
	ProviderChargeID *string           `json:"provider_charge_id,omitempty"`
	ProviderRefundID *string           `json:"provider_refund_id,omitempty"`
	RefundAmount     *int64            `json:"refund_amount,omitempty"`
	RefundReason     *string           `json:"refund_reason,omitempty"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// EventRecord is the dedup ledger for inbound gateway notifications.
// A row exists from first sight of the event id; ProcessedAt is set
// only after the corresponding payment mutation commits. Rows are
// never deleted.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"index"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentSettings carries per-org gateway settings.
type PaymentSettings struct {
	OrgID             snowflake.ID `json:"org_id" gorm:"primaryKey"`
	ApplicationFeeBps int64        `json:"application_fee_bps" gorm:"not null"`
	DefaultCurrency   string       `json:"default_currency" gorm:"type:text;not null"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentSettings) TableName() string { return "payment_settings" }

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindPaymentByIntent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, intentID string) (*Payment, error)
	UpdatePayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindSettings(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*PaymentSettings, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
