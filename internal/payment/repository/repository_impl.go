package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/apotheca/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, customer_id, order_id, amount, currency, application_fee,
			method, status, provider_intent_id, provider_charge_id, provider_refund_id,
			refund_amount, refund_reason, failure_reason, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.CustomerID,
		payment.OrderID,
		payment.Amount,
		payment.Currency,
		payment.ApplicationFee,
		string(payment.Method),
		string(payment.Status),
		payment.ProviderIntentID,
		payment.ProviderChargeID,
		payment.ProviderRefundID,
		payment.RefundAmount,
		payment.RefundReason,
		payment.FailureReason,
		payment.Metadata,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, order_id, amount, currency, application_fee,
			method, status, provider_intent_id, provider_charge_id, provider_refund_id,
			refund_amount, refund_reason, failure_reason, metadata, created_at, updated_at
		 FROM payments
		 WHERE id = ? AND org_id = ?
		 LIMIT 1`,
		id,
		orgID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPaymentByIntent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, intentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, order_id, amount, currency, application_fee,
			method, status, provider_intent_id, provider_charge_id, provider_refund_id,
			refund_amount, refund_reason, failure_reason, metadata, created_at, updated_at
		 FROM payments
		 WHERE org_id = ? AND provider_intent_id = ?
		 LIMIT 1`,
		orgID,
		intentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// UpdatePayment persists status plus provider fields in one statement,
// scoped by (id, org).
func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, provider_charge_id = ?, provider_refund_id = ?,
			refund_amount = ?, refund_reason = ?, failure_reason = ?,
			metadata = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		string(payment.Status),
		payment.ProviderChargeID,
		payment.ProviderRefundID,
		payment.RefundAmount,
		payment.RefundReason,
		payment.FailureReason,
		payment.Metadata,
		payment.UpdatedAt,
		payment.ID,
		payment.OrgID,
	).Error
}

func (r *repo) FindSettings(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.PaymentSettings, error) {
	var item domain.PaymentSettings
	err := db.WithContext(ctx).Raw(
		`SELECT org_id, application_fee_bps, default_currency, created_at, updated_at
		 FROM payment_settings
		 WHERE org_id = ?
		 LIMIT 1`,
		orgID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.OrgID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, org_id, provider, provider_event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.OrgID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
