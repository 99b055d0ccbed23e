package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// HandleWebhook absorbs one gateway notification. Signature
// verification runs before any persistence. The dedup row is inserted
// before dispatch and marked processed only after dispatch succeeds, so
// a crash mid-processing leaves a visible unprocessed marker and the
// gateway's redelivery retries it; a redelivered event that was already
// processed short-circuits without reapplying effects.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*paymentdomain.WebhookResult, error) {
	event, err := s.gateway.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	now := time.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		OrgID:           event.OrgID,
		Provider:        s.gateway.Provider(),
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, s.gateway.Provider(), event.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.obsMetrics.RecordWebhookDuplicate(ctx, s.gateway.Provider())
			return &paymentdomain.WebhookResult{EventID: event.ID, Skipped: true}, nil
		}
	}

	handled, err := s.dispatchEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, s.gateway.Provider(), event.Type)

	return &paymentdomain.WebhookResult{EventID: event.ID, Handled: handled}, nil
}

// dispatchEvent applies the payment mutation for recognized event
// types. Unknown types and events that match no local payment are
// accepted as no-ops; the event may predate this system or refer to a
// payment it never tracked.
func (s *Service) dispatchEvent(ctx context.Context, event *paymentdomain.Event) (bool, error) {
	switch event.Type {
	case paymentdomain.EventTypeIntentSucceeded:
		return s.settleIntentEvent(ctx, event, true)
	case paymentdomain.EventTypeIntentFailed:
		return s.settleIntentEvent(ctx, event, false)
	default:
		s.log.Debug("ignoring webhook event type", zap.String("event_type", event.Type))
		return false, nil
	}
}

func (s *Service) settleIntentEvent(ctx context.Context, event *paymentdomain.Event, succeeded bool) (bool, error) {
	if event.OrgID == 0 || strings.TrimSpace(event.IntentID) == "" {
		s.log.Info("webhook event missing tenant or intent reference",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return false, nil
	}

	payment, err := s.repo.FindPaymentByIntent(ctx, s.db, event.OrgID, event.IntentID)
	if err != nil {
		return false, err
	}
	if payment == nil {
		s.log.Info("webhook event matched no payment",
			zap.String("event_id", event.ID),
			zap.String("intent_id", event.IntentID),
		)
		return false, nil
	}

	if payment.Status.Terminal() {
		return false, nil
	}

	if succeeded {
		payment.Status = paymentdomain.PaymentStatusCompleted
		if event.ChargeID != "" {
			chargeID := event.ChargeID
			payment.ProviderChargeID = &chargeID
		}
	} else {
		payment.Status = paymentdomain.PaymentStatusFailed
		reason := strings.TrimSpace(event.FailureReason)
		if reason == "" {
			reason = "payment_failed"
		}
		payment.FailureReason = &reason
	}
	payment.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdatePayment(ctx, s.db, payment); err != nil {
		return false, err
	}

	s.writeAudit(ctx, event.OrgID, "payment."+string(payment.Status), payment.ID, map[string]any{
		"event_id":  event.ID,
		"intent_id": event.IntentID,
	})

	return true, nil
}
