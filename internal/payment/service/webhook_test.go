package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
)

func parsingGateway() *fakeGateway {
	return &fakeGateway{
		verifyWebhookFn: func(payload []byte, signatureHeader string) (*paymentdomain.Event, error) {
			if signatureHeader != "valid" {
				return nil, paymentdomain.ErrInvalidSignature
			}
			var raw struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				OrgID    string `json:"org_id"`
				IntentID string `json:"intent_id"`
				ChargeID string `json:"charge_id"`
				Reason   string `json:"reason"`
			}
			if err := json.Unmarshal(payload, &raw); err != nil {
				return nil, paymentdomain.ErrInvalidPayload
			}
			event := paymentdomain.Event{
				ID:            raw.ID,
				Type:          raw.Type,
				IntentID:      raw.IntentID,
				ChargeID:      raw.ChargeID,
				FailureReason: raw.Reason,
				OccurredAt:    time.Now().UTC(),
				RawPayload:    payload,
			}
			if raw.OrgID != "" {
				orgID, err := snowflake.ParseString(raw.OrgID)
				if err != nil {
					return nil, paymentdomain.ErrInvalidPayload
				}
				event.OrgID = orgID
			}
			return &event, nil
		},
	}
}

func TestHandleWebhookSettlesPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, node := newPaymentService(t, db, gw)

	orgID := node.Generate()
	resp, err := svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		OrgID:    orgID,
		Amount:   5000,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","org_id":"` + orgID.String() + `","intent_id":"` + *resp.Payment.ProviderIntentID + `","charge_id":"ch_1"}`)

	result, err := svc.HandleWebhook(ctx, payload, "valid")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !result.Handled || result.Skipped {
		t.Fatalf("expected handled result, got %+v", result)
	}

	payment, err := svc.GetPayment(ctx, orgID, resp.Payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", payment.Status)
	}
	if payment.ProviderChargeID == nil || *payment.ProviderChargeID != "ch_1" {
		t.Fatal("expected charge id recorded")
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL", 1)
}

func TestHandleWebhookDuplicateSkipped(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, node := newPaymentService(t, db, gw)

	orgID := node.Generate()
	resp, err := svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		OrgID:    orgID,
		Amount:   5000,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	payload := []byte(`{"id":"evt_dup","type":"payment_intent.succeeded","org_id":"` + orgID.String() + `","intent_id":"` + *resp.Payment.ProviderIntentID + `","charge_id":"ch_1"}`)

	if _, err := svc.HandleWebhook(ctx, payload, "valid"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	result, err := svc.HandleWebhook(ctx, payload, "valid")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skipped result, got %+v", result)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
}

func TestHandleWebhookFailedIntent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, node := newPaymentService(t, db, gw)

	orgID := node.Generate()
	resp, err := svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		OrgID:    orgID,
		Amount:   5000,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	payload := []byte(`{"id":"evt_fail","type":"payment_intent.payment_failed","org_id":"` + orgID.String() + `","intent_id":"` + *resp.Payment.ProviderIntentID + `","reason":"insufficient_funds"}`)

	result, err := svc.HandleWebhook(ctx, payload, "valid")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !result.Handled {
		t.Fatalf("expected handled result, got %+v", result)
	}

	payment, err := svc.GetPayment(ctx, orgID, resp.Payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != paymentdomain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", payment.Status)
	}
	if payment.FailureReason == nil || *payment.FailureReason != "insufficient_funds" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestHandleWebhookUnknownTypeRecorded(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, _ := newPaymentService(t, db, gw)

	payload := []byte(`{"id":"evt_unknown","type":"charge.updated"}`)

	result, err := svc.HandleWebhook(ctx, payload, "valid")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Handled || result.Skipped {
		t.Fatalf("expected ignored no-op result, got %+v", result)
	}

	// Unknown types are still recorded and marked processed so a
	// redelivery does not reprocess them.
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL", 1)
}

func TestHandleWebhookUnmatchedIntent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, node := newPaymentService(t, db, gw)

	orgID := node.Generate()
	payload := []byte(`{"id":"evt_orphan","type":"payment_intent.succeeded","org_id":"` + orgID.String() + `","intent_id":"pi_unknown"}`)

	result, err := svc.HandleWebhook(ctx, payload, "valid")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Handled {
		t.Fatalf("expected no-op result, got %+v", result)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payments", 0)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gw := parsingGateway()
	svc, _ := newPaymentService(t, db, gw)

	_, err := svc.HandleWebhook(ctx, []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`), "forged")
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 0)
}
