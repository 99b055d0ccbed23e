package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/apotheca/internal/audit/domain"
	"github.com/smallbiznis/apotheca/internal/cache"
	obsmetrics "github.com/smallbiznis/apotheca/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Gateway       paymentdomain.Gateway
	Repo          paymentdomain.Repository
	AuditSvc      auditdomain.Service
	SettingsCache *cache.SettingsCache `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	gateway       paymentdomain.Gateway
	repo          paymentdomain.Repository
	auditSvc      auditdomain.Service
	settingsCache *cache.SettingsCache
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		gateway:       p.Gateway,
		repo:          p.Repo,
		auditSvc:      p.AuditSvc,
		settingsCache: p.SettingsCache,
		obsMetrics:    p.ObsMetrics,
	}
}

// CreateIntent creates a gateway payment intent and only then persists
// the local pending payment, so a gateway failure or timeout leaves no
// orphaned row behind.
func (s *Service) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.CreateIntentResponse, error) {
	if req.OrgID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	applicationFee, err := s.applicationFee(ctx, req.OrgID, req.Amount)
	if err != nil {
		return nil, err
	}

	paymentID := s.genID.Generate()
	metadata := map[string]string{
		"org_id":     req.OrgID.String(),
		"payment_id": paymentID.String(),
	}
	if req.CustomerID != nil {
		metadata["customer_id"] = req.CustomerID.String()
	}
	if req.OrderID != nil {
		metadata["order_id"] = req.OrderID.String()
	}

	intent, err := s.gateway.CreateIntent(ctx, paymentdomain.CreateIntentParams{
		Amount:         req.Amount,
		Currency:       currency,
		ApplicationFee: applicationFee,
		Metadata:       metadata,
		IdempotencyKey: "payment:" + paymentID.String(),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	intentID := intent.ID
	payment := paymentdomain.Payment{
		ID:               paymentID,
		OrgID:            req.OrgID,
		CustomerID:       req.CustomerID,
		OrderID:          req.OrderID,
		Amount:           req.Amount,
		Currency:         currency,
		ApplicationFee:   applicationFee,
		Method:           paymentdomain.PaymentMethodCard,
		Status:           paymentdomain.PaymentStatusPending,
		ProviderIntentID: &intentID,
		Metadata:         toJSONMap(req.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.InsertPayment(ctx, s.db, &payment); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req.OrgID, "payment.intent_created", payment.ID, map[string]any{
		"amount":          req.Amount,
		"currency":        currency,
		"application_fee": applicationFee,
		"intent_id":       intentID,
	})

	return &paymentdomain.CreateIntentResponse{
		Payment:      &payment,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (s *Service) GetPayment(ctx context.Context, orgID, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

// ConfirmPayment reconciles the local payment with the gateway's live
// intent state. Idempotent: a payment already in a terminal state is
// returned unchanged without touching the gateway.
func (s *Service) ConfirmPayment(ctx context.Context, orgID, paymentID snowflake.ID, intentID string) (*paymentdomain.Payment, error) {
	intentID = strings.TrimSpace(intentID)

	payment, err := s.repo.FindPayment(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.ProviderIntentID == nil || *payment.ProviderIntentID != intentID {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	if payment.Status.Terminal() {
		return payment, nil
	}

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	changed := s.applyIntentState(payment, intent)
	if !changed {
		return payment, nil
	}

	payment.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdatePayment(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, orgID, "payment."+string(payment.Status), payment.ID, map[string]any{
		"intent_id": intentID,
	})

	return payment, nil
}

// Refund issues a gateway refund for a completed card payment and
// records the refunded state.
func (s *Service) Refund(ctx context.Context, orgID, paymentID snowflake.ID, amount *int64, reason string) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		return nil, paymentdomain.ErrInvalidPaymentState
	}
	if payment.ProviderChargeID == nil || strings.TrimSpace(*payment.ProviderChargeID) == "" {
		return nil, paymentdomain.ErrMissingCharge
	}
	if amount != nil && (*amount <= 0 || *amount > payment.Amount) {
		return nil, paymentdomain.ErrInvalidAmount
	}

	refund, err := s.gateway.CreateRefund(ctx, *payment.ProviderChargeID, amount, reason)
	if err != nil {
		return nil, err
	}

	refundID := refund.ID
	refundAmount := refund.Amount
	payment.Status = paymentdomain.PaymentStatusRefunded
	payment.ProviderRefundID = &refundID
	payment.RefundAmount = &refundAmount
	if reason = strings.TrimSpace(reason); reason != "" {
		payment.RefundReason = &reason
	}
	payment.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdatePayment(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, orgID, "payment.refunded", payment.ID, map[string]any{
		"refund_id":     refundID,
		"refund_amount": refundAmount,
	})

	return payment, nil
}

// applyIntentState maps live gateway intent state onto the local
// payment. Returns false when the intent is still in flight.
func (s *Service) applyIntentState(payment *paymentdomain.Payment, intent *paymentdomain.Intent) bool {
	switch intent.Status {
	case paymentdomain.IntentStatusSucceeded:
		payment.Status = paymentdomain.PaymentStatusCompleted
		if intent.ChargeID != "" {
			chargeID := intent.ChargeID
			payment.ProviderChargeID = &chargeID
		}
		return true
	case paymentdomain.IntentStatusRequiresPaymentMethod, paymentdomain.IntentStatusCanceled:
		payment.Status = paymentdomain.PaymentStatusFailed
		reason := strings.TrimSpace(intent.FailureReason)
		if reason == "" {
			reason = "payment_" + intent.Status
		}
		payment.FailureReason = &reason
		return true
	default:
		return false
	}
}

func (s *Service) applicationFee(ctx context.Context, orgID snowflake.ID, amount int64) (int64, error) {
	settings, ok := s.settingsCache.Get(orgID)
	if !ok {
		loaded, err := s.repo.FindSettings(ctx, s.db, orgID)
		if err != nil {
			return 0, err
		}
		settings = loaded
		s.settingsCache.Set(orgID, settings)
	}
	if settings == nil || settings.ApplicationFeeBps <= 0 {
		return 0, nil
	}
	return amount * settings.ApplicationFeeBps / 10000, nil
}

func (s *Service) writeAudit(ctx context.Context, orgID snowflake.ID, action string, paymentID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := paymentID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "system", nil, action, "payment", &target, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func toJSONMap(in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range in {
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
