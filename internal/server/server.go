package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/apotheca/internal/audit"
	auditdomain "github.com/smallbiznis/apotheca/internal/audit/domain"
	"github.com/smallbiznis/apotheca/internal/config"
	"github.com/smallbiznis/apotheca/internal/credit"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	"github.com/smallbiznis/apotheca/internal/customer"
	"github.com/smallbiznis/apotheca/internal/observability"
	obsmetrics "github.com/smallbiznis/apotheca/internal/observability/metrics"
	"github.com/smallbiznis/apotheca/internal/payment"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"github.com/smallbiznis/apotheca/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	observability.Module,
	audit.Module,
	customer.Module,
	credit.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())
	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	CreditSvc  creditdomain.Service
	PaymentSvc paymentdomain.Service
	AuditSvc   auditdomain.Service
	Limiter    *ratelimit.TokenBucket `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	creditSvc  creditdomain.Service
	paymentSvc paymentdomain.Service
	auditSvc   auditdomain.Service
	limiter    *ratelimit.TokenBucket
	obsMetrics *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http"),
		genID:      p.GenID,
		creditSvc:  p.CreditSvc,
		paymentSvc: p.PaymentSvc,
		auditSvc:   p.AuditSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(OrgContext())

	creditGroup := v1.Group("/credit")
	creditGroup.POST("/accounts", s.CreateCreditAccount)
	creditGroup.GET("/accounts/:customer_id", s.GetCreditAccount)
	creditGroup.POST("/accounts/:customer_id/transactions", s.ApplyCreditTransaction)
	creditGroup.PATCH("/accounts/:credit_id/balance", s.UpdateCreditBalance)
	creditGroup.POST("/transactions/:transaction_id/paid", s.MarkCreditTransactionPaid)

	paymentGroup := v1.Group("/payments")
	paymentGroup.POST("/intents", s.CreatePaymentIntent)
	paymentGroup.GET("/:payment_id", s.GetPayment)
	paymentGroup.POST("/:payment_id/confirm", s.ConfirmPayment)
	paymentGroup.POST("/:payment_id/refund", s.RefundPayment)

	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
