package payment

import (
	"github.com/smallbiznis/apotheca/internal/cache"
	"github.com/smallbiznis/apotheca/internal/config"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"github.com/smallbiznis/apotheca/internal/payment/gateway/stripe"
	"github.com/smallbiznis/apotheca/internal/payment/repository"
	paymentservice "github.com/smallbiznis/apotheca/internal/payment/service"
	"go.uber.org/fx"
)

func newGateway(cfg config.Config) paymentdomain.Gateway {
	return stripe.New(stripe.Config{
		APIKey:        cfg.StripeAPIKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	})
}

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(newGateway),
	fx.Provide(cache.NewSettingsCache),
	fx.Provide(paymentservice.NewService),
)
