package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	creditTransactions metric.Int64Counter
	creditRejections   metric.Int64Counter
	paymentEvents      metric.Int64Counter
	webhookDuplicates  metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "apotheca"
	}
	meter := provider.Meter(name)

	creditTransactions, err := meter.Int64Counter("apotheca_credit_transactions_total")
	if err != nil {
		return nil, err
	}
	creditRejections, err := meter.Int64Counter("apotheca_credit_limit_rejections_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("apotheca_payment_events_total")
	if err != nil {
		return nil, err
	}
	webhookDuplicates, err := meter.Int64Counter("apotheca_webhook_duplicates_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("apotheca_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditTransactions: creditTransactions,
		creditRejections:   creditRejections,
		paymentEvents:      paymentEvents,
		webhookDuplicates:  webhookDuplicates,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordCreditTransaction increments applied credit transaction counts.
func (m *Metrics) RecordCreditTransaction(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.creditTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditRejection increments limit-exceeded rejection counts.
func (m *Metrics) RecordCreditRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.creditRejections.Add(ctx, 1)
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookDuplicate increments dedup short-circuit counts.
func (m *Metrics) RecordWebhookDuplicate(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.webhookDuplicates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":     {},
	"endpoint":   {},
	"provider":   {},
	"event_type": {},
}

// filterAttributes drops labels outside the allowed low-cardinality set.
func filterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.AsString() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
