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
	webhookEvents      metric.Int64Counter
	riskDecisions      metric.Int64Counter
	riskRules          metric.Int64Counter
	verifications      metric.Int64Counter
	sideEffectFailures metric.Int64Counter
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
		name = "orderguard"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("orderguard_webhook_events_total")
	if err != nil {
		return nil, err
	}
	riskDecisions, err := meter.Int64Counter("orderguard_risk_decisions_total")
	if err != nil {
		return nil, err
	}
	riskRules, err := meter.Int64Counter("orderguard_risk_rule_hits_total")
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("orderguard_verifications_total")
	if err != nil {
		return nil, err
	}
	sideEffectFailures, err := meter.Int64Counter("orderguard_side_effect_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:      webhookEvents,
		riskDecisions:      riskDecisions,
		riskRules:          riskRules,
		verifications:      verifications,
		sideEffectFailures: sideEffectFailures,
	}, nil
}

// RecordWebhookEvent counts an inbound webhook by topic and admission outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("topic", strings.TrimSpace(topic)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRiskDecision counts a scored order by risk level and whether it was flagged.
func (m *Metrics) RecordRiskDecision(ctx context.Context, risk string, flagged bool) {
	if m == nil {
		return
	}
	outcome := "passed"
	if flagged {
		outcome = "flagged"
	}
	attrs := FilterAttributes(
		attribute.String("risk", strings.TrimSpace(risk)),
		attribute.String("outcome", outcome),
	)
	m.riskDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRiskRule counts a rule that contributed to a score.
func (m *Metrics) RecordRiskRule(ctx context.Context, reasonCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reasonCode)))
	m.riskRules.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerification counts verification submissions by outcome.
func (m *Metrics) RecordVerification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSideEffectFailure counts a swallowed orchestrator failure.
func (m *Metrics) RecordSideEffectFailure(ctx context.Context, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	m.sideEffectFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"topic":   {},
	"outcome": {},
	"risk":    {},
	"reason":  {},
	"action":  {},
	"job":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
