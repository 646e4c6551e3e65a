package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/shirikacare/portal/internal/observability/metrics"

// allowedAttributeKeys is the low-cardinality allow-list for metric
// attributes. Anything not listed here is dropped before recording.
var allowedAttributeKeys = map[string]struct{}{
	"result":           {},
	"status":           {},
	"kind":             {},
	"environment":      {},
	"decision":         {},
	"scope":            {},
	"event_type":       {},
	"http.route":       {},
	"http.method":      {},
	"http.status_code": {},
}

// FilterAttributes keeps only allow-listed attribute keys.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributeKeys[string(attr.Key)]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// Metrics holds the portal's domain instruments.
type Metrics struct {
	stkPushes        metric.Int64Counter
	callbacks        metric.Int64Counter
	paymentAmount    metric.Float64Histogram
	applications     metric.Int64Counter
	decisions        metric.Int64Counter
	verifications    metric.Int64Counter
	rateLimit        metric.Int64Counter
	stuckPayments    metric.Int64UpDownCounter
	gatewayLatency   metric.Float64Histogram
	callbackMatching metric.Int64Counter
}

// New creates the portal instruments against the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.stkPushes, err = meter.Int64Counter("portal.payments.stk_pushes",
		metric.WithDescription("STK push initiation attempts by result")); err != nil {
		return nil, fmt.Errorf("create stk push counter: %w", err)
	}
	if m.callbacks, err = meter.Int64Counter("portal.payments.callbacks",
		metric.WithDescription("Gateway callbacks received by result")); err != nil {
		return nil, fmt.Errorf("create callback counter: %w", err)
	}
	if m.paymentAmount, err = meter.Float64Histogram("portal.payments.amount",
		metric.WithDescription("Completed payment amounts"),
		metric.WithUnit("KES")); err != nil {
		return nil, fmt.Errorf("create payment amount histogram: %w", err)
	}
	if m.applications, err = meter.Int64Counter("portal.applications.submitted",
		metric.WithDescription("Membership applications submitted by kind")); err != nil {
		return nil, fmt.Errorf("create application counter: %w", err)
	}
	if m.decisions, err = meter.Int64Counter("portal.applications.decisions",
		metric.WithDescription("Admin review decisions by outcome")); err != nil {
		return nil, fmt.Errorf("create decision counter: %w", err)
	}
	if m.verifications, err = meter.Int64Counter("portal.verifications.lookups",
		metric.WithDescription("Public registry lookups by result")); err != nil {
		return nil, fmt.Errorf("create verification counter: %w", err)
	}
	if m.rateLimit, err = meter.Int64Counter("portal.ratelimit.decisions",
		metric.WithDescription("Rate limiter allow and deny decisions by scope")); err != nil {
		return nil, fmt.Errorf("create rate limit counter: %w", err)
	}
	if m.stuckPayments, err = meter.Int64UpDownCounter("portal.payments.stuck",
		metric.WithDescription("Pending payments past the watchdog threshold")); err != nil {
		return nil, fmt.Errorf("create stuck payment counter: %w", err)
	}
	if m.gatewayLatency, err = meter.Float64Histogram("portal.gateway.request_duration",
		metric.WithDescription("Outbound gateway request duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create gateway latency histogram: %w", err)
	}
	if m.callbackMatching, err = meter.Int64Counter("portal.payments.callback_matching",
		metric.WithDescription("Callback to payment request match outcomes")); err != nil {
		return nil, fmt.Errorf("create callback matching counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordSTKPush(ctx context.Context, result string) {
	m.stkPushes.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}

func (m *Metrics) RecordCallback(ctx context.Context, result string) {
	m.callbacks.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}

func (m *Metrics) RecordCallbackMatch(ctx context.Context, outcome string) {
	m.callbackMatching.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", outcome),
	)...))
}

func (m *Metrics) RecordPaymentAmount(ctx context.Context, amount float64) {
	m.paymentAmount.Record(ctx, amount)
}

func (m *Metrics) RecordApplication(ctx context.Context, kind string) {
	m.applications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
	)...))
}

func (m *Metrics) RecordDecision(ctx context.Context, decision string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("decision", decision),
	)...))
}

func (m *Metrics) RecordVerification(ctx context.Context, result string) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}

func (m *Metrics) RecordRateLimit(ctx context.Context, scope, decision string) {
	m.rateLimit.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	)...))
}

func (m *Metrics) RecordStuckPayments(ctx context.Context, delta int64) {
	m.stuckPayments.Add(ctx, delta)
}

func (m *Metrics) RecordGatewayLatency(ctx context.Context, millis float64, result string) {
	m.gatewayLatency.Record(ctx, millis, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}
