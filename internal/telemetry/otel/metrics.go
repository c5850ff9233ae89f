package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "devicetrust"

// Metrics holds the counters for login and token lifecycle decisions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	logins          metric.Int64Counter
	mfaRequired     metric.Int64Counter
	refreshes       metric.Int64Counter
	policyFallbacks metric.Int64Counter
}

// NewMetrics registers the counters on provider. A nil provider yields no-op counters.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	m := provider.Meter(meterName)
	return &Metrics{
		logins:          counter(m, "devicetrust.logins", "Logins processed, by device novelty and trust."),
		mfaRequired:     counter(m, "devicetrust.mfa.required", "Logins that required step-up authentication."),
		refreshes:       counter(m, "devicetrust.token.refreshes", "Token refresh attempts, by outcome."),
		policyFallbacks: counter(m, "devicetrust.policy.fallbacks", "Token policy computations that fell back to the restrictive default."),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		zap.L().Warn("telemetry: counter registration failed", zap.String("name", name), zap.Error(err))
		c, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
	}
	return c
}

// Login counts one login decision.
func (m *Metrics) Login(ctx context.Context, role string, isNewDevice, trusted, requiresMFA bool) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Bool("new_device", isNewDevice),
		attribute.Bool("trusted", trusted),
	))
	if requiresMFA {
		m.mfaRequired.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	}
}

// Refresh counts one refresh attempt; outcome is "success" or "failure".
func (m *Metrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// PolicyFallback counts one restrictive fallback.
func (m *Metrics) PolicyFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.policyFallbacks.Add(ctx, 1)
}
