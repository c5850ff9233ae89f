package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(provider)
	ctx := context.Background()

	m.Login(ctx, "user", true, false, true)
	m.Login(ctx, "user", false, true, false)
	m.Refresh(ctx, "success")
	m.Refresh(ctx, "failure")
	m.Refresh(ctx, "success")
	m.PolicyFallback(ctx)

	got := collect(t, reader)
	want := map[string]int64{
		"devicetrust.logins":           2,
		"devicetrust.mfa.required":     1,
		"devicetrust.token.refreshes":  3,
		"devicetrust.policy.fallbacks": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Login(ctx, "admin", true, false, true)
	m.Refresh(ctx, "failure")
	m.PolicyFallback(ctx)

	if NewMetrics(nil) == nil {
		t.Error("NewMetrics(nil) should return usable no-op metrics")
	}
}
