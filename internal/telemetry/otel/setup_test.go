package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProviders(ctx, endpoint, "devicetrust-server", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil providers: %+v", endpoint, p)
		}
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown should be a no-op, got %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"missing scheme", "://invalid"},
		{"malformed host", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), tt.endpoint, "devicetrust-server", false); err == nil {
				t.Errorf("NewProviders(%q) should fail", tt.endpoint)
			}
		})
	}
}

func TestSetGlobal(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "devicetrust-agent", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	})

	p.SetGlobal()

	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("global TracerProvider not replaced")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("global MeterProvider not replaced")
	}
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint     string
		force        bool
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317/v1/traces", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
	}
	for _, tt := range tests {
		col, err := parseCollector(tt.endpoint, tt.force)
		if err != nil {
			t.Fatalf("parseCollector(%q): %v", tt.endpoint, err)
		}
		if col.target != tt.wantTarget || col.insecure != tt.wantInsecure {
			t.Errorf("parseCollector(%q, %v) = %+v, want target %q insecure %v",
				tt.endpoint, tt.force, col, tt.wantTarget, tt.wantInsecure)
		}
	}
}
