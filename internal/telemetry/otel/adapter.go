package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"devicetrust/internal/audit/domain"
	"devicetrust/internal/telemetry"
)

// loggerName is the instrumentation scope of security event log records.
const loggerName = "devicetrust.security"

// recordEmitter is the part of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends security events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger wraps an existing logger; used by tests to capture records.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts event to an OTel log record. The body carries the description; metadata is
// attached as a JSON attribute so collectors can index it without schema knowledge.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severity(event.RiskLevel))
	rec.SetSeverityText(string(event.RiskLevel))
	if event.Description != "" {
		rec.SetBody(otellog.StringValue(event.Description))
	}
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.EventType != "" {
		rec.AddAttributes(otellog.String("event_type", string(event.EventType)))
	}
	if event.RiskLevel != "" {
		rec.AddAttributes(otellog.String("risk_level", string(event.RiskLevel)))
	}
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
		rec.AddAttributes(otellog.String("metadata", string(b)))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severity(r domain.RiskLevel) otellog.Severity {
	switch r {
	case domain.RiskMedium:
		return otellog.SeverityWarn
	case domain.RiskHigh:
		return otellog.SeverityError
	case domain.RiskCritical:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}
