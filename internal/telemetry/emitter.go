package telemetry

import (
	"context"

	"devicetrust/internal/audit/domain"
)

// EventEmitter ships security events to an observability sink (OTel Logs, Kafka). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}
