package repository

import (
	"context"

	"devicetrust/internal/audit/domain"
)

// Repository is append-only persistence for security events.
type Repository interface {
	Create(ctx context.Context, e *domain.SecurityEvent) error
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.SecurityEvent, error)
}
