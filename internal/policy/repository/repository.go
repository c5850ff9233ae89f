package repository

import (
	"context"

	"devicetrust/internal/policy/domain"
)

// Repository stores Rego overrides for the token policy.
type Repository interface {
	// ActiveRules returns the newest enabled rules, or nil when none are stored.
	ActiveRules(ctx context.Context) (*domain.Rules, error)
	Create(ctx context.Context, r *domain.Rules) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
