package repository

import (
	"context"
	"time"

	"devicetrust/internal/mfa/domain"
)

// Repository stores pending challenges until they expire.
type Repository interface {
	Save(ctx context.Context, c *domain.Challenge) error
	// Get returns nil when the challenge does not exist or has expired.
	Get(ctx context.Context, id string) (*domain.Challenge, error)
	Delete(ctx context.Context, id string) error
}

// DefaultChallengeTTL is the default MFA challenge expiry.
const DefaultChallengeTTL = 10 * time.Minute
