package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devicetrust/internal/mfa/domain"
	"devicetrust/internal/mfa/repository"
)

// MaxAttempts is the number of wrong codes a challenge tolerates before it is burned.
const MaxAttempts = 5

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found or expired")
	ErrInvalidCode       = errors.New("invalid mfa code")
	ErrTooManyAttempts   = errors.New("too many mfa attempts")
	ErrUserMismatch      = errors.New("mfa challenge belongs to another user")
)

// Sender delivers an OTP to the user out of band.
type Sender interface {
	SendOTP(ctx context.Context, userID, otp string) error
}

// Service issues and verifies challenges.
type Service struct {
	repo   repository.Repository
	sender Sender
	ttl    time.Duration
	now    func() time.Time
}

// NewService returns a Service. sender may be nil when codes are delivered another way
// (development mode hands the code back to the caller).
func NewService(repo repository.Repository, sender Sender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = repository.DefaultChallengeTTL
	}
	return &Service{repo: repo, sender: sender, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Issue stores a new challenge built from tmpl and returns it with the plain code.
func (s *Service) Issue(ctx context.Context, tmpl domain.Challenge) (*domain.Challenge, string, error) {
	otp, err := GenerateOTP()
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	c := tmpl
	c.ID = uuid.NewString()
	c.CodeHash = HashOTP(otp)
	c.Attempts = 0
	c.CreatedAt = now
	c.ExpiresAt = now.Add(s.ttl)
	if err := s.repo.Save(ctx, &c); err != nil {
		return nil, "", err
	}
	if s.sender != nil {
		if err := s.sender.SendOTP(ctx, c.UserID, otp); err != nil {
			_ = s.repo.Delete(ctx, c.ID)
			return nil, "", err
		}
	}
	return &c, otp, nil
}

// Verify checks code against the challenge. A verified challenge is consumed.
func (s *Service) Verify(ctx context.Context, id, userID, code string) (*domain.Challenge, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.ExpiresAt.After(s.now()) {
		return nil, ErrChallengeNotFound
	}
	if userID != "" && c.UserID != userID {
		return nil, ErrUserMismatch
	}
	if !OTPEqual(code, c.CodeHash) {
		c.Attempts++
		if c.Attempts >= MaxAttempts {
			if err := s.repo.Delete(ctx, id); err != nil {
				zap.L().Warn("mfa: failed to burn challenge", zap.String("challenge_id", id), zap.Error(err))
			}
			return nil, ErrTooManyAttempts
		}
		if err := s.repo.Save(ctx, c); err != nil {
			zap.L().Warn("mfa: failed to record attempt", zap.String("challenge_id", id), zap.Error(err))
		}
		return nil, ErrInvalidCode
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		zap.L().Warn("mfa: failed to consume challenge", zap.String("challenge_id", id), zap.Error(err))
	}
	return c, nil
}
