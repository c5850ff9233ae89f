// Package login composes device registration, trust, token policy and security events into the
// login, second-factor, renewal and logout flows.
package login

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	auditdomain "devicetrust/internal/audit/domain"
	devicedomain "devicetrust/internal/device/domain"
	mfadomain "devicetrust/internal/mfa/domain"
	policydomain "devicetrust/internal/policy/domain"
	"devicetrust/internal/security"
	sessiondomain "devicetrust/internal/session/domain"
	"devicetrust/internal/session/registry"
	userdomain "devicetrust/internal/user/domain"
)

// Sentinel errors; the transport maps them to status codes.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrSessionRevoked      = errors.New("session is no longer active")
	ErrStepUpRequired      = errors.New("second factor required; sign in again")
	ErrInvalidMFA          = errors.New("invalid or expired mfa challenge")
)

// UserRepo is the minimal user repository needed by the login service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Sessions is the session registry surface used here.
type Sessions interface {
	RegisterOrUpdate(ctx context.Context, userID string, identity devicedomain.Identity, client devicedomain.Client) (string, bool, error)
	Get(ctx context.Context, userID, sessionID string) (*sessiondomain.Record, error)
	Deactivate(ctx context.Context, userID, sessionID string) error
}

// Trust is the trust store surface used here.
type Trust interface {
	IsTrusted(ctx context.Context, userID string, identity devicedomain.Identity) bool
	Promote(ctx context.Context, userID string, identity devicedomain.Identity) (bool, error)
}

// Policy computes token policies. The returned policy is usable even when err is set.
type Policy interface {
	Decide(ctx context.Context, role string, isNewDevice, isDeviceTrusted bool) (policydomain.TokenPolicy, error)
}

// Challenges issues and verifies second-factor challenges.
type Challenges interface {
	Issue(ctx context.Context, tmpl mfadomain.Challenge) (*mfadomain.Challenge, string, error)
	Verify(ctx context.Context, id, userID, code string) (*mfadomain.Challenge, error)
}

// Tokens signs access and refresh tokens.
type Tokens interface {
	IssueAccess(sub security.Subject, ttl time.Duration) (security.Issued, error)
	IssueRefresh(sub security.Subject) (security.Issued, error)
	ValidateRefresh(token string) (*security.RefreshClaims, error)
}

// PasswordChecker verifies a password against its stored hash, returning
// security.ErrPasswordMismatch for a wrong password.
type PasswordChecker interface {
	Compare(hash string, password []byte) error
}

// Recorder receives security events.
type Recorder interface {
	Record(ctx context.Context, event auditdomain.SecurityEvent)
}

// Metrics counts login decisions. *otel.Metrics satisfies it.
type Metrics interface {
	Login(ctx context.Context, role string, isNewDevice, trusted, requiresMFA bool)
	Refresh(ctx context.Context, outcome string)
	PolicyFallback(ctx context.Context)
}

// Request is one password login from a device.
type Request struct {
	Email    string
	Password string
	Identity devicedomain.Identity
	Client   devicedomain.Client
}

// TokenPair is the issued credential set. The access token lives exactly Policy.LifetimeMinutes.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// PendingMFA describes the challenge the caller must complete before tokens are issued.
type PendingMFA struct {
	ChallengeID string
	ExpiresAt   time.Time
	// DevOTP is the plain code, set only in development mode.
	DevOTP string
}

// Outcome is the result of a login, second factor or renewal. Exactly one of Tokens and MFA is set.
type Outcome struct {
	UserID    string
	Role      string
	SessionID string
	Policy    policydomain.TokenPolicy
	Tokens    *TokenPair
	MFA       *PendingMFA
	// BookkeepingErr reports a session or trust write that failed without failing the flow.
	BookkeepingErr error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Users      UserRepo
	Sessions   Sessions
	Trust      Trust
	Policy     Policy
	Challenges Challenges
	Tokens     Tokens
	Passwords  PasswordChecker
	Events     Recorder
	Metrics    Metrics
}

// Service runs the login control flow.
type Service struct {
	Deps
	devMode bool
}

// NewService returns a Service. With devMode the MFA code is returned to the caller.
func NewService(d Deps, devMode bool) *Service {
	if d.Events == nil {
		d.Events = nopRecorder{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	return &Service{Deps: d, devMode: devMode}
}

// Login authenticates the user, records the device session and computes the token policy.
// Session bookkeeping failures never fail the login; the device is then treated as new and untrusted.
func (s *Service) Login(ctx context.Context, req Request) (*Outcome, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	if err := s.Passwords.Compare(user.PasswordHash, []byte(req.Password)); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			zap.L().Warn("login: stored password hash unusable", zap.String("user_id", user.ID), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	out := &Outcome{UserID: user.ID, Role: user.Role}
	// Trust is read before registration, which stamps lastActivity and would otherwise
	// keep a dormant device inside its window forever.
	trusted := s.Trust.IsTrusted(ctx, user.ID, req.Identity)
	sessionID, isNew, regErr := s.Sessions.RegisterOrUpdate(ctx, user.ID, req.Identity, req.Client)
	if regErr != nil {
		out.BookkeepingErr = regErr
		isNew = true
		trusted = false
		s.Events.Record(ctx, auditdomain.SecurityEvent{
			UserID:      user.ID,
			EventType:   auditdomain.EventSessionBookkeepingFailed,
			Description: "session bookkeeping failed during login",
			Metadata:    map[string]any{"error": regErr.Error()},
			RiskLevel:   auditdomain.RiskMedium,
		})
	} else {
		out.SessionID = sessionID
		if isNew {
			s.Events.Record(ctx, auditdomain.SecurityEvent{
				UserID:      user.ID,
				EventType:   auditdomain.EventSessionRegistered,
				Description: "login from a new device",
				Metadata:    deviceMeta(sessionID, req.Identity),
				RiskLevel:   auditdomain.RiskMedium,
			})
		}
	}

	out.Policy = s.decide(ctx, user.ID, user.Role, isNew, trusted, "login")
	out.Role = out.Policy.Role
	s.Metrics.Login(ctx, out.Role, isNew, trusted, out.Policy.RequiresMFA)

	sub := security.Subject{UserID: user.ID, SessionID: out.SessionID, Role: out.Role, StableID: req.Identity.StableID, Fingerprint: req.Identity.Fingerprint}
	if out.Policy.RequiresMFA {
		ch, otp, err := s.Challenges.Issue(ctx, mfadomain.Challenge{
			UserID:          user.ID,
			SessionID:       out.SessionID,
			Role:            out.Role,
			StableID:        req.Identity.StableID,
			Fingerprint:     req.Identity.Fingerprint,
			IsNewDevice:     out.Policy.IsNewDevice,
			IsDeviceTrusted: out.Policy.IsDeviceTrusted,
			LifetimeMinutes: out.Policy.LifetimeMinutes,
		})
		if err != nil {
			return nil, err
		}
		out.MFA = &PendingMFA{ChallengeID: ch.ID, ExpiresAt: ch.ExpiresAt}
		if s.devMode {
			out.MFA.DevOTP = otp
		}
		meta := deviceMeta(out.SessionID, req.Identity)
		meta["role"] = out.Role
		meta["lifetime_minutes"] = out.Policy.LifetimeMinutes
		s.Events.Record(ctx, auditdomain.SecurityEvent{
			UserID:      user.ID,
			EventType:   auditdomain.EventMFARequired,
			Description: "second factor required before token issue",
			Metadata:    meta,
			RiskLevel:   auditdomain.RiskMedium,
		})
		return out, nil
	}

	pair, err := s.issue(sub, out.Policy)
	if err != nil {
		return nil, err
	}
	out.Tokens = pair
	return out, nil
}

// CompleteMFA verifies the second factor, promotes the device to trusted and issues tokens with
// the lifetime decided at login. A failed promotion is reported in BookkeepingErr only.
func (s *Service) CompleteMFA(ctx context.Context, userID, challengeID, code string) (*Outcome, error) {
	ch, err := s.Challenges.Verify(ctx, challengeID, userID, code)
	if err != nil {
		zap.L().Info("login: mfa verification failed", zap.String("user_id", userID), zap.Error(err))
		return nil, errors.Join(ErrInvalidMFA, err)
	}
	identity := devicedomain.Identity{StableID: ch.StableID, Fingerprint: ch.Fingerprint}
	out := &Outcome{
		UserID:    ch.UserID,
		Role:      ch.Role,
		SessionID: ch.SessionID,
		Policy: policydomain.TokenPolicy{
			Role:            ch.Role,
			IsNewDevice:     ch.IsNewDevice,
			IsDeviceTrusted: ch.IsDeviceTrusted,
			LifetimeMinutes: ch.LifetimeMinutes,
			RequiresMFA:     true,
		},
	}
	if promoted, err := s.Trust.Promote(ctx, ch.UserID, identity); err != nil {
		out.BookkeepingErr = err
	} else if promoted {
		s.Events.Record(ctx, auditdomain.SecurityEvent{
			UserID:      ch.UserID,
			EventType:   auditdomain.EventDeviceTrustPromoted,
			Description: "device trusted after second factor",
			Metadata:    deviceMeta(ch.SessionID, identity),
			RiskLevel:   auditdomain.RiskLow,
		})
	}
	sub := security.Subject{UserID: ch.UserID, SessionID: ch.SessionID, Role: ch.Role, StableID: ch.StableID, Fingerprint: ch.Fingerprint}
	pair, err := s.issue(sub, out.Policy)
	if err != nil {
		return nil, err
	}
	out.Tokens = pair
	return out, nil
}

// Renew rotates tokens at a scheduled refresh. The policy is recomputed with the current role and
// trust state; a device that needs a second factor but is no longer trusted must sign in again.
func (s *Service) Renew(ctx context.Context, refreshToken string) (out *Outcome, err error) {
	var userID string
	defer func() {
		if err == nil {
			s.Metrics.Refresh(ctx, "success")
			return
		}
		s.Metrics.Refresh(ctx, "failure")
		s.Events.Record(ctx, auditdomain.SecurityEvent{
			UserID:      userID,
			EventType:   auditdomain.EventTokenRefreshFailed,
			Description: "token renewal refused",
			Metadata:    map[string]any{"reason": err.Error()},
			RiskLevel:   auditdomain.RiskMedium,
		})
	}()

	claims, err := s.Tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	sub := claims.AsSubject()
	userID = sub.UserID
	if sub.SessionID == "" {
		return nil, ErrSessionRevoked
	}
	rec, err := s.Sessions.Get(ctx, sub.UserID, sub.SessionID)
	if errors.Is(err, registry.ErrSessionNotFound) {
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.IsActive {
		return nil, ErrSessionRevoked
	}
	user, err := s.Users.GetByID(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrSessionRevoked
	}

	identity := devicedomain.Identity{StableID: sub.StableID, Fingerprint: sub.Fingerprint}
	trusted := s.Trust.IsTrusted(ctx, sub.UserID, identity)
	policy := s.decide(ctx, sub.UserID, user.Role, false, trusted, "refresh")
	if policy.RequiresMFA && !policy.IsDeviceTrusted {
		return nil, ErrStepUpRequired
	}
	sub.Role = policy.Role
	pair, err := s.issue(sub, policy)
	if err != nil {
		return nil, err
	}
	return &Outcome{UserID: sub.UserID, Role: policy.Role, SessionID: sub.SessionID, Policy: policy, Tokens: pair}, nil
}

// Logout deactivates this device's session only; the user's other devices stay signed in.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.Sessions.Deactivate(ctx, userID, sessionID); err != nil {
		return err
	}
	s.Events.Record(ctx, auditdomain.SecurityEvent{
		UserID:      userID,
		EventType:   auditdomain.EventSessionDeactivated,
		Description: "signed out on this device",
		Metadata:    map[string]any{"session_id": sessionID},
		RiskLevel:   auditdomain.RiskLow,
	})
	return nil
}

func (s *Service) decide(ctx context.Context, userID, role string, isNew, trusted bool, stage string) policydomain.TokenPolicy {
	p, err := s.Policy.Decide(ctx, role, isNew, trusted)
	if err != nil {
		zap.L().Warn("login: token policy fell back to restrictive default", zap.String("user_id", userID), zap.Error(err))
		s.Metrics.PolicyFallback(ctx)
		s.Events.Record(ctx, auditdomain.SecurityEvent{
			UserID:      userID,
			EventType:   auditdomain.EventPolicyComputeFailed,
			Description: "token policy computation failed; restrictive fallback applied",
			Metadata:    map[string]any{"stage": stage, "error": err.Error()},
			RiskLevel:   auditdomain.RiskHigh,
		})
	}
	s.Events.Record(ctx, auditdomain.SecurityEvent{
		UserID:      userID,
		EventType:   auditdomain.EventTokenPolicyComputed,
		Description: "token policy computed at " + stage,
		Metadata: map[string]any{
			"stage":             stage,
			"role":              p.Role,
			"is_new_device":     p.IsNewDevice,
			"is_device_trusted": p.IsDeviceTrusted,
			"lifetime_minutes":  p.LifetimeMinutes,
			"requires_mfa":      p.RequiresMFA,
		},
		RiskLevel: auditdomain.RiskLow,
	})
	return p
}

func (s *Service) issue(sub security.Subject, p policydomain.TokenPolicy) (*TokenPair, error) {
	access, err := s.Tokens.IssueAccess(sub, p.Lifetime())
	if err != nil {
		return nil, err
	}
	refresh, err := s.Tokens.IssueRefresh(sub)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func deviceMeta(sessionID string, id devicedomain.Identity) map[string]any {
	return map[string]any{
		"session_id":  sessionID,
		"stable_id":   id.StableID,
		"fingerprint": id.Fingerprint,
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, auditdomain.SecurityEvent) {}

type nopMetrics struct{}

func (nopMetrics) Login(context.Context, string, bool, bool, bool) {}
func (nopMetrics) Refresh(context.Context, string)                 {}
func (nopMetrics) PolicyFallback(context.Context)                  {}
