// Package agent runs one execution context: it identifies the device, signs in and keeps the
// token renewed until it is stopped or a renewal fails.
package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"devicetrust/api/sessionv1"
	"devicetrust/internal/auth"
	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/refresh"
)

// ErrNotStarted is returned by CompleteMFA before Start.
var ErrNotStarted = errors.New("agent: not started")

// Resolver yields the identity of this device. *identity.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context) devicedomain.Identity
}

// Provider is the authentication provider the agent signs in through. *grpcclient.Provider satisfies it.
type Provider interface {
	auth.Provider
	Login(ctx context.Context, req *sessionv1.LoginRequest) (*sessionv1.AuthResponse, error)
	CompleteMFA(ctx context.Context, code string) (*sessionv1.AuthResponse, error)
	Policy() sessionv1.Policy
}

// Credentials sign the agent in.
type Credentials struct {
	Email    string
	Password string
}

// Agent owns the refresh scheduler of its execution context.
type Agent struct {
	resolver  Resolver
	provider  Provider
	creds     Credentials
	userAgent string
	scheduler *refresh.Scheduler

	mu        sync.Mutex
	runCtx    context.Context
	signedOut chan error
}

// New returns an Agent. A nil clock uses the system clock.
func New(resolver Resolver, provider Provider, creds Credentials, userAgent string, clock refresh.Clock) *Agent {
	a := &Agent{
		resolver:  resolver,
		provider:  provider,
		creds:     creds,
		userAgent: userAgent,
		signedOut: make(chan error, 1),
	}
	a.scheduler = refresh.New(provider, clock, refresh.Hooks{
		Refreshed: a.onRefreshed,
		SignedOut: a.onSignedOut,
	})
	return a
}

// Start resolves the device identity and signs in. When the policy needs a second factor the
// response carries the challenge and nothing is armed until CompleteMFA. ctx bounds every
// renewal; cancelling it stops renewals without signing out.
func (a *Agent) Start(ctx context.Context) (*sessionv1.AuthResponse, error) {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	id := a.resolver.Resolve(ctx)
	resp, err := a.provider.Login(ctx, &sessionv1.LoginRequest{
		Email:    a.creds.Email,
		Password: a.creds.Password,
		Device: sessionv1.Device{
			StableID:     id.StableID,
			Fingerprint:  id.Fingerprint,
			IsNative:     id.IsNative,
			Model:        id.Model,
			Platform:     id.Platform,
			OSVersion:    id.OSVersion,
			Manufacturer: id.Manufacturer,
		},
		UserAgent: a.userAgent,
	})
	if err != nil {
		return nil, err
	}
	if resp.MFA == nil {
		a.scheduler.Arm(ctx, resp.Policy.LifetimeMinutes)
	}
	return resp, nil
}

// CompleteMFA answers the pending challenge and arms renewal for the issued token.
func (a *Agent) CompleteMFA(code string) (*sessionv1.AuthResponse, error) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil {
		return nil, ErrNotStarted
	}
	resp, err := a.provider.CompleteMFA(ctx, code)
	if err != nil {
		return nil, err
	}
	a.scheduler.Arm(ctx, resp.Policy.LifetimeMinutes)
	return resp, nil
}

// Stop disarms renewal and signs out this execution context only.
func (a *Agent) Stop(ctx context.Context) error {
	a.scheduler.Disarm()
	return a.provider.SignOut(ctx, auth.ScopeLocal)
}

// SignedOut delivers the renewal failure that forced a local sign-out.
func (a *Agent) SignedOut() <-chan error {
	return a.signedOut
}

// State returns the scheduler state.
func (a *Agent) State() refresh.State {
	return a.scheduler.State()
}

// onRefreshed re-arms with the lifetime the server computed at this renewal.
func (a *Agent) onRefreshed(ctx context.Context) {
	p := a.provider.Policy()
	zap.L().Info("agent: token renewed",
		zap.String("role", p.Role),
		zap.Bool("trusted", p.IsDeviceTrusted),
		zap.Int("lifetime_minutes", p.LifetimeMinutes))
	a.scheduler.Arm(ctx, p.LifetimeMinutes)
}

func (a *Agent) onSignedOut(ctx context.Context, err error) {
	select {
	case a.signedOut <- err:
	default:
	}
}
