// Package grpcclient is the auth.Provider of an agent talking to SessionService.
package grpcclient

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"devicetrust/api/sessionv1"
	"devicetrust/internal/auth"
)

var (
	// ErrSignedOut is returned when the provider holds no tokens.
	ErrSignedOut = errors.New("grpcclient: not signed in")
	// ErrNoChallenge is returned by CompleteMFA when no second factor is pending.
	ErrNoChallenge = errors.New("grpcclient: no pending mfa challenge")
	// ErrGlobalSignOut is returned for ScopeGlobal; the service only signs out one device.
	ErrGlobalSignOut = errors.New("grpcclient: global sign-out is not supported")
)

// Provider holds the credentials of one execution context. Safe for concurrent use.
type Provider struct {
	client *sessionv1.SessionServiceClient

	mu        sync.Mutex
	userID    string
	role      string
	sessionID string
	policy    sessionv1.Policy
	tokens    *sessionv1.Tokens
	pending   *sessionv1.Challenge
}

var _ auth.Provider = (*Provider)(nil)

// New returns a signed-out Provider calling SessionService over cc.
func New(cc grpc.ClientConnInterface) *Provider {
	return &Provider{client: sessionv1.NewSessionServiceClient(cc)}
}

// Login signs in. When the response carries a challenge, tokens are withheld until CompleteMFA.
func (p *Provider) Login(ctx context.Context, req *sessionv1.LoginRequest) (*sessionv1.AuthResponse, error) {
	resp, err := p.client.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	p.store(resp)
	return resp, nil
}

// CompleteMFA answers the pending challenge with code.
func (p *Provider) CompleteMFA(ctx context.Context, code string) (*sessionv1.AuthResponse, error) {
	p.mu.Lock()
	pending, userID := p.pending, p.userID
	p.mu.Unlock()
	if pending == nil {
		return nil, ErrNoChallenge
	}
	resp, err := p.client.CompleteMFA(ctx, &sessionv1.CompleteMFARequest{
		UserID:      userID,
		ChallengeID: pending.ChallengeID,
		Code:        code,
	})
	if err != nil {
		return nil, err
	}
	p.store(resp)
	return resp, nil
}

// CurrentRole returns the role of the signed-in user.
func (p *Provider) CurrentRole(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens == nil {
		return "", ErrSignedOut
	}
	return p.role, nil
}

// RefreshToken rotates the token pair. The renewed policy is available from Policy.
func (p *Provider) RefreshToken(ctx context.Context) error {
	p.mu.Lock()
	tokens := p.tokens
	p.mu.Unlock()
	if tokens == nil {
		return ErrSignedOut
	}
	resp, err := p.client.Refresh(ctx, &sessionv1.RefreshRequest{RefreshToken: tokens.RefreshToken})
	if err != nil {
		return err
	}
	if resp.Tokens == nil {
		return ErrSignedOut
	}
	p.store(resp)
	return nil
}

// SignOut drops the local credentials and deactivates this device's session on the server.
// Local state is cleared even when the server call fails.
func (p *Provider) SignOut(ctx context.Context, scope auth.Scope) error {
	if scope == auth.ScopeGlobal {
		return ErrGlobalSignOut
	}
	p.mu.Lock()
	tokens := p.tokens
	p.userID, p.role, p.sessionID = "", "", ""
	p.policy = sessionv1.Policy{}
	p.tokens, p.pending = nil, nil
	p.mu.Unlock()
	if tokens == nil {
		return nil
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tokens.AccessToken)
	_, err := p.client.Logout(ctx, &sessionv1.LogoutRequest{})
	return err
}

// Policy returns the policy of the last login or renewal.
func (p *Provider) Policy() sessionv1.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// AccessToken returns the current access token, or "" when signed out.
func (p *Provider) AccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens == nil {
		return ""
	}
	return p.tokens.AccessToken
}

func (p *Provider) store(resp *sessionv1.AuthResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = resp.UserID
	p.role = resp.Role
	p.policy = resp.Policy
	if resp.SessionID != "" {
		p.sessionID = resp.SessionID
	}
	if resp.MFA != nil {
		p.pending = resp.MFA
		p.tokens = nil
		return
	}
	p.pending = nil
	p.tokens = resp.Tokens
}
