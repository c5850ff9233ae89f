// Package auth defines what the device trust core needs from the authentication provider.
package auth

import "context"

// Scope limits a sign-out.
type Scope int

const (
	// ScopeLocal signs out the current execution context only.
	ScopeLocal Scope = iota
	// ScopeGlobal revokes every session of the user.
	ScopeGlobal
)

func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "local"
}

// Provider is the authentication provider of one execution context.
type Provider interface {
	CurrentRole(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) error
	SignOut(ctx context.Context, scope Scope) error
}
