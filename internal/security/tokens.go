package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTTL is returned when an access token is requested with a non-positive lifetime.
	ErrInvalidTTL = errors.New("token lifetime must be positive")
)

// Subject is who a token is issued to: a user on one device session.
type Subject struct {
	UserID      string
	SessionID   string
	Role        string
	StableID    string
	Fingerprint string
}

// AccessClaims holds JWT claims for the access token. Its lifetime is the computed token policy lifetime.
type AccessClaims struct {
	jwt.RegisteredClaims
	Use       string `json:"use"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

// RefreshClaims holds JWT claims for the refresh token. The device keys let the refresh path
// re-evaluate trust without trusting anything the client sends.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Use         string `json:"use"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	StableID    string `json:"sid,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
}

// AsSubject returns who the refresh token was issued to.
func (c *RefreshClaims) AsSubject() Subject {
	return Subject{UserID: c.RegisteredClaims.Subject, SessionID: c.SessionID, Role: c.Role, StableID: c.StableID, Fingerprint: c.Fingerprint}
}

// Values of the use claim. A token is only accepted where its use matches.
const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Issued is a signed token with its id and expiry.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256, ES256 or ES384.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with keys.Signer and verifying with keys.Public.
// issuer and audience are set on claims and validated on parse. Access token lifetimes are chosen per call.
func NewTokenProvider(keys KeyPair, issuer, audience string, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: keys.Signer,
		publicKey:  keys.Public,
		issuer:     issuer,
		audience:   audience,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IssueAccess issues an access JWT that expires after ttl.
func (p *TokenProvider) IssueAccess(sub Subject, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		return Issued{}, ErrInvalidTTL
	}
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.now()
	claims := AccessClaims{
		RegisteredClaims: p.registered(jti, sub.UserID, now, now.Add(ttl)),
		Use:              useAccess,
		SessionID:        sub.SessionID,
		Role:             sub.Role,
	}
	token, err := p.sign(claims)
	return Issued{Token: token, JTI: jti, ExpiresAt: claims.ExpiresAt.Time}, err
}

// IssueRefresh issues a long-lived refresh JWT bound to the session and device.
func (p *TokenProvider) IssueRefresh(sub Subject) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.now()
	claims := RefreshClaims{
		RegisteredClaims: p.registered(jti, sub.UserID, now, now.Add(p.refreshTTL)),
		Use:              useRefresh,
		SessionID:        sub.SessionID,
		Role:             sub.Role,
		StableID:         sub.StableID,
		Fingerprint:      sub.Fingerprint,
	}
	token, err := p.sign(claims)
	return Issued{Token: token, JTI: jti, ExpiresAt: claims.ExpiresAt.Time}, err
}

func (p *TokenProvider) registered(jti, userID string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   userID,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	method := jwt.GetSigningMethod(KeyAlg(p.privateKey.Public()))
	if method == nil {
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// ValidateRefresh parses and validates the refresh token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != useRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != useAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type registeredGetter interface {
	jwt.Claims
	GetIssuer() (string, error)
	GetAudience() (jwt.ClaimStrings, error)
}

func (p *TokenProvider) parse(tokenString string, claims registeredGetter) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	if iss, _ := claims.GetIssuer(); iss != p.issuer {
		return ErrInvalidToken
	}
	if aud, _ := claims.GetAudience(); !slices.Contains(aud, p.audience) {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
