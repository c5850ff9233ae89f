package security

import (
	"testing"
	"time"
)

var testSubject = Subject{UserID: "u1", SessionID: "s1", Role: "admin", StableID: "dev-1", Fingerprint: "fp-1"}

func TestTokenProvider_AccessTTLFollowsPolicy(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	for _, minutes := range []int{5, 15, 30} {
		got, err := p.IssueAccess(testSubject, time.Duration(minutes)*time.Minute)
		if err != nil {
			t.Fatalf("IssueAccess(%d): %v", minutes, err)
		}
		if want := fixed.Add(time.Duration(minutes) * time.Minute); !got.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
		}
		claims, err := p.ValidateAccess(got.Token)
		if err != nil {
			t.Fatalf("ValidateAccess: %v", err)
		}
		if claims.Subject != "u1" || claims.SessionID != "s1" || claims.Role != "admin" || claims.ID != got.JTI {
			t.Errorf("claims = %+v", claims)
		}
	}
}

func TestTokenProvider_AccessRejectsNonPositiveTTL(t *testing.T) {
	p, _ := NewTestTokenProvider()
	if _, err := p.IssueAccess(testSubject, 0); err != ErrInvalidTTL {
		t.Errorf("err = %v, want ErrInvalidTTL", err)
	}
}

func TestTokenProvider_AccessExpires(t *testing.T) {
	p, _ := NewTestTokenProvider()
	start := time.Now().UTC()
	p.now = func() time.Time { return start }
	tok, err := p.IssueAccess(testSubject, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p.now = func() time.Time { return start.Add(11 * time.Minute) }
	if _, err := p.ValidateAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("expired token: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_RefreshRoundTrip(t *testing.T) {
	p, _ := NewTestTokenProvider()
	tok, err := p.IssueRefresh(testSubject)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if tok.ExpiresAt.Before(time.Now().Add(23 * time.Hour)) {
		t.Errorf("refresh expiry %v shorter than the configured TTL", tok.ExpiresAt)
	}
	claims, err := p.ValidateRefresh(tok.Token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if got := claims.AsSubject(); got != testSubject {
		t.Errorf("subject = %+v, want %+v", got, testSubject)
	}
}

func TestTokenProvider_TokensOnlyValidForTheirUse(t *testing.T) {
	p, _ := NewTestTokenProvider()
	access, err := p.IssueAccess(testSubject, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	refresh, err := p.IssueRefresh(testSubject)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ValidateAccess(refresh.Token); err != ErrInvalidToken {
		t.Errorf("refresh token as access: err = %v, want ErrInvalidToken", err)
	}
	if _, err := p.ValidateRefresh(access.Token); err != ErrInvalidToken {
		t.Errorf("access token as refresh: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_RejectsForeignIssuerAndGarbage(t *testing.T) {
	p, _ := NewTestTokenProvider()
	clone := *p
	other := &clone
	other.issuer = "someone-else"
	tok, _ := other.IssueAccess(testSubject, time.Minute)

	if _, err := p.ValidateAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("foreign issuer: err = %v", err)
	}
	if _, err := p.ValidateRefresh("invalid-token"); err != ErrInvalidToken {
		t.Errorf("garbage refresh: err = %v", err)
	}
	other.issuer = p.issuer
	other.audience = "other-audience"
	tok, _ = other.IssueAccess(testSubject, time.Minute)
	if _, err := p.ValidateAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("foreign audience: err = %v", err)
	}
}

func TestTokenProvider_RSAKeys(t *testing.T) {
	keys, err := LoadKeyPair(rsaPrivatePEM, rsaPublicPEM)
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	p := NewTokenProvider(keys, "iss", "aud", time.Hour)
	tok, err := p.IssueAccess(testSubject, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ValidateAccess(tok.Token); err != nil {
		t.Errorf("ValidateAccess: %v", err)
	}

	ephemeral, _ := NewTestTokenProvider()
	if _, err := ephemeral.ValidateAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("token from another key: err = %v, want ErrInvalidToken", err)
	}
}
