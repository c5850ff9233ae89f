// Package sessionv1 is the wire contract of devicetrust.v1.SessionService.
//
// Messages travel as google.protobuf.Struct so the service needs no generated code; each Go message
// below is mapped onto a Struct through its JSON form.
package sessionv1

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Device is the resolved device identity sent with a login.
type Device struct {
	StableID     string `json:"stableId"`
	Fingerprint  string `json:"fingerprint"`
	IsNative     bool   `json:"isNative,omitempty"`
	Model        string `json:"model,omitempty"`
	Platform     string `json:"platform,omitempty"`
	OSVersion    string `json:"osVersion,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// LoginRequest is a password login from one device.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Device     Device `json:"device"`
	UserAgent  string `json:"userAgent,omitempty"`
	Standalone bool   `json:"standalone,omitempty"`
}

// CompleteMFARequest answers the challenge returned by Login.
type CompleteMFARequest struct {
	UserID      string `json:"userId"`
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// RefreshRequest renews the token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest signs out the session named by the caller's access token.
type LogoutRequest struct{}

// LogoutResponse is empty.
type LogoutResponse struct{}

// ListSessionsRequest lists the caller's active device sessions.
type ListSessionsRequest struct{}

// Policy is the token policy decided for this device.
type Policy struct {
	Role            string `json:"role"`
	IsNewDevice     bool   `json:"isNewDevice"`
	IsDeviceTrusted bool   `json:"isDeviceTrusted"`
	LifetimeMinutes int    `json:"lifetimeMinutes"`
	RequiresMFA     bool   `json:"requiresMfa"`
}

// Tokens is an issued credential set.
type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Challenge is a pending second factor.
type Challenge struct {
	ChallengeID string    `json:"challengeId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	DevOTP      string    `json:"devOtp,omitempty"`
}

// AuthResponse is returned by Login, CompleteMFA and Refresh. Exactly one of Tokens and MFA is set.
type AuthResponse struct {
	UserID    string     `json:"userId"`
	Role      string     `json:"role"`
	SessionID string     `json:"sessionId"`
	Policy    Policy     `json:"policy"`
	Tokens    *Tokens    `json:"tokens,omitempty"`
	MFA       *Challenge `json:"mfa,omitempty"`
}

// Session is one active device session.
type Session struct {
	ID           string    `json:"id"`
	DeviceName   string    `json:"deviceName"`
	DeviceType   string    `json:"deviceType"`
	Platform     string    `json:"platform"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	City         string    `json:"city,omitempty"`
	Country      string    `json:"country,omitempty"`
	IsTrusted    bool      `json:"isTrusted"`
	LoginCount   int       `json:"loginCount"`
	LastActivity time.Time `json:"lastActivity"`
	Current      bool      `json:"current"`
}

// ListSessionsResponse carries the caller's active sessions, most recent first.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// Encode maps msg onto a Struct through its JSON form.
func Encode(msg any) (*structpb.Struct, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode fills msg from s.
func Decode(s *structpb.Struct, msg any) error {
	if s == nil {
		return nil
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, msg)
}
