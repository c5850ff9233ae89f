package domain

import "time"

// Challenge is a pending second-factor step for one login. It carries the decision made at
// login so completion can issue tokens without recomputing against a half-updated session.
type Challenge struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	Role            string    `json:"role"`
	StableID        string    `json:"stable_id"`
	Fingerprint     string    `json:"fingerprint"`
	IsNewDevice     bool      `json:"is_new_device"`
	IsDeviceTrusted bool      `json:"is_device_trusted"`
	LifetimeMinutes int       `json:"lifetime_minutes"`
	CodeHash        string    `json:"code_hash"`
	Attempts        int       `json:"attempts"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}
