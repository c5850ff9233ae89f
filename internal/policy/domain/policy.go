package domain

import (
	"strings"
	"time"
)

// Role names as they appear after normalization.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

// DefaultMFAThresholdMinutes is the new-device lifetime from which a second factor is required.
const DefaultMFAThresholdMinutes = 20

// TokenPolicy is the token lifetime and second-factor requirement for one login or refresh.
// It is recomputed at every decision point and never cached.
type TokenPolicy struct {
	Role            string `json:"role"`
	IsNewDevice     bool   `json:"isNewDevice"`
	IsDeviceTrusted bool   `json:"isDeviceTrusted"`
	LifetimeMinutes int    `json:"lifetimeMinutes"`
	RequiresMFA     bool   `json:"requiresMfa"`
}

// Lifetime returns the token lifetime as a duration.
func (p TokenPolicy) Lifetime() time.Duration {
	return time.Duration(p.LifetimeMinutes) * time.Minute
}

// RoleLifetimes is one row of the lifetime table.
type RoleLifetimes struct {
	NewDeviceMinutes   int `json:"new_device_minutes"`
	KnownDeviceMinutes int `json:"known_device_minutes"`
}

// DefaultTable returns the built-in lifetime table.
func DefaultTable() map[string]RoleLifetimes {
	return map[string]RoleLifetimes{
		RoleSuperAdmin: {NewDeviceMinutes: 10, KnownDeviceMinutes: 15},
		RoleAdmin:      {NewDeviceMinutes: 15, KnownDeviceMinutes: 30},
		RoleModerator:  {NewDeviceMinutes: 20, KnownDeviceMinutes: 30},
		RoleUser:       {NewDeviceMinutes: 20, KnownDeviceMinutes: 30},
		RoleGuest:      {NewDeviceMinutes: 5, KnownDeviceMinutes: 10},
	}
}

// DefaultElevated returns the roles that always require a second factor.
func DefaultElevated() []string {
	return []string{RoleSuperAdmin, RoleAdmin}
}

// NormalizeRole lower-cases role and folds the common spellings of multi-word roles onto underscores.
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.NewReplacer("-", "_", " ", "_").Replace(r)
	if r == "superadmin" {
		return RoleSuperAdmin
	}
	return r
}

// Rules is a stored Rego override for the token policy.
type Rules struct {
	ID        string    `db:"id"`
	Rules     string    `db:"rules"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}
