package domain

import "time"

// EventType names a security event.
type EventType string

const (
	EventTokenPolicyComputed      EventType = "token_policy_computed"
	EventMFARequired              EventType = "mfa_required"
	EventDeviceTrustPromoted      EventType = "device_trust_promoted"
	EventSessionRegistered        EventType = "session_registered"
	EventSessionDeactivated       EventType = "session_deactivated"
	EventTokenRefreshFailed       EventType = "token_refresh_failed"
	EventPolicyComputeFailed      EventType = "policy_compute_failed"
	EventSessionBookkeepingFailed EventType = "session_bookkeeping_failed"
)

// RiskLevel grades a security event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SecurityEvent is an append-only audit record of a trust, policy or session decision.
type SecurityEvent struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	EventType   EventType      `json:"eventType"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RiskLevel   RiskLevel      `json:"riskLevel"`
	CreatedAt   time.Time      `json:"createdAt"`
}
