package engine

import (
	"context"
	"fmt"
	"slices"

	"devicetrust/internal/policy/domain"
)

// Input is what an evaluator decides on. Role is already normalized.
type Input struct {
	Role                string
	IsNewDevice         bool
	IsDeviceTrusted     bool
	Table               map[string]domain.RoleLifetimes
	Elevated            []string
	MFAThresholdMinutes int
}

// Decision is an evaluator's answer.
type Decision struct {
	LifetimeMinutes int
	RequiresMFA     bool
}

// Evaluator computes a token lifetime and MFA requirement.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// TableEvaluator applies the lifetime table directly.
type TableEvaluator struct{}

// Evaluate picks the role's row (unknown roles use the user row), then applies the
// lifetime and MFA rules.
func (TableEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	row, ok := in.Table[in.Role]
	if !ok {
		row, ok = in.Table[domain.RoleUser]
		if !ok {
			return Decision{}, fmt.Errorf("lifetime table has no %q row", domain.RoleUser)
		}
	}
	lifetime := row.KnownDeviceMinutes
	if in.IsNewDevice || !in.IsDeviceTrusted {
		lifetime = row.NewDeviceMinutes
	}
	mfa := slices.Contains(in.Elevated, in.Role) || (in.IsNewDevice && lifetime >= in.MFAThresholdMinutes)
	return Decision{LifetimeMinutes: lifetime, RequiresMFA: mfa}, nil
}
