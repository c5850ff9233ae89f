// Package engine computes adaptive token policies: how long a token lives and whether a second
// factor is required, given the role and the device's novelty and trust.
package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"devicetrust/internal/errs"
	"devicetrust/internal/policy/domain"
)

// Config is the policy configuration. Zero fields take the defaults.
type Config struct {
	Table               map[string]domain.RoleLifetimes
	Elevated            []string
	MFAThresholdMinutes int
}

// Engine computes token policies. It never fails open: any evaluator error or panic yields
// the fallback policy.
type Engine struct {
	eval      Evaluator
	table     map[string]domain.RoleLifetimes
	elevated  []string
	threshold int
}

// New returns an Engine using eval. A nil eval uses TableEvaluator.
func New(eval Evaluator, cfg Config) *Engine {
	if eval == nil {
		eval = TableEvaluator{}
	}
	table := cfg.Table
	if len(table) == 0 {
		table = domain.DefaultTable()
	}
	normalized := make(map[string]domain.RoleLifetimes, len(table))
	for role, row := range table {
		normalized[domain.NormalizeRole(role)] = row
	}
	elevated := cfg.Elevated
	if elevated == nil {
		elevated = domain.DefaultElevated()
	}
	el := make([]string, len(elevated))
	for i, r := range elevated {
		el[i] = domain.NormalizeRole(r)
	}
	threshold := cfg.MFAThresholdMinutes
	if threshold <= 0 {
		threshold = domain.DefaultMFAThresholdMinutes
	}
	return &Engine{eval: eval, table: normalized, elevated: el, threshold: threshold}
}

// Compute returns the policy for role on a device. Failures are logged and replaced by Fallback.
func (e *Engine) Compute(ctx context.Context, role string, isNewDevice, isDeviceTrusted bool) domain.TokenPolicy {
	p, err := e.Decide(ctx, role, isNewDevice, isDeviceTrusted)
	if err != nil {
		zap.L().Warn("policy: computation failed, using restrictive fallback",
			zap.String("role", role),
			zap.Bool("new_device", isNewDevice),
			zap.Error(err))
	}
	return p
}

// Decide is Compute with the failure reported. The returned policy is always usable:
// on error it is the fallback, and err is of kind errs.KindPolicyComputeFailed.
func (e *Engine) Decide(ctx context.Context, role string, isNewDevice, isDeviceTrusted bool) (p domain.TokenPolicy, err error) {
	const op = "engine.Compute"
	normalized := domain.NormalizeRole(role)
	defer func() {
		if r := recover(); r != nil {
			p = e.Fallback(normalized, isNewDevice, isDeviceTrusted)
			err = errs.E(errs.KindPolicyComputeFailed, op, fmt.Errorf("panic: %v", r))
		}
	}()

	d, evalErr := e.eval.Evaluate(ctx, Input{
		Role:                normalized,
		IsNewDevice:         isNewDevice,
		IsDeviceTrusted:     isDeviceTrusted,
		Table:               maps.Clone(e.table),
		Elevated:            slices.Clone(e.elevated),
		MFAThresholdMinutes: e.threshold,
	})
	if evalErr == nil && d.LifetimeMinutes <= 0 {
		evalErr = fmt.Errorf("non-positive lifetime %d", d.LifetimeMinutes)
	}
	if evalErr != nil {
		return e.Fallback(normalized, isNewDevice, isDeviceTrusted), errs.E(errs.KindPolicyComputeFailed, op, evalErr)
	}
	return domain.TokenPolicy{
		Role:            normalized,
		IsNewDevice:     isNewDevice,
		IsDeviceTrusted: isDeviceTrusted,
		LifetimeMinutes: d.LifetimeMinutes,
		RequiresMFA:     d.RequiresMFA,
	}, nil
}

// Fallback is the most restrictive policy: the user new-device lifetime with a second factor required.
func (e *Engine) Fallback(role string, isNewDevice, isDeviceTrusted bool) domain.TokenPolicy {
	minutes := domain.DefaultTable()[domain.RoleUser].NewDeviceMinutes
	if row, ok := e.table[domain.RoleUser]; ok && row.NewDeviceMinutes > 0 {
		minutes = row.NewDeviceMinutes
	}
	return domain.TokenPolicy{
		Role:            role,
		IsNewDevice:     isNewDevice,
		IsDeviceTrusted: isDeviceTrusted,
		LifetimeMinutes: minutes,
		RequiresMFA:     true,
	}
}

// Threshold returns the configured MFA threshold in minutes.
func (e *Engine) Threshold() int { return e.threshold }
