package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"devicetrust/internal/policy/domain"
)

const decisionQuery = "data.devicetrust.token_policy.decision"

// DefaultRegoPolicy expresses the lifetime and MFA rules over the table passed in as input.
const DefaultRegoPolicy = `package devicetrust.token_policy

row = input.table[input.role] if {
	input.table[input.role]
}

row = input.table.user if {
	not input.table[input.role]
}

lifetime_minutes = row.new_device_minutes if {
	input.is_new_device
}

lifetime_minutes = row.new_device_minutes if {
	not input.is_new_device
	not input.is_device_trusted
}

lifetime_minutes = row.known_device_minutes if {
	not input.is_new_device
	input.is_device_trusted
}

default requires_mfa = false

requires_mfa if {
	input.role in input.elevated
}

requires_mfa if {
	input.is_new_device
	lifetime_minutes >= input.mfa_threshold_minutes
}

decision := {
	"lifetime_minutes": lifetime_minutes,
	"requires_mfa": requires_mfa,
}
`

// RuleSource supplies stored Rego overrides. A nil result means "use the default policy".
type RuleSource interface {
	ActiveRules(ctx context.Context) (*domain.Rules, error)
}

// OPAEvaluator evaluates the token policy with in-process OPA Rego.
// Stored rules replace the default policy; they must define data.devicetrust.token_policy.decision.
type OPAEvaluator struct {
	rules RuleSource

	mu       sync.Mutex
	source   string
	prepared *rego.PreparedEvalQuery
}

// NewOPAEvaluator returns an OPA-based evaluator. rules may be nil.
func NewOPAEvaluator(rules RuleSource) *OPAEvaluator {
	return &OPAEvaluator{rules: rules}
}

// HealthCheck verifies that the default policy compiles and yields a decision.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := prepare(ctx, DefaultRegoPolicy)
	if err != nil {
		return err
	}
	_, err = evalDecision(ctx, q, Input{
		Role:                domain.RoleUser,
		IsNewDevice:         true,
		Table:               domain.DefaultTable(),
		Elevated:            domain.DefaultElevated(),
		MFAThresholdMinutes: domain.DefaultMFAThresholdMinutes,
	})
	return err
}

// Evaluate runs the active policy against in.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	q, err := e.query(ctx)
	if err != nil {
		return Decision{}, err
	}
	return evalDecision(ctx, q, in)
}

// query returns the prepared query for the active rules, recompiling only when they change.
func (e *OPAEvaluator) query(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	source := DefaultRegoPolicy
	if e.rules != nil {
		stored, err := e.rules.ActiveRules(ctx)
		if err != nil {
			zap.L().Warn("policy: failed to load stored rules, using default policy", zap.Error(err))
		} else if stored != nil && stored.Rules != "" {
			source = stored.Rules
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared != nil && e.source == source {
		return e.prepared, nil
	}
	q, err := prepare(ctx, source)
	if err != nil {
		return nil, err
	}
	e.source, e.prepared = source, q
	return q, nil
}

func prepare(ctx context.Context, source string) (*rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"token_policy.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(rego.Query(decisionQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &q, nil
}

func evalDecision(ctx context.Context, q *rego.PreparedEvalQuery, in Input) (Decision, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy returned no decision")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy decision has type %T", rs[0].Expressions[0].Value)
	}
	lifetime, err := toInt(obj["lifetime_minutes"])
	if err != nil {
		return Decision{}, fmt.Errorf("lifetime_minutes: %w", err)
	}
	mfa, ok := obj["requires_mfa"].(bool)
	if !ok {
		return Decision{}, fmt.Errorf("requires_mfa has type %T", obj["requires_mfa"])
	}
	return Decision{LifetimeMinutes: lifetime, RequiresMFA: mfa}, nil
}

func buildInput(in Input) map[string]interface{} {
	table := make(map[string]interface{}, len(in.Table))
	for role, row := range in.Table {
		table[role] = map[string]interface{}{
			"new_device_minutes":   row.NewDeviceMinutes,
			"known_device_minutes": row.KnownDeviceMinutes,
		}
	}
	elevated := make([]interface{}, len(in.Elevated))
	for i, r := range in.Elevated {
		elevated[i] = r
	}
	return map[string]interface{}{
		"role":                  in.Role,
		"is_new_device":         in.IsNewDevice,
		"is_device_trusted":     in.IsDeviceTrusted,
		"table":                 table,
		"elevated":              elevated,
		"mfa_threshold_minutes": in.MFAThresholdMinutes,
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
