package engine

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CompiledRule holds a pre-compiled CEL program for a custom rule.
type CompiledRule struct {
	Config  *domain.CustomRule
	Program cel.Program
}

// celEnv builds the CEL environment exposing the extracted signals.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("product_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("user_reputation", cel.StringType),
		cel.Variable("ip_risk", cel.StringType),
		cel.Variable("email_risk", cel.StringType),
		cel.Variable("device_fingerprint_risk", cel.StringType),
		cel.Variable("chargeback_count", cel.IntType),
		cel.Variable("latency_ms", cel.IntType),
		cel.Variable("customer_txn_30d", cel.IntType),
		cel.Variable("bin_country", cel.StringType),
		cel.Variable("ip_country", cel.StringType),
	)
}

// CompileRule compiles and validates a custom rule expression. The
// expression must produce bool (adds the rule's configured points when
// true) or int (adds the returned delta directly).
func CompileRule(cfg *domain.CustomRule) (*CompiledRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool or int, got %s", cfg.ID, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

// LoadCustomRules compiles and installs enabled rules, replacing any
// previously loaded set (hot reload). Disabled rules are skipped.
func (e *Engine) LoadCustomRules(configs []*domain.CustomRule) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		rule, err := CompileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.custom = compiled
	e.mu.Unlock()

	return nil
}

// CustomRulesCount returns the number of loaded custom rules.
func (e *Engine) CustomRulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.custom)
}

// LoadedCustomRules returns the currently loaded rule configurations.
func (e *Engine) LoadedCustomRules() []*domain.CustomRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRule, 0, len(e.custom))
	for _, r := range e.custom {
		rules = append(rules, r.Config)
	}
	return rules
}

// applyCustomRules runs the loaded custom rules against the signals.
// A rule whose evaluation errors contributes nothing: custom rules
// inherit the engine's never-fail contract.
func (e *Engine) applyCustomRules(sb *scoreBuilder, sig Signals) {
	e.mu.RLock()
	rules := e.custom
	e.mu.RUnlock()

	if len(rules) == 0 {
		return
	}

	activation := map[string]any{
		"amount":                  sig.Amount,
		"product_type":            sig.ProductType,
		"hour":                    int64(sig.Hour),
		"user_reputation":         sig.Reputation,
		"ip_risk":                 sig.IPRisk,
		"email_risk":              sig.EmailRisk,
		"device_fingerprint_risk": sig.DeviceRisk,
		"chargeback_count":        int64(sig.Chargebacks),
		"latency_ms":              int64(sig.LatencyMs),
		"customer_txn_30d":        int64(sig.Freq30d),
		"bin_country":             sig.BinCountry,
		"ip_country":              sig.IPCountry,
	}

	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			slog.Debug("custom rule evaluation failed",
				"rule_id", rule.Config.ID,
				"error", err,
			)
			continue
		}
		sb.add(customDelta(out, rule.Config.Points), rule.Config.Name)
	}
}

// customDelta converts a CEL result into a score delta.
func customDelta(val ref.Val, points int) int {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return points
		}
		return 0
	case types.Int:
		return int(v)
	default:
		return 0
	}
}
