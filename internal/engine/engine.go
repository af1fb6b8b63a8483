// Package engine implements the deterministic risk scoring engine: a
// fixed set of weighted heuristic rules, a hard-block veto, and the
// score-to-decision mapping.
package engine

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates transaction records against an immutable Config.
// Evaluations are pure and share no state beyond the config, so one
// Engine serves any number of concurrent callers without locking on the
// scoring path. The only mutable state is the optional custom rule set,
// guarded for hot reload.
type Engine struct {
	cfg *Config

	mu     sync.RWMutex
	custom []*CompiledRule
}

// New creates an engine for the given config. The config is validated
// once here and treated as frozen afterwards.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Evaluate scores one transaction record. It never fails: every input,
// however malformed, yields a valid result. The hard block short-
// circuits all scoring; otherwise the rules run in fixed order and the
// frequency buffer runs last, after any custom rules, because it
// inspects the running total.
func (e *Engine) Evaluate(rec domain.Record) domain.Result {
	sig := ExtractSignals(rec)

	if hardBlocked(sig, e.cfg) {
		return domain.Result{
			Decision:  domain.DecisionRejected,
			RiskScore: domain.HardBlockScore,
			Reasons:   hardBlockReason,
		}
	}

	sb := &scoreBuilder{}

	applyCategoricalRisks(sb, sig, e.cfg)
	applyUserReputation(sb, sig, e.cfg)
	applyNightHour(sb, sig, e.cfg)
	applyGeoMismatch(sb, sig, e.cfg)
	applyAmountAndNewUser(sb, sig, e.cfg)
	applyLatencyExtreme(sb, sig, e.cfg)
	e.applyCustomRules(sb, sig)
	applyFrequencyBuffer(sb, sig)

	return domain.Result{
		Decision:  mapScoreToDecision(sb.score, e.cfg),
		RiskScore: sb.score,
		Reasons:   sb.trail(),
	}
}
