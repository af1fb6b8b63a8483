package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// hardBlockReason is the fixed reason literal for the hard-block veto.
// The literal is intentionally constant even when chargeback_hard_block
// is tuned, so downstream log parsers match a single string.
const hardBlockReason = "hard_block:chargebacks>=2+ip_high"

// isNight reports whether the hour falls in the night window. Both ends
// are inclusive: 22,23,0,1,2,3,4,5.
func isNight(hour int) bool {
	return hour >= 22 || hour <= 5
}

// hardBlocked is the absolute veto: chargeback history combined with a
// high-risk network origin is treated as near-certain fraud regardless
// of every other signal.
func hardBlocked(sig Signals, cfg *Config) bool {
	return sig.Chargebacks >= cfg.ChargebackHardBlock && sig.IPRisk == "high"
}

// applyCategoricalRisks scores the ip / email / device risk ratings.
// Unknown levels map to 0 points and emit no reason.
func applyCategoricalRisks(sb *scoreBuilder, sig Signals, cfg *Config) {
	for _, c := range []struct {
		name   string
		level  string
		weight Weight
	}{
		{"ip_risk", sig.IPRisk, cfg.ScoreWeights.IPRisk},
		{"email_risk", sig.EmailRisk, cfg.ScoreWeights.EmailRisk},
		{"device_fingerprint_risk", sig.DeviceRisk, cfg.ScoreWeights.DeviceRisk},
	} {
		sb.add(c.weight.ForLevel(c.level), fmt.Sprintf("%s:%s", c.name, c.level))
	}
}

// applyUserReputation scores the reputation tier. Unlike the other
// categorical rules it always records a reason, zero delta included,
// with an explicit sign.
func applyUserReputation(sb *scoreBuilder, sig Signals, cfg *Config) {
	points := cfg.ScoreWeights.UserReputation.ForLevel(sig.Reputation)
	sb.note(fmt.Sprintf("user_reputation:%s(%+d)", sig.Reputation, points))
	sb.score += points
}

func applyNightHour(sb *scoreBuilder, sig Signals, cfg *Config) {
	if isNight(sig.Hour) {
		sb.add(cfg.ScoreWeights.NightHour.Points(), fmt.Sprintf("night_hour:%d", sig.Hour))
	}
}

func applyGeoMismatch(sb *scoreBuilder, sig Signals, cfg *Config) {
	if sig.BinCountry != "" && sig.IPCountry != "" && sig.BinCountry != sig.IPCountry {
		sb.add(cfg.ScoreWeights.GeoMismatch.Points(),
			fmt.Sprintf("geo_mismatch:%s!=%s", sig.BinCountry, sig.IPCountry))
	}
}

// applyAmountAndNewUser scores high amounts against the product-type
// threshold. The new-user surcharge is only reachable when the amount
// rule itself fired; it is not an independent rule.
func applyAmountAndNewUser(sb *scoreBuilder, sig Signals, cfg *Config) {
	if sig.Amount < cfg.AmountThreshold(sig.ProductType) {
		return
	}
	sb.add(cfg.ScoreWeights.HighAmount.Points(),
		fmt.Sprintf("high_amount:%s:%s", sig.ProductType, formatAmount(sig.Amount)))
	if sig.Reputation == "new" {
		sb.add(cfg.ScoreWeights.NewUserHighAmount.Points(), "new_user_high_amount")
	}
}

func applyLatencyExtreme(sb *scoreBuilder, sig Signals, cfg *Config) {
	if sig.LatencyMs >= cfg.LatencyMsExtreme {
		sb.add(cfg.ScoreWeights.LatencyExtreme.Points(),
			fmt.Sprintf("latency_extreme:%dms", sig.LatencyMs))
	}
}

// applyFrequencyBuffer is the trust dampener. It must run after every
// additive rule because it inspects the running total: established users
// with recent activity get exactly one point back, and only while the
// score is strictly positive, so it can never push a score below zero.
func applyFrequencyBuffer(sb *scoreBuilder, sig Signals) {
	established := sig.Reputation == "recurrent" || sig.Reputation == "trusted"
	if established && sig.Freq30d >= 3 && sb.score > 0 {
		sb.score--
		sb.note("frequency_buffer(-1)")
	}
}

// mapScoreToDecision converts the final score into the three-way
// decision. Both comparisons are inclusive, so a score equal to a
// threshold lands in the more severe bucket.
func mapScoreToDecision(score int, cfg *Config) string {
	switch {
	case score >= cfg.ScoreToDecision.RejectAt:
		return domain.DecisionRejected
	case score >= cfg.ScoreToDecision.ReviewAt:
		return domain.DecisionInReview
	default:
		return domain.DecisionAccepted
	}
}

// formatAmount renders amounts the way historical reason trails do:
// whole values keep one decimal place (5200 -> "5200.0"), fractional
// values print their shortest form.
func formatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
