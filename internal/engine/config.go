package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DefaultProductKey is the fallback key in the amount threshold table.
// It must always be present; Validate enforces this.
const DefaultProductKey = "_default"

// Weight is a rule weight entry: either a flat point value or a mapping
// from categorical level to points. Exactly one variant is set.
type Weight struct {
	flat   int
	levels map[string]int
}

// Flat returns a flat-point weight.
func Flat(points int) Weight {
	return Weight{flat: points}
}

// ByLevel returns a per-level weight mapping.
func ByLevel(levels map[string]int) Weight {
	return Weight{levels: levels}
}

// IsLeveled reports whether the weight maps categorical levels to points.
func (w Weight) IsLeveled() bool {
	return w.levels != nil
}

// Points returns the flat point value.
func (w Weight) Points() int {
	return w.flat
}

// ForLevel returns the points for a categorical level, or 0 when the
// level is not in the mapping.
func (w Weight) ForLevel(level string) int {
	return w.levels[level]
}

// MarshalJSON keeps the original config wire shape: flat weights are bare
// integers, leveled weights are objects.
func (w Weight) MarshalJSON() ([]byte, error) {
	if w.levels != nil {
		return json.Marshal(w.levels)
	}
	return json.Marshal(w.flat)
}

// UnmarshalJSON accepts either a bare integer or a level-to-points object.
func (w *Weight) UnmarshalJSON(data []byte) error {
	var flat int
	if err := json.Unmarshal(data, &flat); err == nil {
		*w = Flat(flat)
		return nil
	}
	var levels map[string]int
	if err := json.Unmarshal(data, &levels); err != nil {
		return fmt.Errorf("weight must be an integer or a level map: %w", err)
	}
	*w = ByLevel(levels)
	return nil
}

// Weights holds the per-rule score weights.
type Weights struct {
	IPRisk            Weight `json:"ip_risk"`
	EmailRisk         Weight `json:"email_risk"`
	DeviceRisk        Weight `json:"device_fingerprint_risk"`
	UserReputation    Weight `json:"user_reputation"`
	NightHour         Weight `json:"night_hour"`
	GeoMismatch       Weight `json:"geo_mismatch"`
	HighAmount        Weight `json:"high_amount"`
	LatencyExtreme    Weight `json:"latency_extreme"`
	NewUserHighAmount Weight `json:"new_user_high_amount"`
}

// ScoreToDecision holds the two decision thresholds.
// Invariant: RejectAt >= ReviewAt.
type ScoreToDecision struct {
	RejectAt int `json:"reject_at"`
	ReviewAt int `json:"review_at"`
}

// Config is the immutable rule-engine configuration: one snapshot is
// built at startup, validated, and shared read-only by every evaluation.
type Config struct {
	AmountThresholds    map[string]float64 `json:"amount_thresholds"`
	LatencyMsExtreme    int                `json:"latency_ms_extreme"`
	ChargebackHardBlock int                `json:"chargeback_hard_block"`
	ScoreWeights        Weights            `json:"score_weights"`
	ScoreToDecision     ScoreToDecision    `json:"score_to_decision"`
}

// DefaultConfig returns the stock scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		AmountThresholds: map[string]float64{
			"digital":        2500,
			"physical":       6000,
			"subscription":   1500,
			DefaultProductKey: 4000,
		},
		LatencyMsExtreme:    2500,
		ChargebackHardBlock: 2,
		ScoreWeights: Weights{
			IPRisk:            ByLevel(map[string]int{"low": 0, "medium": 2, "high": 4}),
			EmailRisk:         ByLevel(map[string]int{"low": 0, "medium": 1, "high": 3, "new_domain": 2}),
			DeviceRisk:        ByLevel(map[string]int{"low": 0, "medium": 2, "high": 4}),
			UserReputation:    ByLevel(map[string]int{"trusted": -2, "recurrent": -1, "new": 0, "high_risk": 4}),
			NightHour:         Flat(1),
			GeoMismatch:       Flat(2),
			HighAmount:        Flat(2),
			LatencyExtreme:    Flat(2),
			NewUserHighAmount: Flat(2),
		},
		ScoreToDecision: ScoreToDecision{
			RejectAt: 10,
			ReviewAt: 4,
		},
	}
}

// Validate checks the configuration integrity invariants. A config that
// fails validation must be rejected at startup; evaluating with it would
// produce silently wrong decisions.
func (c *Config) Validate() error {
	if len(c.AmountThresholds) == 0 {
		return fmt.Errorf("amount_thresholds is empty")
	}
	if _, ok := c.AmountThresholds[DefaultProductKey]; !ok {
		return fmt.Errorf("amount_thresholds is missing the %q fallback", DefaultProductKey)
	}
	if c.ScoreToDecision.RejectAt < c.ScoreToDecision.ReviewAt {
		return fmt.Errorf("score_to_decision: reject_at (%d) must be >= review_at (%d)",
			c.ScoreToDecision.RejectAt, c.ScoreToDecision.ReviewAt)
	}
	if c.ChargebackHardBlock <= 0 {
		return fmt.Errorf("chargeback_hard_block must be positive, got %d", c.ChargebackHardBlock)
	}
	for name, w := range map[string]Weight{
		"ip_risk":                 c.ScoreWeights.IPRisk,
		"email_risk":              c.ScoreWeights.EmailRisk,
		"device_fingerprint_risk": c.ScoreWeights.DeviceRisk,
		"user_reputation":         c.ScoreWeights.UserReputation,
	} {
		if !w.IsLeveled() {
			return fmt.Errorf("score_weights.%s must map levels to points", name)
		}
	}
	return nil
}

// Overrides are the startup-time tuning knobs. Nil fields leave the
// corresponding default untouched.
type Overrides struct {
	RejectAt *int
	ReviewAt *int
}

// Apply returns a copy of the config with the overrides applied. The
// receiver is not modified; the result must still pass Validate.
func (c *Config) Apply(o Overrides) *Config {
	out := *c
	out.AmountThresholds = make(map[string]float64, len(c.AmountThresholds))
	for k, v := range c.AmountThresholds {
		out.AmountThresholds[k] = v
	}
	if o.RejectAt != nil {
		out.ScoreToDecision.RejectAt = *o.RejectAt
	}
	if o.ReviewAt != nil {
		out.ScoreToDecision.ReviewAt = *o.ReviewAt
	}
	return &out
}

// OverridesFromEnv reads REJECT_AT and REVIEW_AT. Unset or non-integer
// values are ignored rather than failing startup.
func OverridesFromEnv() Overrides {
	var o Overrides
	if v, err := strconv.Atoi(os.Getenv("REJECT_AT")); err == nil {
		o.RejectAt = &v
	}
	if v, err := strconv.Atoi(os.Getenv("REVIEW_AT")); err == nil {
		o.ReviewAt = &v
	}
	return o
}

// AmountThreshold returns the high-amount threshold for a product type,
// falling back to the default entry for unknown types.
func (c *Config) AmountThreshold(productType string) float64 {
	if t, ok := c.AmountThresholds[productType]; ok {
		return t
	}
	return c.AmountThresholds[DefaultProductKey]
}
