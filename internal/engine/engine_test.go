package engine

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestTrustedUserLowRiskAccepted(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"amount_mxn":              250.0,
		"product_type":            "physical",
		"customer_txn_30d":        45,
		"chargeback_count":        0,
		"hour":                    14,
		"latency_ms":              95,
		"user_reputation":         "trusted",
		"ip_risk":                 "low",
		"email_risk":              "low",
		"device_fingerprint_risk": "low",
		"bin_country":             "MX",
		"ip_country":              "MX",
	})

	if res.Decision != domain.DecisionAccepted {
		t.Errorf("expected ACCEPTED, got %s", res.Decision)
	}
	if res.RiskScore != -2 {
		t.Errorf("expected score -2 (trusted reputation only), got %d", res.RiskScore)
	}
	if res.Reasons != "user_reputation:trusted(-2)" {
		t.Errorf("unexpected reasons: %q", res.Reasons)
	}
}

func TestNewUserHighAmountNightInReview(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"amount_mxn":       5200.0,
		"product_type":     "digital",
		"hour":             23,
		"user_reputation":  "new",
		"ip_risk":          "medium",
		"email_risk":       "new_domain",
		"chargeback_count": 0,
		"bin_country":      "MX",
		"ip_country":       "MX",
		"latency_ms":       180,
	})

	// medium ip (+2) + new_domain email (+2) + night (+1) + high amount
	// (+2) + new user surcharge (+2) = 9, between review_at and reject_at.
	if res.RiskScore != 9 {
		t.Fatalf("expected score 9, got %d (reasons: %s)", res.RiskScore, res.Reasons)
	}
	if res.Decision != domain.DecisionInReview {
		t.Errorf("expected IN_REVIEW, got %s", res.Decision)
	}

	want := []string{
		"ip_risk:medium(+2)",
		"email_risk:new_domain(+2)",
		"user_reputation:new(+0)",
		"night_hour:23(+1)",
		"high_amount:digital:5200.0(+2)",
		"new_user_high_amount(+2)",
	}
	got := strings.Split(res.Reasons, ";")
	if len(got) != len(want) {
		t.Fatalf("expected %d reasons, got %d: %q", len(want), len(got), res.Reasons)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reason %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestHardBlockShortCircuits(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"chargeback_count": 2,
		"ip_risk":          "high",
		"amount_mxn":       300.0,
		"user_reputation":  "trusted",
		"hour":             14,
	})

	if res.Decision != domain.DecisionRejected {
		t.Errorf("expected REJECTED, got %s", res.Decision)
	}
	if res.RiskScore != domain.HardBlockScore {
		t.Errorf("expected sentinel score %d, got %d", domain.HardBlockScore, res.RiskScore)
	}
	if res.Reasons != "hard_block:chargebacks>=2+ip_high" {
		t.Errorf("expected fixed hard block literal, got %q", res.Reasons)
	}
}

func TestHardBlockPrecedence(t *testing.T) {
	e := newTestEngine(t)

	// The veto must win regardless of every other field.
	for _, rec := range []domain.Record{
		{"chargeback_count": 2, "ip_risk": "high"},
		{"chargeback_count": 5, "ip_risk": "HIGH", "user_reputation": "trusted", "customer_txn_30d": 100},
		{"chargeback_count": "3", "ip_risk": "high", "amount_mxn": 1.0, "hour": 12},
	} {
		res := e.Evaluate(rec)
		if res.Decision != domain.DecisionRejected || res.RiskScore != domain.HardBlockScore {
			t.Errorf("record %v: expected hard block, got %s/%d", rec, res.Decision, res.RiskScore)
		}
	}

	// One chargeback short of the threshold must not veto.
	res := e.Evaluate(domain.Record{"chargeback_count": 1, "ip_risk": "high"})
	if res.RiskScore == domain.HardBlockScore {
		t.Error("chargeback count below threshold must not hard block")
	}
}

func TestFrequencyBufferDampening(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LatencyMsExtreme = 500
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	res := e.Evaluate(domain.Record{
		"user_reputation":  "recurrent",
		"customer_txn_30d": 40,
		"amount_mxn":       100.0,
		"product_type":     "physical",
		"hour":             14,
		"latency_ms":       520,
	})

	// recurrent (-1) + latency extreme (+2) = 1, then the buffer takes
	// exactly one point back.
	if res.RiskScore != 0 {
		t.Errorf("expected score 0 after dampening, got %d (reasons: %s)", res.RiskScore, res.Reasons)
	}
	if !strings.HasSuffix(res.Reasons, "frequency_buffer(-1)") {
		t.Errorf("expected frequency_buffer(-1) as last reason, got %q", res.Reasons)
	}
	if res.Decision != domain.DecisionAccepted {
		t.Errorf("expected ACCEPTED, got %s", res.Decision)
	}
}

func TestFrequencyBufferNeverGoesNegative(t *testing.T) {
	e := newTestEngine(t)

	// trusted (-2), nothing else fires: running score is negative, so
	// the buffer must not apply.
	res := e.Evaluate(domain.Record{
		"user_reputation":  "trusted",
		"customer_txn_30d": 10,
		"hour":             14,
	})

	if res.RiskScore != -2 {
		t.Errorf("expected score -2, got %d", res.RiskScore)
	}
	if strings.Contains(res.Reasons, "frequency_buffer") {
		t.Errorf("buffer must not apply at non-positive score: %q", res.Reasons)
	}
}

func TestFrequencyBufferRequiresActivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LatencyMsExtreme = 500
	e, _ := New(cfg)

	// Only 2 transactions in 30 days: below the activity floor.
	res := e.Evaluate(domain.Record{
		"user_reputation":  "recurrent",
		"customer_txn_30d": 2,
		"hour":             14,
		"latency_ms":       600,
	})

	if strings.Contains(res.Reasons, "frequency_buffer") {
		t.Errorf("buffer must require >= 3 recent transactions: %q", res.Reasons)
	}
	if res.RiskScore != 1 {
		t.Errorf("expected score 1 (latency +2, recurrent -1), got %d", res.RiskScore)
	}
}

func TestNightHourWindow(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		hour  int
		night bool
	}{
		{21, false},
		{22, true},
		{23, true},
		{0, true},
		{3, true},
		{5, true},
		{6, false},
		{12, false},
	}

	for _, tt := range tests {
		res := e.Evaluate(domain.Record{"hour": tt.hour})
		fired := strings.Contains(res.Reasons, "night_hour")
		if fired != tt.night {
			t.Errorf("hour %d: night rule fired=%v, want %v", tt.hour, fired, tt.night)
		}
	}
}

func TestGeoMismatch(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"bin_country": "us",
		"ip_country":  "MX",
		"hour":        14,
	})
	if !strings.Contains(res.Reasons, "geo_mismatch:US!=MX(+2)") {
		t.Errorf("expected case-insensitive geo mismatch, got %q", res.Reasons)
	}

	// Either side empty: no mismatch.
	res = e.Evaluate(domain.Record{"bin_country": "US", "hour": 14})
	if strings.Contains(res.Reasons, "geo_mismatch") {
		t.Errorf("geo mismatch must require both countries, got %q", res.Reasons)
	}
}

func TestAmountMonotonicity(t *testing.T) {
	e := newTestEngine(t)

	base := domain.Record{
		"product_type":    "subscription", // threshold 1500
		"hour":            14,
		"user_reputation": "new",
	}

	prev := -1 << 30
	for _, amount := range []float64{0, 100, 1499.99, 1500, 1500.01, 9000} {
		rec := base.Clone()
		rec["amount_mxn"] = amount
		res := e.Evaluate(rec)
		if res.RiskScore < prev {
			t.Errorf("score decreased at amount %.2f: %d < %d", amount, res.RiskScore, prev)
		}
		prev = res.RiskScore
	}

	// Threshold boundary is inclusive.
	rec := base.Clone()
	rec["amount_mxn"] = 1500.0
	if res := e.Evaluate(rec); !strings.Contains(res.Reasons, "high_amount") {
		t.Error("amount equal to threshold must trigger high_amount")
	}
}

func TestUnknownProductTypeUsesDefaultThreshold(t *testing.T) {
	e := newTestEngine(t)

	rec := domain.Record{
		"product_type": "giftcard", // unknown, default threshold 4000
		"amount_mxn":   4200.0,
		"hour":         14,
	}
	res := e.Evaluate(rec)
	if !strings.Contains(res.Reasons, "high_amount:giftcard:4200.0(+2)") {
		t.Errorf("expected default threshold to apply, got %q", res.Reasons)
	}
}

func TestNewUserSurchargeOnlyWithHighAmount(t *testing.T) {
	e := newTestEngine(t)

	// New user but amount below threshold: no surcharge.
	res := e.Evaluate(domain.Record{
		"user_reputation": "new",
		"product_type":    "digital",
		"amount_mxn":      100.0,
		"hour":            14,
	})
	if strings.Contains(res.Reasons, "new_user_high_amount") {
		t.Errorf("surcharge requires the amount rule to fire: %q", res.Reasons)
	}

	// High amount but established user: no surcharge either.
	res = e.Evaluate(domain.Record{
		"user_reputation": "recurrent",
		"product_type":    "digital",
		"amount_mxn":      3000.0,
		"hour":            14,
	})
	if strings.Contains(res.Reasons, "new_user_high_amount") {
		t.Errorf("surcharge requires a new user: %q", res.Reasons)
	}
}

func TestDecisionBoundariesInclusive(t *testing.T) {
	e := newTestEngine(t)

	// ip_risk high alone lands exactly on review_at (4).
	res := e.Evaluate(domain.Record{"ip_risk": "high", "hour": 14})
	if res.RiskScore != 4 {
		t.Fatalf("expected score 4, got %d", res.RiskScore)
	}
	if res.Decision != domain.DecisionInReview {
		t.Errorf("score at review_at must map to IN_REVIEW, got %s", res.Decision)
	}

	// ip high (4) + device high (4) + geo mismatch (2) lands exactly on
	// reject_at (10).
	res = e.Evaluate(domain.Record{
		"ip_risk":                 "high",
		"device_fingerprint_risk": "high",
		"bin_country":             "US",
		"ip_country":              "MX",
		"hour":                    14,
	})
	if res.RiskScore != 10 {
		t.Fatalf("expected score 10, got %d (reasons: %s)", res.RiskScore, res.Reasons)
	}
	if res.Decision != domain.DecisionRejected {
		t.Errorf("score at reject_at must map to REJECTED, got %s", res.Decision)
	}
}

func TestEmptyRecordAccepted(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{})

	if res.Decision != domain.DecisionAccepted {
		t.Errorf("expected ACCEPTED for empty record, got %s", res.Decision)
	}
	if res.RiskScore != 0 {
		t.Errorf("expected score 0 for empty record, got %d", res.RiskScore)
	}
	if res.Reasons != "user_reputation:new(+0)" {
		t.Errorf("expected only the reputation trail entry, got %q", res.Reasons)
	}
}

func TestMalformedFieldsFallBack(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"amount_mxn":       "not-a-number",
		"hour":             "noon",
		"chargeback_count": []string{"weird"},
		"latency_ms":       nil,
		"customer_txn_30d": map[string]int{},
		"user_reputation":  nil,
	})

	if res.Decision != domain.DecisionAccepted {
		t.Errorf("malformed record must still score, got %s", res.Decision)
	}
	if res.RiskScore != 0 {
		t.Errorf("expected defaults to yield 0, got %d (reasons: %s)", res.RiskScore, res.Reasons)
	}
}

func TestUnknownCategoricalLevelsScoreZero(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"ip_risk":         "purple",
		"email_risk":      "suspicious-ish",
		"user_reputation": "legendary",
		"hour":            14,
	})

	if res.RiskScore != 0 {
		t.Errorf("unknown levels must contribute 0, got %d (%s)", res.RiskScore, res.Reasons)
	}
	if !strings.Contains(res.Reasons, "user_reputation:legendary(+0)") {
		t.Errorf("reputation trail must still record unknown tier: %q", res.Reasons)
	}
}

func TestDeterminism(t *testing.T) {
	e := newTestEngine(t)

	rec := domain.Record{
		"amount_mxn":       5200.0,
		"product_type":     "digital",
		"hour":             23,
		"user_reputation":  "new",
		"ip_risk":          "medium",
		"email_risk":       "new_domain",
		"bin_country":      "US",
		"ip_country":       "MX",
		"latency_ms":       3000,
		"customer_txn_30d": 7,
	}

	first := e.Evaluate(rec)
	for i := 0; i < 50; i++ {
		if got := e.Evaluate(rec); got != first {
			t.Fatalf("evaluation %d diverged: %+v != %+v", i, got, first)
		}
	}
}

func TestConcurrentEvaluations(t *testing.T) {
	e := newTestEngine(t)

	rec := domain.Record{
		"ip_risk": "high",
		"hour":    23,
	}
	want := e.Evaluate(rec)

	done := make(chan domain.Result, 64)
	for i := 0; i < 64; i++ {
		go func() {
			done <- e.Evaluate(rec)
		}()
	}
	for i := 0; i < 64; i++ {
		if got := <-done; got != want {
			t.Fatalf("concurrent evaluation diverged: %+v != %+v", got, want)
		}
	}
}

func TestStringNumbersCoerce(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(domain.Record{
		"amount_mxn":   "5200.50",
		"product_type": "digital",
		"hour":         "23",
		"latency_ms":   "2600",
	})

	for _, want := range []string{"night_hour:23(+1)", "high_amount:digital:5200.5(+2)", "latency_extreme:2600ms(+2)"} {
		if !strings.Contains(res.Reasons, want) {
			t.Errorf("expected %q in reasons, got %q", want, res.Reasons)
		}
	}
}
