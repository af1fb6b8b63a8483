package domain

import (
	"time"
)

// Decision values returned for every scored transaction.
const (
	DecisionAccepted = "ACCEPTED"
	DecisionInReview = "IN_REVIEW"
	DecisionRejected = "REJECTED"
)

// HardBlockScore is the sentinel risk score assigned when the hard-block
// veto fires. It is deliberately outside the range accumulated scoring
// can reach so downstream consumers can tell the two apart.
const HardBlockScore = 100

// Result is the output of one rule-engine evaluation.
type Result struct {
	Decision  string `json:"decision"`
	RiskScore int    `json:"risk_score"`

	// Reasons is the ordered rule trail, entries joined by ";".
	// Order reflects rule evaluation order, not delta magnitude.
	Reasons string `json:"reasons"`
}

// Assessment is a persisted evaluation: the engine result plus the
// identifiers and timing needed to retrieve and audit it later.
type Assessment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	TxID      string    `json:"txId"`
	Decision  string    `json:"decision"`
	RiskScore int       `json:"riskScore"`
	Reasons   string    `json:"reasons"`
	CreatedAt time.Time `json:"createdAt"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata carries processing information for one assessment.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Rejected reports whether the assessment rejected the transaction.
func (a *Assessment) Rejected() bool {
	return a.Decision == DecisionRejected
}
