package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		rec := domain.Record{
			"transaction_id": "tx-001",
			"amount_mxn":     1200.5,
			"product_type":   "digital",
			"ip_risk":        "medium",
		}

		if err := repo.SaveTransaction(ctx, tenantID, "tx-001", rec); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved["product_type"] != "digital" {
			t.Errorf("expected product_type digital, got %v", retrieved["product_type"])
		}
		// JSON round trip turns numbers into float64.
		if retrieved["amount_mxn"] != 1200.5 {
			t.Errorf("expected amount 1200.5, got %v", retrieved["amount_mxn"])
		}
	})

	t.Run("SaveTransactionUpserts", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, tenantID, "tx-001", domain.Record{"hour": 3}); err != nil {
			t.Fatalf("second SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if _, ok := retrieved["product_type"]; ok {
			t.Error("upsert must replace the payload entirely")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "tenant-002", "tx-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.Assessment{
			ID:        "asm-001",
			TenantID:  tenantID,
			TxID:      "tx-001",
			Decision:  domain.DecisionInReview,
			RiskScore: 7,
			Reasons:   "ip_risk:medium(+2);night_hour:23(+1)",
			CreatedAt: time.Now().UTC(),
		}
		a.Metadata.TraceID = "trace-001"
		a.Metadata.EngineVersion = "test"

		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, "asm-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		if retrieved.Decision != domain.DecisionInReview {
			t.Errorf("expected IN_REVIEW, got %s", retrieved.Decision)
		}
		if retrieved.RiskScore != 7 {
			t.Errorf("expected score 7, got %d", retrieved.RiskScore)
		}
		if retrieved.Reasons != a.Reasons {
			t.Errorf("reasons mismatch: %q", retrieved.Reasons)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("metadata lost: %+v", retrieved.Metadata)
		}
	})

	t.Run("GetAssessmentNotFound", func(t *testing.T) {
		if _, err := repo.GetAssessment(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListAssessmentsByDecision", func(t *testing.T) {
		rejected := &domain.Assessment{
			ID:        "asm-002",
			TenantID:  tenantID,
			TxID:      "tx-002",
			Decision:  domain.DecisionRejected,
			RiskScore: 100,
			Reasons:   "hard_block:chargebacks>=2+ip_high",
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveAssessment(ctx, tenantID, rejected); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		since := time.Now().UTC().Add(-time.Hour)
		list, err := repo.ListAssessmentsByDecision(ctx, tenantID, domain.DecisionRejected, since)
		if err != nil {
			t.Fatalf("ListAssessmentsByDecision failed: %v", err)
		}
		if len(list) != 1 || list[0].ID != "asm-002" {
			t.Errorf("expected only asm-002, got %d results", len(list))
		}
	})

	t.Run("CustomRuleLifecycle", func(t *testing.T) {
		rule := &domain.CustomRule{
			ID:         "rule-001",
			TenantID:   "*",
			Name:       "big_amount",
			Expression: "amount > 9000.0",
			Points:     3,
			Enabled:    true,
		}

		if err := repo.SaveCustomRule(ctx, "*", rule); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		rules, err := repo.ListCustomRules(ctx, "*")
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].Name != "big_amount" {
			t.Fatalf("expected big_amount rule, got %d rules", len(rules))
		}
		if rules[0].Points != 3 || !rules[0].Enabled {
			t.Errorf("rule fields lost: %+v", rules[0])
		}

		// Upsert updates in place.
		rule.Points = 5
		if err := repo.SaveCustomRule(ctx, "*", rule); err != nil {
			t.Fatalf("SaveCustomRule upsert failed: %v", err)
		}
		rules, _ = repo.ListCustomRules(ctx, "*")
		if len(rules) != 1 || rules[0].Points != 5 {
			t.Errorf("upsert did not update points: %+v", rules)
		}

		// Soft delete hides it from listing.
		if err := repo.DeleteCustomRule(ctx, "*", "rule-001"); err != nil {
			t.Fatalf("DeleteCustomRule failed: %v", err)
		}
		rules, _ = repo.ListCustomRules(ctx, "*")
		if len(rules) != 0 {
			t.Errorf("deleted rule still listed: %+v", rules)
		}

		if err := repo.DeleteCustomRule(ctx, "*", "no-such-rule"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on missing rule, got %v", err)
		}
	})
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
