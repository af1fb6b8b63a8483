package batch

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/engine"
)

func newTestRunner(t *testing.T, workers int) *Runner {
	t.Helper()
	eng, err := engine.New(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return NewRunner(eng, workers)
}

const testCSV = `transaction_id,amount_mxn,product_type,user_reputation,customer_txn_30d,hour,ip_risk,chargeback_count
tx-1,250,physical,trusted,45,14,low,0
tx-2,5200,digital,new,1,23,medium,0
tx-3,300,physical,trusted,12,14,high,2
tx-4,,,,,,,
`

func TestRunScoresAllRows(t *testing.T) {
	runner := newTestRunner(t, 4)

	var out strings.Builder
	summary, err := runner.Run(context.Background(), strings.NewReader(testCSV), &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Total != 4 {
		t.Errorf("expected 4 rows, got %d", summary.Total)
	}
	if summary.Rejected != 1 {
		t.Errorf("expected 1 rejected (hard block), got %d", summary.Rejected)
	}
	if summary.InReview != 1 {
		t.Errorf("expected 1 in review, got %d", summary.InReview)
	}
	if summary.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %d", summary.Accepted)
	}

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(rows))
	}

	header := rows[0]
	if header[len(header)-3] != "decision" || header[len(header)-2] != "risk_score" || header[len(header)-1] != "reasons" {
		t.Errorf("output header missing scoring columns: %v", header)
	}

	// Input order is preserved.
	for i, wantID := range []string{"tx-1", "tx-2", "tx-3", "tx-4"} {
		if rows[i+1][0] != wantID {
			t.Errorf("row %d: expected id %q, got %q", i+1, wantID, rows[i+1][0])
		}
	}

	// tx-1: trusted user, low everything.
	if rows[1][len(rows[1])-3] != "ACCEPTED" || rows[1][len(rows[1])-2] != "-2" {
		t.Errorf("tx-1 scored wrong: %v", rows[1])
	}
	// tx-3: hard block.
	if rows[3][len(rows[3])-3] != "REJECTED" || rows[3][len(rows[3])-2] != "100" {
		t.Errorf("tx-3 scored wrong: %v", rows[3])
	}
	// tx-4: every cell after the id is empty, defaults apply.
	last := rows[4]
	if last[len(last)-3] != "ACCEPTED" || last[len(last)-2] != "0" {
		t.Errorf("empty row scored wrong: %v", last)
	}
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	var single, parallel strings.Builder

	if _, err := newTestRunner(t, 1).Run(context.Background(), strings.NewReader(testCSV), &single); err != nil {
		t.Fatalf("single-worker run failed: %v", err)
	}
	if _, err := newTestRunner(t, 8).Run(context.Background(), strings.NewReader(testCSV), &parallel); err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	if single.String() != parallel.String() {
		t.Error("output differs between worker counts")
	}
}

func TestRunEmptyInput(t *testing.T) {
	runner := newTestRunner(t, 2)

	var out strings.Builder
	if _, err := runner.Run(context.Background(), strings.NewReader(""), &out); err == nil {
		t.Error("expected error for input without header")
	}
}

func TestRunHeaderOnly(t *testing.T) {
	runner := newTestRunner(t, 2)

	var out strings.Builder
	summary, err := runner.Run(context.Background(), strings.NewReader("transaction_id,amount_mxn\n"), &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("expected 0 rows, got %d", summary.Total)
	}
	if !strings.Contains(out.String(), "decision") {
		t.Error("output must still contain the extended header")
	}
}

func TestRunCancellation(t *testing.T) {
	runner := newTestRunner(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	if _, err := runner.Run(ctx, strings.NewReader(testCSV), &out); err == nil {
		t.Error("expected context error for cancelled run")
	}
}
