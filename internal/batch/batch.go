// Package batch scores CSV files of transactions offline.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Summary aggregates the outcome of one batch run.
type Summary struct {
	Total    int
	Accepted int
	InReview int
	Rejected int
}

// Runner scores CSV rows through an engine with a bounded worker pool.
// Output rows keep the input order regardless of worker scheduling.
type Runner struct {
	engine  *engine.Engine
	workers int
}

// NewRunner creates a batch runner. Workers below 1 are clamped to 1.
func NewRunner(eng *engine.Engine, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		engine:  eng,
		workers: workers,
	}
}

// Run reads CSV from in, scores every row, and writes the input columns
// plus decision, risk_score, and reasons to out. The first row must be
// a header naming the transaction fields.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) (Summary, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Summary{}, fmt.Errorf("input is empty: missing header row")
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read header: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("failed to read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
	}

	results := make([]domain.Result, len(rows))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = r.engine.Evaluate(toRecord(header, rows[idx]))
			}
		}()
	}

	for idx := range rows {
		if err := ctx.Err(); err != nil {
			close(jobs)
			wg.Wait()
			return Summary{}, err
		}
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	writer := csv.NewWriter(out)
	if err := writer.Write(append(header, "decision", "risk_score", "reasons")); err != nil {
		return Summary{}, fmt.Errorf("failed to write header: %w", err)
	}

	var summary Summary
	for idx, row := range rows {
		res := results[idx]
		summary.Total++
		switch res.Decision {
		case domain.DecisionAccepted:
			summary.Accepted++
		case domain.DecisionInReview:
			summary.InReview++
		case domain.DecisionRejected:
			summary.Rejected++
		}

		record := append(append([]string{}, row...),
			res.Decision,
			strconv.Itoa(res.RiskScore),
			res.Reasons,
		)
		if err := writer.Write(record); err != nil {
			return Summary{}, fmt.Errorf("failed to write row %d: %w", idx+2, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return Summary{}, fmt.Errorf("failed to flush output: %w", err)
	}

	return summary, nil
}

// toRecord maps a CSV row onto the header. Empty cells are omitted so
// the engine applies its field defaults; all values cross as strings and
// rely on the engine's coercion.
func toRecord(header []string, row []string) domain.Record {
	rec := make(domain.Record, len(header))
	for i, name := range header {
		if i >= len(row) {
			break
		}
		if row[i] == "" {
			continue
		}
		rec[name] = row[i]
	}
	return rec
}
