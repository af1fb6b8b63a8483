// Kestrel - Deterministic payment risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// batchscore scores a CSV of transactions offline and writes the rows back
// out with decision, risk_score, and reasons columns appended.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/engine"
)

func main() {
	inputPath := flag.String("input", "", "Path to the input CSV (default: stdin)")
	outputPath := flag.String("output", "", "Path to the output CSV (default: stdout)")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of scoring workers")
	flag.Parse()

	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	scoringCfg := engine.DefaultConfig().Apply(engine.OverridesFromEnv())
	if err := scoringCfg.Validate(); err != nil {
		slog.Error("invalid scoring configuration", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(scoringCfg)
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			slog.Error("failed to open input file", "path", *inputPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			slog.Error("failed to create output file", "path", *outputPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	summary, err := batch.NewRunner(eng, *workers).Run(ctx, in, out)
	if err != nil {
		slog.Error("batch scoring failed", "error", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	slog.Info("batch scoring complete",
		"total", summary.Total,
		"accepted", summary.Accepted,
		"in_review", summary.InReview,
		"rejected", summary.Rejected,
		"duration_ms", elapsed.Milliseconds(),
		"workers", *workers,
	)

	fmt.Fprintf(os.Stderr, "\nScored %d transactions in %s (%d accepted, %d in review, %d rejected)\n",
		summary.Total, elapsed.Round(time.Millisecond),
		summary.Accepted, summary.InReview, summary.Rejected)
}
