// Package worker provides async transaction scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Worker scores transactions published to the EventBus. It consumes
// the received topic and emits decision and alert events, mirroring the
// synchronous HTTP path.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	cache   domain.Cache
	engine  *engine.Engine
	version string

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine, version string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		cache:   cache,
		engine:  eng,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"default"}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionReceived,
	)

	return nil
}

// processTransaction scores one received transaction payload.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var rec domain.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		slog.Error("failed to parse transaction payload",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if rec == nil {
		rec = domain.Record{}
	}

	txID, _ := rec[domain.FieldTransactionID].(string)
	if txID == "" {
		txID = msg.ID
	}

	slog.Debug("scoring transaction",
		"tx_id", txID,
		"tenant_id", tenantID,
	)

	result := w.engine.Evaluate(rec)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.DecisionsTotal.WithLabelValues(result.Decision).Inc()
	if result.RiskScore == domain.HardBlockScore {
		metrics.HardBlocksTotal.Inc()
	}
	if w.cache != nil {
		if _, err := w.cache.IncrementCounter(ctx, tenantID, "evaluations", 24*time.Hour); err != nil {
			slog.Warn("failed to increment evaluation counter",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	assessment := &domain.Assessment{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		TxID:      txID,
		Decision:  result.Decision,
		RiskScore: result.RiskScore,
		Reasons:   result.Reasons,
		CreatedAt: time.Now().UTC(),
	}
	assessment.Metadata.TraceID = msg.ID
	assessment.Metadata.EngineVersion = w.version
	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	if w.repo != nil {
		if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"tx_id", txID,
				"error", err,
			)
		}
	}
	if w.cache != nil {
		if err := w.cache.SetAssessment(ctx, tenantID, assessment, 5*time.Minute); err != nil {
			slog.Warn("failed to cache assessment",
				"tx_id", txID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", txID,
			"error", err,
		)
	} else {
		metrics.EventsPublishedTotal.WithLabelValues(domain.TopicDecision).Inc()
	}

	if assessment.Rejected() {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", txID,
				"error", err,
			)
		} else {
			metrics.EventsPublishedTotal.WithLabelValues(domain.TopicAlert).Inc()
		}
	}

	slog.Info("transaction scored",
		"tx_id", txID,
		"tenant_id", tenantID,
		"decision", result.Decision,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
