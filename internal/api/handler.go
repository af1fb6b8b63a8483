package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// GlobalTenantID is used for custom rules that apply to all tenants.
const GlobalTenantID = "*"

// assessmentCacheTTL bounds how long a scored assessment is served from
// cache before retrieval falls through to the repository.
const assessmentCacheTTL = 5 * time.Minute

// evaluationCounterWindow is the rolling window for the per-tenant
// evaluation counter kept in the cache.
const evaluationCounterWindow = 24 * time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// ScoreResponse is the response for POST /transaction.
type ScoreResponse struct {
	TransactionID string `json:"transaction_id"`
	AssessmentID  string `json:"assessment_id"`
	Decision      string `json:"decision"`
	RiskScore     int    `json:"risk_score"`
	Reasons       string `json:"reasons"`
}

// ScoreTransaction handles POST /transaction: it scores the payload
// synchronously and persists the outcome. Malformed field values never
// fail the request; only a body that is not a JSON object is rejected.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a JSON object",
		})
		return
	}
	if rec == nil {
		rec = domain.Record{}
	}

	txID, _ := rec[domain.FieldTransactionID].(string)
	if txID == "" {
		txID = uuid.New().String()
	}

	if h.bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionReceived, payload); err != nil {
				slog.Warn("failed to publish received event", "tx_id", txID, "error", err)
			} else {
				metrics.EventsPublishedTotal.WithLabelValues(domain.TopicTransactionReceived).Inc()
			}
		}
	}

	evalStart := time.Now()
	result := h.engine.Evaluate(rec)
	metrics.EvaluationDuration.Observe(time.Since(evalStart).Seconds())
	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "evaluations", evaluationCounterWindow); err != nil {
			slog.Warn("failed to increment evaluation counter", "tenant_id", tenantID, "error", err)
		}
	}
	metrics.DecisionsTotal.WithLabelValues(result.Decision).Inc()
	if result.RiskScore == domain.HardBlockScore {
		metrics.HardBlocksTotal.Inc()
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
	assessment.Metadata.TraceID = traceID
	assessment.Metadata.EngineVersion = h.version

	// Persistence is best-effort: the decision is already made and a
	// storage failure must not turn into a scoring failure.
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, txID, rec); err != nil {
			slog.Error("failed to save transaction", "tx_id", txID, "error", err)
		}
	}

	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	if h.repo != nil {
		if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment", "id", assessment.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetAssessment(ctx, tenantID, assessment, assessmentCacheTTL); err != nil {
			slog.Warn("failed to cache assessment", "id", assessment.ID, "error", err)
		}
	}

	h.publishDecision(ctx, tenantID, assessment)

	writeJSON(w, http.StatusOK, ScoreResponse{
		TransactionID: txID,
		AssessmentID:  assessment.ID,
		Decision:      result.Decision,
		RiskScore:     result.RiskScore,
		Reasons:       result.Reasons,
	})
}

// publishDecision emits the decision event, plus an alert for rejected
// transactions so downstream consumers can page on them.
func (h *Handler) publishDecision(ctx context.Context, tenantID string, a *domain.Assessment) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		slog.Warn("failed to publish decision event", "tx_id", a.TxID, "error", err)
	} else {
		metrics.EventsPublishedTotal.WithLabelValues(domain.TopicDecision).Inc()
	}

	if a.Rejected() {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert event", "tx_id", a.TxID, "error", err)
		} else {
			metrics.EventsPublishedTotal.WithLabelValues(domain.TopicAlert).Inc()
		}
	}
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready reports whether the server's dependencies can serve traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unavailable",
			})
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "cache unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready":   "true",
		"version": h.version,
	})
}

// GetConfig returns the active scoring configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// GetAssessment retrieves an assessment by ID, cache first.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.cache != nil {
		if a, err := h.cache.GetAssessment(ctx, tenantID, id); err == nil && a != nil {
			metrics.CacheHitsTotal.Inc()
			writeJSON(w, http.StatusOK, a)
			return
		}
		metrics.CacheMissesTotal.Inc()
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, id)
	if err != nil {
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetTransaction retrieves a stored raw transaction record by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": txID,
		"record":         rec,
	})
}

// ListAlerts returns recent REJECTED assessments for the tenant. The
// lookback window defaults to 24 hours and can be set with ?hours=N.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	alerts, err := h.repo.ListAssessmentsByDecision(ctx, tenantID, domain.DecisionRejected, since)
	if err != nil {
		slog.Error("failed to list alerts", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
		"since":  since,
	})
}

// ListRules returns the custom rules currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.LoadedCustomRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a loaded custom rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedCustomRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Points      int    `json:"points"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates and persists a custom rule. Rules are saved
// globally (tenant_id = "*") so they apply to all tenants. After saving,
// call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	rule := &domain.CustomRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Points:      req.Points,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Compile up front so a bad expression never reaches the database.
	if _, err := engine.CompileRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save custom rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule removes a custom rule and auto-reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteCustomRule(ctx, GlobalTenantID, ruleID); err != nil {
		slog.Error("failed to delete custom rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	if err := h.reloadFromRepo(ctx); err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("custom rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads all custom rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.reloadFromRepo(r.Context()); err != nil {
		slog.Error("failed to reload custom rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.engine.CustomRulesCount()
	slog.Info("custom rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reloadFromRepo(ctx context.Context) error {
	rules, err := h.repo.ListCustomRules(ctx, GlobalTenantID)
	if err != nil {
		return err
	}
	if err := h.engine.LoadCustomRules(rules); err != nil {
		return err
	}
	metrics.CustomRulesLoaded.Set(float64(h.engine.CustomRulesCount()))
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
