package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fullsend/fullsend/internal/store"
)

// Handlers contains the dashboard HTTP handlers and their dependencies.
// The dashboard is read-only: it displays aggregated state and never
// mutates records.
type Handlers struct {
	store  store.Store
	logger *slog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(st store.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: st, logger: logger}
}

// Health handles /health and /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListExperiments handles GET /api/v1/experiments.
func (h *Handlers) ListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := h.store.ListExperiments(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list experiments", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"experiments": experiments,
		"count":       len(experiments),
	})
}

// GetExperiment handles GET /api/v1/experiments/{id}: the experiment
// document plus its current aggregate view.
func (h *Handlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	exp, err := h.store.GetExperiment(r.Context(), id)
	if errors.Is(err, store.ErrExperimentNotFound) {
		h.respondError(w, http.StatusNotFound, "experiment not found", err)
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load experiment", err)
		return
	}

	aggregates, err := h.store.AggregatedMetrics(r.Context(), id)
	if err != nil {
		h.logger.Warn("load aggregates failed", slog.String("experiment_id", id), slog.Any("error", err))
		aggregates = map[string]float64{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"experiment": exp,
		"metrics":    aggregates,
	})
}

// ListExperimentRuns handles GET /api/v1/experiments/{id}/runs.
func (h *Handlers) ListExperimentRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	runs, err := h.store.ListRuns(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"experiment_id": id,
		"runs":          runs,
		"count":         len(runs),
	})
}

// GetExperimentMetrics handles GET /api/v1/experiments/{id}/metrics.
func (h *Handlers) GetExperimentMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	aggregates, err := h.store.AggregatedMetrics(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load metrics", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"experiment_id": id,
		"metrics":       aggregates,
	})
}

// ListSchedules handles GET /api/v1/schedules.
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.store.ListSchedules(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list schedules", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// GetTool handles GET /api/v1/tools/{name}.
func (h *Handlers) GetTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	meta, err := h.store.GetTool(r.Context(), name)
	if errors.Is(err, store.ErrToolNotFound) {
		h.respondError(w, http.StatusNotFound, "tool not found", err)
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load tool", err)
		return
	}
	h.respondJSON(w, http.StatusOK, meta)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response failed", slog.Any("error", err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	h.respondJSON(w, status, map[string]string{"error": message})
}
