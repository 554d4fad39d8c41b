// Package handlers implements the HTTP surface over the budget engine:
// classification, summaries, the analysis job, manual category overrides
// and mapping registry mutation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/driesdb/budget-engine/internal/aggregate"
	"github.com/driesdb/budget-engine/internal/analysis"
	"github.com/driesdb/budget-engine/internal/api/middleware"
	"github.com/driesdb/budget-engine/internal/classify"
	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/store"
)

// BudgetHandler handles classification, summary and analysis endpoints.
type BudgetHandler struct {
	transactions store.TransactionStore
	snapshots    store.SnapshotStore
	registry     *mappings.Registry
	controller   *analysis.Controller
	log          zerolog.Logger
}

// NewBudgetHandler creates a new budget handler.
func NewBudgetHandler(txs store.TransactionStore, snaps store.SnapshotStore, reg *mappings.Registry, controller *analysis.Controller, log zerolog.Logger) *BudgetHandler {
	return &BudgetHandler{
		transactions: txs,
		snapshots:    snaps,
		registry:     reg,
		controller:   controller,
		log:          log,
	}
}

// ClassifyTransaction handles POST /api/budget/classify
// Synchronous single-item classification for display use; it never writes.
func (h *BudgetHandler) ClassifyTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := classify.Classify(tx, h.registry)
	middleware.WriteJSON(w, http.StatusOK, result)
}

// GetSummary handles GET /api/budget/summary
// The year and month query parameters are repeatable; absent means all.
func (h *BudgetHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	txs, err := h.transactions.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load transactions")
		return
	}

	filter := aggregate.Filter{
		Years:  r.URL.Query()["year"],
		Months: r.URL.Query()["month"],
	}
	summary := aggregate.Summarize(txs, h.registry, filter)
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// StartAnalysis handles POST /api/budget/analyze/start
func (h *BudgetHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := h.controller.Start(r.Context())
	if errors.Is(err, analysis.ErrJobRunning) {
		middleware.WriteError(w, http.StatusConflict, "An analysis job is already running")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to start analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start analysis job")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// GetAnalysisJob handles GET /api/budget/analyze/:jobId
func (h *BudgetHandler) GetAnalysisJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.controller.Get(jobID)
	if errors.Is(err, analysis.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read job status")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// GetSnapshot handles GET /api/budget/snapshot
// It serves the most recently published analysis result; the previous
// snapshot stays visible while a job is running or after one fails.
func (h *BudgetHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.LatestSnapshot(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "No analysis snapshot published yet")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load snapshot")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load snapshot")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, snap)
}

// TransactionsHandler handles transaction-level endpoints.
type TransactionsHandler struct {
	transactions store.TransactionStore
	log          zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(txs store.TransactionStore, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{transactions: txs, log: log}
}

// ListTransactions handles GET /api/bank/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := store.TransactionFilter{
		Years:  r.URL.Query()["year"],
		Months: r.URL.Query()["month"],
	}
	txs, err := h.transactions.ListTransactions(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// SetCategory handles POST /api/bank/transactions/:externalId/category
// The category is applied directly with manual provenance, bypassing the
// classifier. Manual results survive later bulk runs.
func (h *TransactionsHandler) SetCategory(w http.ResponseWriter, r *http.Request, externalID string) {
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Category is required")
		return
	}

	tx, err := h.transactions.SetCategory(r.Context(), externalID, req.Category, domain.SourceManual)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("external_id", externalID).Msg("Failed to set category")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to set category")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// MappingsHandler handles mapping registry endpoints. Mutations apply to
// the live registry first and are then persisted through the mapping
// store.
type MappingsHandler struct {
	registry *mappings.Registry
	mappings store.MappingStore
	log      zerolog.Logger
}

// NewMappingsHandler creates a new mappings handler.
func NewMappingsHandler(reg *mappings.Registry, ms store.MappingStore, log zerolog.Logger) *MappingsHandler {
	return &MappingsHandler{registry: reg, mappings: ms, log: log}
}

// ListMappings handles GET /api/bank/mappings
func (h *MappingsHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	groups := h.registry.Groups()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": groups,
		"count":    len(groups),
	})
}

// CreateMapping handles POST /api/bank/mappings
func (h *MappingsHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string      `json:"category"`
		Flow     domain.Flow `json:"flow"`
		Keywords []string    `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	group, err := h.registry.Add(req.Category, req.Flow)
	if errors.Is(err, mappings.ErrDuplicateCategory) {
		middleware.WriteError(w, http.StatusConflict, "Category already exists")
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Keywords) > 0 {
		if err := h.registry.SetKeywords(group.ID, req.Keywords); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to set keywords")
			return
		}
	}
	h.persist(r)

	created, _ := h.find(group.ID)
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// UpdateMapping handles PUT /api/bank/mappings/:id
// A rename into an existing category name merges the two groups.
func (h *MappingsHandler) UpdateMapping(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Category string   `json:"category"`
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	group, ok := h.find(id)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Mapping not found")
		return
	}

	if req.Keywords != nil {
		if err := h.registry.SetKeywords(id, req.Keywords); err != nil {
			middleware.WriteError(w, http.StatusNotFound, "Mapping not found")
			return
		}
	}
	if req.Category != "" && req.Category != group.Category {
		merged, err := h.registry.Rename(id, req.Category)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		group = merged
	} else if g, ok := h.find(id); ok {
		group = g
	}
	h.persist(r)

	middleware.WriteJSON(w, http.StatusOK, group)
}

// DeleteMapping handles DELETE /api/bank/mappings/:id
func (h *MappingsHandler) DeleteMapping(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.registry.Remove(id); err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Mapping not found")
		return
	}
	h.persist(r)
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ToggleVisibility handles POST /api/bank/mappings/:id/visibility
func (h *MappingsHandler) ToggleVisibility(w http.ResponseWriter, r *http.Request, id string) {
	group, err := h.registry.ToggleVisibility(id)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Mapping not found")
		return
	}
	h.persist(r)
	middleware.WriteJSON(w, http.StatusOK, group)
}

// persist writes the registry state through the mapping store. Persistence
// failure is logged, not surfaced: the live registry already holds the
// accepted mutation.
func (h *MappingsHandler) persist(r *http.Request) {
	if h.mappings == nil {
		return
	}
	if err := h.mappings.SaveGroups(r.Context(), h.registry.Groups()); err != nil {
		h.log.Error().Err(err).Msg("Failed to persist mapping groups")
	}
}

func (h *MappingsHandler) find(id string) (domain.MappingGroup, bool) {
	for _, g := range h.registry.Groups() {
		if g.ID == id {
			return g, true
		}
	}
	return domain.MappingGroup{}, false
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
