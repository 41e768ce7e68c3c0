// Package handlers provides HTTP handlers for planning runs and in-transit tracking.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/modules/delivery"
	"github.com/aristath/restock/internal/modules/quota"
	"github.com/aristath/restock/internal/modules/transfer"
	"github.com/rs/zerolog"
)

// RunService is the part of the transfer service the handlers use
type RunService interface {
	Run(ctx context.Context, opts transfer.RunOptions) (*transfer.RunReport, error)
	History(ctx context.Context, limit int) ([]transfer.RunSummary, error)
	LastRun(ctx context.Context) (*transfer.RunReport, error)
	GetRun(ctx context.Context, id string) (*transfer.RunReport, error)
	LastQuota() *quota.Snapshot
	DefaultDryRun() bool
}

// Reconciler applies the delivery report
type Reconciler interface {
	Reconcile(ctx context.Context) (*delivery.Result, error)
}

// InTransitLister lists in-transit records
type InTransitLister interface {
	Open(ctx context.Context) ([]domain.InFlightTransfer, error)
	Recent(ctx context.Context, limit int) ([]domain.InFlightTransfer, error)
}

// Handler handles transfer HTTP requests
type Handler struct {
	service    RunService
	reconciler Reconciler
	inTransit  InTransitLister
	log        zerolog.Logger
}

// NewHandler creates a new transfer handler
func NewHandler(service RunService, reconciler Reconciler, inTransit InTransitLister, log zerolog.Logger) *Handler {
	return &Handler{
		service:    service,
		reconciler: reconciler,
		inTransit:  inTransit,
		log:        log.With().Str("handler", "transfer").Logger(),
	}
}

// HandleStartRun handles POST /api/transfers/runs
// Query: dry_run (bool, defaults to the configured mode), force_quota (bool)
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	opts := transfer.RunOptions{DryRun: h.service.DefaultDryRun()}
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid dry_run parameter", http.StatusBadRequest)
			return
		}
		opts.DryRun = b
	}
	if v := r.URL.Query().Get("force_quota"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid force_quota parameter", http.StatusBadRequest)
			return
		}
		opts.ForceQuota = b
	}

	// a disconnecting client must not interrupt a dispatch halfway
	report, err := h.service.Run(context.WithoutCancel(r.Context()), opts)
	if errors.Is(err, lock.ErrLocked) {
		http.Error(w, "A planning run is already in progress", http.StatusConflict)
		return
	}
	if err != nil && report == nil {
		h.log.Error().Err(err).Msg("Failed to start planning run")
		http.Error(w, "Failed to start planning run", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, envelope(report))
}

// HandleListRuns handles GET /api/transfers/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	runs, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []transfer.RunSummary{}
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	}))
}

// HandleGetLastRun handles GET /api/transfers/runs/last
func (h *Handler) HandleGetLastRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.LastRun(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get last run")
		http.Error(w, "Failed to get last run", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "No finished runs", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleGetRun handles GET /api/transfers/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	report, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleGetQuotas handles GET /api/transfers/quotas
// Returns the quota snapshot the last run worked from
func (h *Handler) HandleGetQuotas(w http.ResponseWriter, r *http.Request) {
	snap := h.service.LastQuota()
	if snap == nil {
		http.Error(w, "No quota snapshot yet", http.StatusNotFound)
		return
	}

	warehouses := make(map[string]domain.Quota, len(snap.Quota))
	for id, q := range snap.Quota {
		warehouses[strconv.Itoa(id)] = q
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"cached":     snap.Cached,
		"failed":     snap.Failed,
		"warehouses": warehouses,
	}))
}

// HandleListInTransit handles GET /api/transfers/in-transit
// Query: all=true includes finished records
func (h *Handler) HandleListInTransit(w http.ResponseWriter, r *http.Request) {
	var (
		records []domain.InFlightTransfer
		err     error
	)
	if r.URL.Query().Get("all") == "true" {
		records, err = h.inTransit.Recent(r.Context(), 500)
	} else {
		records, err = h.inTransit.Open(r.Context())
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list in-transit records")
		http.Error(w, "Failed to list in-transit records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.InFlightTransfer{}
	}

	units := 0
	for _, rec := range records {
		if !rec.Finished {
			units += rec.QuantityLeft
		}
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"records":    records,
		"count":      len(records),
		"units_open": units,
	}))
}

// HandleReconcile handles POST /api/transfers/reconcile
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Delivery reconciliation failed")
		http.Error(w, "Delivery reconciliation failed", http.StatusBadGateway)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(res))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
