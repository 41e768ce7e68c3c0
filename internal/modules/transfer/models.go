// Package transfer orchestrates a planning run: quota, stock collection, planning,
// request building and dispatch.
package transfer

import (
	"time"

	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/aristath/restock/internal/modules/dispatch"
)

// RunOptions selects how a single run behaves
type RunOptions struct {
	// DryRun plans and builds requests without dispatching them
	DryRun bool
	// ForceQuota bypasses the cached quota snapshot
	ForceQuota bool
}

// RunReport is everything a run produced. It is persisted as JSON with the run row.
type RunReport struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DryRun     bool       `json:"dry_run"`

	Warehouses  int  `json:"warehouses"`
	QuotaCached bool `json:"quota_cached"`
	QuotaFailed int  `json:"quota_failed"`

	StockRows       int `json:"stock_rows"`
	DroppedRows     int `json:"dropped_rows"`
	InFlightRows    int `json:"in_flight_rows"`
	InFlightSkipped int `json:"in_flight_skipped"`

	Products       int `json:"products"`
	Intents        int `json:"intents"`
	UnitsPlanned   int `json:"units_planned"`
	Requests       int `json:"requests"`
	UnitsRequested int `json:"units_requested"`

	PlannedRequests []RequestSummary `json:"planned_requests,omitempty"`

	Defects  []allocation.Defect `json:"defects"`
	Dispatch *dispatch.Report    `json:"dispatch,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// RequestSummary is a compact view of a built request
type RequestSummary struct {
	ProductID   int `json:"product_id"`
	Source      int `json:"source"`
	Destination int `json:"destination"`
	Units       int `json:"units"`
}

// StopReason returns the dispatch stop reason, if any
func (r *RunReport) StopReason() string {
	if r.Dispatch == nil {
		return ""
	}
	return r.Dispatch.StopReason
}

// RunSummary is one row of the run history
type RunSummary struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DryRun     bool       `json:"dry_run"`
	Products   int        `json:"products"`
	Intents    int        `json:"intents"`
	Requests   int        `json:"requests"`
	Accepted   int        `json:"accepted"`
	Discarded  int        `json:"discarded"`
	Failed     int        `json:"failed"`
	UnitsSent  int        `json:"units_sent"`
	Defects    int        `json:"defects"`
	StopReason string     `json:"stop_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}
