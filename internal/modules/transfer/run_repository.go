package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunRepository stores the run history
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "transfer_runs").Logger(),
	}
}

// Start records a run as in progress
func (r *RunRepository) Start(ctx context.Context, report *RunReport) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transfer_runs (id, started_at, dry_run) VALUES (?, ?, ?)",
		report.ID, report.StartedAt.UTC().Format(time.RFC3339Nano), boolToInt(report.DryRun))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.ID, err)
	}
	return nil
}

// Finish stores the counters and full report of a run
func (r *RunRepository) Finish(ctx context.Context, report *RunReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	var accepted, discarded, failed, unitsSent int
	if d := report.Dispatch; d != nil {
		accepted = d.Accepted
		discarded = d.Discarded
		failed = d.Failures
		unitsSent = d.UnitsSent
	}
	var finished interface{}
	if report.FinishedAt != nil {
		finished = report.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = r.db.ExecContext(ctx, `UPDATE transfer_runs SET
		finished_at = ?, products = ?, intents = ?, requests = ?, accepted = ?, discarded = ?,
		failed = ?, units_sent = ?, defects = ?, stop_reason = ?, error = ?, report = ?
		WHERE id = ?`,
		finished, report.Products, report.Intents, report.Requests, accepted, discarded,
		failed, unitsSent, len(report.Defects), report.StopReason(), report.Error, string(blob),
		report.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", report.ID, err)
	}
	return nil
}

// List returns the newest runs first
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, started_at, finished_at, dry_run, products, intents, requests,
		accepted, discarded, failed, units_sent, defects, stop_reason, error
		FROM transfer_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started string
		var finished sql.NullString
		var dryRun int
		if err := rows.Scan(&s.ID, &started, &finished, &dryRun, &s.Products, &s.Intents, &s.Requests,
			&s.Accepted, &s.Discarded, &s.Failed, &s.UnitsSent, &s.Defects, &s.StopReason, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.DryRun = dryRun != 0
		if s.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			r.log.Debug().Str("id", s.ID).Str("started_at", started).Msg("Unparseable start time")
		}
		if finished.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
				s.FinishedAt = &ts
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// Get returns the stored report of a run, or nil when it does not exist
func (r *RunRepository) Get(ctx context.Context, id string) (*RunReport, error) {
	return r.report(ctx, "SELECT report FROM transfer_runs WHERE id = ?", id)
}

// Last returns the report of the newest finished run, or nil
func (r *RunRepository) Last(ctx context.Context) (*RunReport, error) {
	return r.report(ctx, "SELECT report FROM transfer_runs WHERE finished_at IS NOT NULL ORDER BY started_at DESC LIMIT 1")
}

func (r *RunRepository) report(ctx context.Context, query string, args ...interface{}) (*RunReport, error) {
	var blob string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run report: %w", err)
	}

	var report RunReport
	if err := json.Unmarshal([]byte(blob), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
