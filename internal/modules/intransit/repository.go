// Package intransit persists dispatched transfers until they are delivered.
package intransit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
)

// DayLayout is the format of the day column
const DayLayout = "2006-01-02"

// Key groups in-transit records the same way delivery reports are grouped
type Key struct {
	ProductID int
	SizeID    int
	ToRegion  int
	Day       string
}

// Repository implements domain.InTransitStore
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an in-transit repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "in_transit").Logger(),
	}
}

const columns = `id, run_id, product_id, size_id, from_warehouse, to_warehouse, from_region, to_region,
quantity, quantity_left, day, is_finished, finished_at`

// Insert stores an accepted transfer as open
func (r *Repository) Insert(ctx context.Context, t domain.SentTransfer) error {
	sentAt := t.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO in_transit
		(run_id, product_id, size_id, from_warehouse, to_warehouse, from_region, to_region, quantity, quantity_left, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.ProductID, t.SizeID, t.FromWarehouse, t.ToWarehouse, t.FromRegion, t.ToRegion,
		t.Quantity, t.Quantity, sentAt.Format(DayLayout), sentAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert in-transit record: %w", err)
	}
	return nil
}

// OpenRows returns the undelivered remainder of every open record in the raw row shape the merge step consumes
func (r *Repository) OpenRows(ctx context.Context) ([]domain.InFlightRow, error) {
	open, err := r.Open(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InFlightRow, 0, len(open))
	for _, t := range open {
		out = append(out, domain.InFlightRow{
			ProductID:     strconv.Itoa(t.ProductID),
			SizeID:        strconv.Itoa(t.SizeID),
			FromWarehouse: strconv.Itoa(t.FromWarehouse),
			ToWarehouse:   strconv.Itoa(t.ToWarehouse),
			FromRegion:    strconv.Itoa(t.FromRegion),
			ToRegion:      strconv.Itoa(t.ToRegion),
			Quantity:      t.QuantityLeft,
		})
	}
	return out, nil
}

// Open returns unfinished records in insertion order
func (r *Repository) Open(ctx context.Context) ([]domain.InFlightTransfer, error) {
	return r.query(ctx, "SELECT "+columns+" FROM in_transit WHERE is_finished = 0 ORDER BY id")
}

// Recent returns the newest records, finished or not
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.InFlightTransfer, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "SELECT "+columns+" FROM in_transit ORDER BY id DESC LIMIT ?", limit)
}

// ByKeySince groups every record sent on or after the given day by (product, size, destination region, day).
// Finished records are included. Each group is in insertion order.
func (r *Repository) ByKeySince(ctx context.Context, since time.Time) (map[Key][]domain.InFlightTransfer, error) {
	records, err := r.query(ctx, "SELECT "+columns+" FROM in_transit WHERE day >= ? ORDER BY id", since.Format(DayLayout))
	if err != nil {
		return nil, err
	}
	out := make(map[Key][]domain.InFlightTransfer)
	for _, t := range records {
		k := Key{ProductID: t.ProductID, SizeID: t.SizeID, ToRegion: t.ToRegion, Day: t.Day}
		out[k] = append(out[k], t)
	}
	return out, nil
}

// UpdateRemaining stores the undelivered quantity of a record and closes it when nothing is left
func (r *Repository) UpdateRemaining(ctx context.Context, id int64, quantityLeft int, at time.Time) error {
	var err error
	if quantityLeft <= 0 {
		_, err = r.db.ExecContext(ctx,
			"UPDATE in_transit SET quantity_left = 0, is_finished = 1, finished_at = ? WHERE id = ?",
			at.UTC().Format(time.RFC3339), id)
	} else {
		_, err = r.db.ExecContext(ctx, "UPDATE in_transit SET quantity_left = ? WHERE id = ?", quantityLeft, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update in-transit record %d: %w", id, err)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.InFlightTransfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query in-transit records: %w", err)
	}
	defer rows.Close()

	var out []domain.InFlightTransfer
	for rows.Next() {
		var t domain.InFlightTransfer
		var finished int
		var finishedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.ProductID, &t.SizeID, &t.FromWarehouse, &t.ToWarehouse,
			&t.FromRegion, &t.ToRegion, &t.Quantity, &t.QuantityLeft, &t.Day, &finished, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan in-transit record: %w", err)
		}
		t.Finished = finished != 0
		if finishedAt.Valid {
			if ts, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				t.FinishedAt = &ts
			} else {
				r.log.Debug().Int64("id", t.ID).Str("finished_at", finishedAt.String).Msg("Unparseable finish time")
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating in-transit records: %w", err)
	}
	return out, nil
}
