// Package catalog reads the imported stock facts and network configuration from SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/restock/internal/database"
	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TimeLayout is the format of every timestamp column written by the importers (UTC)
const TimeLayout = time.RFC3339

// ErrNoActiveTask is returned when no transfer task is marked active
var ErrNoActiveTask = errors.New("no active transfer task")

// Repository implements domain.DataSource on top of the restock database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a catalog repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "catalog").Logger(),
	}
}

// Topology loads regions and warehouses with their priorities
func (r *Repository) Topology(ctx context.Context) (*domain.Topology, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, region_key, src_priority, dst_priority FROM regions")
	if err != nil {
		return nil, fmt.Errorf("failed to query regions: %w", err)
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var reg domain.Region
		var src, dst sql.NullInt64
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.Key, &src, &dst); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		reg.SrcPriority = nullableInt(src)
		reg.DstPriority = nullableInt(dst)
		regions = append(regions, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regions: %w", err)
	}

	whRows, err := r.db.QueryContext(ctx, "SELECT id, name, region_id, src_priority, dst_priority, transfer_enabled FROM warehouses")
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer whRows.Close()

	var warehouses []domain.Warehouse
	for whRows.Next() {
		var wh domain.Warehouse
		var src, dst sql.NullInt64
		var enabled int
		if err := whRows.Scan(&wh.ID, &wh.Name, &wh.RegionID, &src, &dst, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		wh.SrcPriority = nullableInt(src)
		wh.DstPriority = nullableInt(dst)
		wh.TransferEnabled = enabled != 0
		warehouses = append(warehouses, wh)
	}
	if err := whRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warehouses: %w", err)
	}

	return domain.NewTopology(regions, warehouses), nil
}

// StockRows returns the raw stock snapshot. Identifier columns are passed through unvalidated.
func (r *Repository) StockRows(ctx context.Context) ([]domain.StockRow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT product_id, warehouse_id, size_id, region_id, size_name, quantity FROM stock_snapshot")
	if err != nil {
		return nil, fmt.Errorf("failed to query stock snapshot: %w", err)
	}
	defer rows.Close()

	var out []domain.StockRow
	for rows.Next() {
		var product, warehouse, size, region, sizeName sql.NullString
		var qty sql.NullInt64
		if err := rows.Scan(&product, &warehouse, &size, &region, &sizeName, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		out = append(out, domain.StockRow{
			ProductID:   product.String,
			WarehouseID: warehouse.String,
			SizeID:      size.String,
			RegionID:    region.String,
			SizeName:    sizeName.String,
			Quantity:    int(qty.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock rows: %w", err)
	}
	return out, nil
}

// SalesRows returns recent order counts
func (r *Repository) SalesRows(ctx context.Context) ([]domain.SalesRow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT product_id, size_id, warehouse_id, orders FROM sales")
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var out []domain.SalesRow
	for rows.Next() {
		var s domain.SalesRow
		if err := rows.Scan(&s.ProductID, &s.SizeID, &s.WarehouseID, &s.Orders); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sales rows: %w", err)
	}
	return out, nil
}

// AvailabilityRows returns availability windows that ended at or after since
func (r *Repository) AvailabilityRows(ctx context.Context, since time.Time) ([]domain.AvailabilityRow, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, size_id, warehouse_id, time_beg, time_end FROM availability WHERE time_end >= ?",
		since.UTC().Format(TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	var out []domain.AvailabilityRow
	skipped := 0
	for rows.Next() {
		var a domain.AvailabilityRow
		var begin, end string
		if err := rows.Scan(&a.ProductID, &a.SizeID, &a.WarehouseID, &begin, &end); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		if a.Begin, err = time.Parse(TimeLayout, begin); err != nil {
			skipped++
			continue
		}
		if a.End, err = time.Parse(TimeLayout, end); err != nil {
			skipped++
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating availability rows: %w", err)
	}
	if skipped > 0 {
		r.log.Debug().Int("skipped", skipped).Msg("Dropped availability rows with malformed timestamps")
	}
	return out, nil
}

// Blocklist loads blocked warehouses. A row without size bans the warehouse as a source for the product.
func (r *Repository) Blocklist(ctx context.Context) (*domain.Blocklist, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT product_id, size_id, warehouse_id FROM blocked_warehouses")
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked warehouses: %w", err)
	}
	defer rows.Close()

	bl := domain.NewBlocklist()
	for rows.Next() {
		var product, warehouse int
		var size sql.NullInt64
		if err := rows.Scan(&product, &size, &warehouse); err != nil {
			return nil, fmt.Errorf("failed to scan blocked warehouse: %w", err)
		}
		if size.Valid {
			bl.BlockVariant(product, int(size.Int64), warehouse)
		} else {
			bl.BanSource(product, warehouse)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocked warehouses: %w", err)
	}
	return bl, nil
}

// SKUIndex loads the stock-keeping ids of every known variant
func (r *Repository) SKUIndex(ctx context.Context) (domain.SKUIndex, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT product_id, size_id, sku FROM sku_map")
	if err != nil {
		return nil, fmt.Errorf("failed to query sku map: %w", err)
	}
	defer rows.Close()

	idx := make(domain.SKUIndex)
	for rows.Next() {
		var k domain.VariantKey
		var sku int64
		if err := rows.Scan(&k.ProductID, &k.SizeID, &sku); err != nil {
			return nil, fmt.Errorf("failed to scan sku: %w", err)
		}
		idx[k] = sku
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sku map: %w", err)
	}
	return idx, nil
}

// TechSizes maps product -> tech size label -> size id
func (r *Repository) TechSizes(ctx context.Context) (map[int]map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT product_id, size_id, tech_size FROM sku_map WHERE tech_size != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to query tech sizes: %w", err)
	}
	defer rows.Close()

	out := make(map[int]map[string]int)
	for rows.Next() {
		var product, size int
		var tech string
		if err := rows.Scan(&product, &size, &tech); err != nil {
			return nil, fmt.Errorf("failed to scan tech size: %w", err)
		}
		if out[product] == nil {
			out[product] = make(map[string]int)
		}
		out[product][tech] = size
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tech sizes: %w", err)
	}
	return out, nil
}

// ActiveTask loads the newest active transfer task with its region targets
func (r *Repository) ActiveTask(ctx context.Context) (*domain.TaskConfig, error) {
	task := &domain.TaskConfig{Targets: make(map[string]domain.RegionTarget)}
	err := r.db.QueryRowContext(ctx, "SELECT id FROM transfer_tasks WHERE is_active = 1 ORDER BY id DESC LIMIT 1").Scan(&task.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveTask
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active task: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT region_key, target_share, min_share, min_qty_fixed FROM transfer_task_targets WHERE task_id = ?", task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task targets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, target, minShare string
		var t domain.RegionTarget
		if err := rows.Scan(&key, &target, &minShare, &t.MinQtyFixed); err != nil {
			return nil, fmt.Errorf("failed to scan task target: %w", err)
		}
		if t.TargetShare, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("invalid target share %q for region %s: %w", target, key, err)
		}
		if t.MinShare, err = decimal.NewFromString(minShare); err != nil {
			return nil, fmt.Errorf("invalid min share %q for region %s: %w", minShare, key, err)
		}
		task.Targets[key] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task targets: %w", err)
	}
	return task, nil
}

// LogWarehouseState appends the quota of every warehouse to the state log
func (r *Repository) LogWarehouseState(ctx context.Context, quota map[int]domain.Quota) error {
	if len(quota) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(TimeLayout)
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO warehouse_state_log (office_id, src_value, dst_value, logged_at) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare state log insert: %w", err)
		}
		defer stmt.Close()

		for id, q := range quota {
			if _, err := stmt.ExecContext(ctx, id, q.Src, q.Dst, now); err != nil {
				return fmt.Errorf("failed to log state of warehouse %d: %w", id, err)
			}
		}
		return nil
	})
}

// DestinationRegions returns every known delivery address with its region (nil when unmapped)
func (r *Repository) DestinationRegions(ctx context.Context) (map[string]*int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT address, region_id FROM supply_destinations")
	if err != nil {
		return nil, fmt.Errorf("failed to query supply destinations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*int)
	for rows.Next() {
		var addr string
		var region sql.NullInt64
		if err := rows.Scan(&addr, &region); err != nil {
			return nil, fmt.Errorf("failed to scan supply destination: %w", err)
		}
		out[addr] = nullableInt(region)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supply destinations: %w", err)
	}
	return out, nil
}

// AddDestination records a delivery address that has no region mapping yet
func (r *Repository) AddDestination(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, "INSERT OR IGNORE INTO supply_destinations (address, region_id) VALUES (?, NULL)", address); err != nil {
		return fmt.Errorf("failed to add supply destination: %w", err)
	}
	return nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
