package testing

import (
	"database/sql"
	"strconv"
	"testing"
	"time"
)

// Fixture identifiers of the seeded network
const (
	CentralRegion = 1
	SouthRegion   = 2

	CentralWarehouse = 10
	SouthWarehouse   = 20

	FixtureProduct = 100
	FixtureSize    = 1
	FixtureSKU     = 555
)

// NetworkFixture describes the two region network written by SeedNetwork
type NetworkFixture struct {
	// SouthStock is the quantity of the fixture variant at the south warehouse
	SouthStock int
	// CentralStock is the quantity at the central warehouse
	CentralStock int
	// AvailableSince is when the south warehouse started stocking the variant
	AvailableSince time.Time
	// Until ends the availability window
	Until time.Time
}

// DefaultNetwork holds all 100 units in the south with 30 days of availability
func DefaultNetwork(now time.Time) NetworkFixture {
	return NetworkFixture{
		SouthStock:     100,
		CentralStock:   0,
		AvailableSince: now.AddDate(0, 0, -30),
		Until:          now,
	}
}

// SeedNetwork writes regions, warehouses, one product size, its stock and an active task.
// The task targets 20% (min 10%) of stock in the central region and 80% (min 50%) in the south.
func SeedNetwork(t *testing.T, db *sql.DB, f NetworkFixture) {
	t.Helper()

	Exec(t, db, `INSERT INTO regions (id, name, region_key, src_priority, dst_priority) VALUES
		(?, 'Central', 'central', 2, 1), (?, 'South', 'south', 1, 2)`, CentralRegion, SouthRegion)
	Exec(t, db, `INSERT INTO warehouses (id, name, region_id, src_priority, dst_priority, transfer_enabled) VALUES
		(?, 'Central DC', ?, 2, 1, 1), (?, 'South DC', ?, 1, 2, 1)`,
		CentralWarehouse, CentralRegion, SouthWarehouse, SouthRegion)

	Exec(t, db, `INSERT INTO stock_snapshot (product_id, warehouse_id, size_id, region_id, size_name, quantity) VALUES
		(?, ?, ?, ?, 'M', ?), (?, ?, ?, ?, 'M', ?)`,
		strconv.Itoa(FixtureProduct), strconv.Itoa(CentralWarehouse), strconv.Itoa(FixtureSize), strconv.Itoa(CentralRegion), f.CentralStock,
		strconv.Itoa(FixtureProduct), strconv.Itoa(SouthWarehouse), strconv.Itoa(FixtureSize), strconv.Itoa(SouthRegion), f.SouthStock)
	Exec(t, db, "INSERT INTO sku_map (product_id, size_id, sku, tech_size) VALUES (?, ?, ?, 'M')",
		FixtureProduct, FixtureSize, FixtureSKU)
	Exec(t, db, "INSERT INTO availability (product_id, size_id, warehouse_id, time_beg, time_end) VALUES (?, ?, ?, ?, ?)",
		FixtureProduct, FixtureSize, SouthWarehouse,
		f.AvailableSince.UTC().Format(time.RFC3339), f.Until.UTC().Format(time.RFC3339))

	Exec(t, db, "INSERT INTO transfer_tasks (id, name, is_active) VALUES (1, 'fixture', 1)")
	Exec(t, db, `INSERT INTO transfer_task_targets (task_id, region_key, target_share, min_share) VALUES
		(1, 'central', '0.2', '0.1'), (1, 'south', '0.8', '0.5')`)
}
