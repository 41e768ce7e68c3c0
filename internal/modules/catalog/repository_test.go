package catalog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/restock/internal/domain"
	testingpkg "github.com/aristath/restock/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return testingpkg.NewTestDB(t).Conn()
}

func TestTopology(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, `INSERT INTO regions (id, name, region_key, src_priority, dst_priority) VALUES
		(1, 'Central', 'central', 2, 1), (2, 'South', 'south', NULL, 2)`)
	testingpkg.Exec(t, db, `INSERT INTO warehouses (id, name, region_id, src_priority, dst_priority, transfer_enabled) VALUES
		(10, 'A', 1, 1, NULL, 1), (11, 'B', 1, NULL, 1, 0), (20, 'C', 2, 2, 2, 1)`)

	topo, err := NewRepository(db, zerolog.Nop()).Topology(context.Background())
	require.NoError(t, err)

	assert.Len(t, topo.Regions, 2)
	assert.Nil(t, topo.Regions[2].SrcPriority)
	assert.Equal(t, []int{1, 2}, topo.RegionDstOrder)
	assert.Equal(t, []int{1, 2}, topo.RegionSrcOrder)
	assert.Equal(t, []int{10, 11}, topo.AdminMap[1])
	assert.Equal(t, []int{10}, topo.TransferMap[1], "disabled warehouses stay out of the transfer map")
	assert.Equal(t, []int{10, 20, 11}, topo.WarehouseSrcOrder)
}

func TestStockRowsPassThroughMalformedIDs(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, `INSERT INTO stock_snapshot (product_id, warehouse_id, size_id, region_id, size_name, quantity) VALUES
		('100', '10', '1', '1', 'M', 5), (NULL, 'x', '1', '1', NULL, NULL)`)

	rows, err := NewRepository(db, zerolog.Nop()).StockRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.StockRow{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", SizeName: "M", Quantity: 5}, rows[0])
	assert.Equal(t, "", rows[1].ProductID)
	assert.Equal(t, "x", rows[1].WarehouseID)
}

func TestAvailabilityRowsFiltersByEnd(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	testingpkg.Exec(t, db, "INSERT INTO availability VALUES (1, 1, 10, ?, ?)", now.AddDate(0, 0, -40).Format(TimeLayout), now.AddDate(0, 0, -35).Format(TimeLayout))
	testingpkg.Exec(t, db, "INSERT INTO availability VALUES (1, 1, 10, ?, ?)", now.AddDate(0, 0, -10).Format(TimeLayout), now.Format(TimeLayout))
	testingpkg.Exec(t, db, "INSERT INTO availability VALUES (1, 1, 11, 'garbage', ?)", now.Format(TimeLayout))

	rows, err := NewRepository(db, zerolog.Nop()).AvailabilityRows(context.Background(), now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, now, rows[0].End)
}

func TestSalesRows(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, "INSERT INTO sales VALUES (1, 2, 10, 7)")

	rows, err := NewRepository(db, zerolog.Nop()).SalesRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.SalesRow{{ProductID: 1, SizeID: 2, WarehouseID: 10, Orders: 7}}, rows)
}

func TestBlocklist(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, "INSERT INTO blocked_warehouses VALUES (1, 2, 10), (1, NULL, 20)")

	bl, err := NewRepository(db, zerolog.Nop()).Blocklist(context.Background())
	require.NoError(t, err)
	assert.True(t, bl.Blocked(1, 2, 10))
	assert.False(t, bl.Blocked(1, 3, 10))
	assert.True(t, bl.SourceBanned(1, 20))
	assert.False(t, bl.SourceBanned(1, 10))
}

func TestSKUIndexAndTechSizes(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, "INSERT INTO sku_map VALUES (1, 2, 555, 'M'), (1, 3, 556, '')")

	repo := NewRepository(db, zerolog.Nop())
	idx, err := repo.SKUIndex(context.Background())
	require.NoError(t, err)
	sku, ok := idx.Lookup(1, 3)
	assert.True(t, ok)
	assert.Equal(t, int64(556), sku)

	tech, err := repo.TechSizes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]map[string]int{1: {"M": 2}}, tech)
}

func TestActiveTask(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	_, err := repo.ActiveTask(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveTask)

	testingpkg.Exec(t, db, "INSERT INTO transfer_tasks (id, name, is_active) VALUES (1, 'old', 1), (2, 'new', 1), (3, 'off', 0)")
	testingpkg.Exec(t, db, "INSERT INTO transfer_task_targets VALUES (2, 'central', '0.5', '0.25', 3)")

	task, err := repo.ActiveTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, task.ID)
	target := task.Target("central")
	assert.True(t, target.TargetShare.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, target.MinShare.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 3, target.MinQtyFixed)
}

func TestActiveTaskInvalidShare(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, "INSERT INTO transfer_tasks (id, is_active) VALUES (1, 1)")
	testingpkg.Exec(t, db, "INSERT INTO transfer_task_targets VALUES (1, 'central', 'half', '0', 0)")

	_, err := NewRepository(db, zerolog.Nop()).ActiveTask(context.Background())
	assert.Error(t, err)
}

func TestLogWarehouseState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.LogWarehouseState(context.Background(), map[int]domain.Quota{10: {Src: 1, Dst: 2}, 11: {Src: 3, Dst: 4}}))
	require.NoError(t, repo.LogWarehouseState(context.Background(), nil))

	var count, dst int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM warehouse_state_log").Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, db.QueryRow("SELECT dst_value FROM warehouse_state_log WHERE office_id = 11").Scan(&dst))
	assert.Equal(t, 4, dst)
}

func TestDestinations(t *testing.T) {
	db := setupTestDB(t)
	testingpkg.Exec(t, db, "INSERT INTO supply_destinations VALUES ('Kazan', 2)")
	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.AddDestination(context.Background(), "Tver"))
	require.NoError(t, repo.AddDestination(context.Background(), "Kazan"))

	dest, err := repo.DestinationRegions(context.Background())
	require.NoError(t, err)
	require.Len(t, dest, 2)
	require.NotNil(t, dest["Kazan"])
	assert.Equal(t, 2, *dest["Kazan"], "existing mapping is kept")
	assert.Nil(t, dest["Tver"])
}
