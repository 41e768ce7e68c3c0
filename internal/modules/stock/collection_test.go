package stock

import (
	"testing"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// Regions 1 and 2 take part in transfers, region 3 only has a non-transfer warehouse.
func testTopology() *domain.Topology {
	return domain.NewTopology(
		[]domain.Region{
			{ID: 1, Key: "central", SrcPriority: intPtr(2), DstPriority: intPtr(1)},
			{ID: 2, Key: "south", SrcPriority: intPtr(1), DstPriority: intPtr(2)},
			{ID: 3, Key: "far_east"},
		},
		[]domain.Warehouse{
			{ID: 10, RegionID: 1, TransferEnabled: true},
			{ID: 11, RegionID: 1, TransferEnabled: false},
			{ID: 20, RegionID: 2, TransferEnabled: true},
			{ID: 21, RegionID: 2, TransferEnabled: true},
			{ID: 30, RegionID: 3, TransferEnabled: false},
		},
	)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBuildAvailabilityIndex(t *testing.T) {
	now := day("2024-03-31")
	rows := []domain.AvailabilityRow{
		{ProductID: 1, SizeID: 2, WarehouseID: 10, Begin: day("2024-03-01"), End: day("2024-03-05")},
		{ProductID: 1, SizeID: 2, WarehouseID: 10, Begin: day("2024-03-04"), End: day("2024-03-06")},
		{ProductID: 1, SizeID: 2, WarehouseID: 11, Begin: day("2024-03-06"), End: day("2024-03-07")},
		// Ended before the window
		{ProductID: 1, SizeID: 2, WarehouseID: 20, Begin: day("2024-01-01"), End: day("2024-02-01")},
	}

	idx := BuildAvailabilityIndex(rows, now, 30)

	assert.Equal(t, 6, idx.Days(1, 2, 10), "overlapping windows count distinct days")
	assert.Equal(t, 2, idx.Days(1, 2, 11))
	assert.Equal(t, 0, idx.Days(1, 2, 20))
	assert.False(t, idx.Has(1, 2, 20))
	assert.Equal(t, 7, idx.UnionDays(1, 2, []int{10, 11, 20}))

	var nilIdx *AvailabilityIndex
	assert.Equal(t, 0, nilIdx.Days(1, 2, 10))
}

func TestBuildDemandIndex(t *testing.T) {
	idx := BuildDemandIndex([]domain.SalesRow{
		{ProductID: 1, SizeID: 2, WarehouseID: 10, Orders: 3},
		{ProductID: 1, SizeID: 2, WarehouseID: 10, Orders: 2},
		{ProductID: 1, SizeID: 2, WarehouseID: 20, Orders: 0},
	})

	n, ok := idx.Orders(1, 2, 10)
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	n, ok = idx.Orders(1, 2, 20)
	assert.True(t, ok)
	assert.Equal(t, 0, n)

	_, ok = idx.Orders(1, 2, 99)
	assert.False(t, ok)
}

func TestBuild_AggregatesAndDropsMalformedRows(t *testing.T) {
	topo := testTopology()
	builder := NewBuilder(zerolog.Nop())

	rows := []domain.StockRow{
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", SizeName: "M", Quantity: 5},
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 2},
		{ProductID: "100", WarehouseID: "11", SizeID: "1", RegionID: "1", Quantity: 3},
		{ProductID: "100", WarehouseID: "30", SizeID: "1", RegionID: "3", Quantity: 4},
		{ProductID: "abc", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 9},
		{ProductID: "100", WarehouseID: "", SizeID: "1", RegionID: "1", Quantity: 9},
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "", Quantity: 9},
	}

	c, stats := builder.Build(rows, topo, nil, nil)

	assert.Equal(t, 3, stats.DroppedRows)
	require.Contains(t, c.Products, 100)
	p := c.Products[100]
	assert.Equal(t, 14, p.Total)

	s := p.Sizes[1]
	require.NotNil(t, s)
	assert.Equal(t, "M", s.Name)
	assert.Equal(t, 14, s.Total)
	assert.Equal(t, 10, s.Regions[1].Total)
	assert.Equal(t, map[int]int{10: 7, 11: 3}, s.Regions[1].Warehouses)
}

func TestBuild_SynthesizesEmptyTransferRegions(t *testing.T) {
	topo := testTopology()
	builder := NewBuilder(zerolog.Nop())

	rows := []domain.StockRow{
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 5},
	}

	c, _ := builder.Build(rows, topo, nil, nil)
	s := c.Products[100].Sizes[1]

	require.Contains(t, s.Regions, 2)
	assert.Equal(t, 0, s.Regions[2].Total)
	assert.Equal(t, map[int]int{20: 0, 21: 0}, s.Regions[2].Warehouses)
	assert.NotContains(t, s.Regions, 3, "regions without transfer warehouses are not synthesized")

	// South is the preferred donor region
	assert.Equal(t, []int{2, 1}, s.RegionOrder)
}

func TestBuild_AvailabilityAndOrders(t *testing.T) {
	topo := testTopology()
	builder := NewBuilder(zerolog.Nop())
	now := day("2024-03-31")

	avail := BuildAvailabilityIndex([]domain.AvailabilityRow{
		{ProductID: 100, SizeID: 1, WarehouseID: 10, Begin: day("2024-03-01"), End: day("2024-03-20")},
		{ProductID: 100, SizeID: 1, WarehouseID: 11, Begin: day("2024-03-15"), End: day("2024-03-25")},
	}, now, 30)
	demand := BuildDemandIndex([]domain.SalesRow{
		{ProductID: 100, SizeID: 1, WarehouseID: 10, Orders: 4},
		{ProductID: 100, SizeID: 1, WarehouseID: 11, Orders: 6},
	})

	rows := []domain.StockRow{
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 5},
		{ProductID: "100", WarehouseID: "11", SizeID: "1", RegionID: "1", Quantity: 1},
	}

	c, _ := builder.Build(rows, topo, avail, demand)
	s := c.Products[100].Sizes[1]

	assert.Equal(t, 20, s.AvailabilityByWarehouse[10])
	assert.Equal(t, 11, s.AvailabilityByWarehouse[11])
	assert.Equal(t, 25, s.AvailabilityByRegion[1])

	assert.Equal(t, 4, s.OrdersByWarehouse[10])
	assert.Equal(t, 0, s.OrdersByWarehouse[20])
	// Region orders include warehouses outside the transfer map
	assert.Equal(t, 10, s.OrdersByRegion[1])
	assert.Equal(t, 0, s.OrdersByRegion[2])
}

func TestMergeInFlight(t *testing.T) {
	topo := testTopology()
	builder := NewBuilder(zerolog.Nop())

	c, _ := builder.Build([]domain.StockRow{
		{ProductID: "100", WarehouseID: "20", SizeID: "1", RegionID: "2", Quantity: 4},
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 6},
	}, topo, nil, nil)

	skipped := builder.MergeInFlight(c, []domain.InFlightRow{
		// More than the source shows: only 4 are subtracted
		{ProductID: "100", SizeID: "1", FromWarehouse: "20", ToWarehouse: "10", FromRegion: "2", ToRegion: "1", Quantity: 7},
		{ProductID: "100", SizeID: "1", FromWarehouse: "20", ToWarehouse: "10", FromRegion: "2", ToRegion: "1", Quantity: 0},
		{ProductID: "x", SizeID: "1", FromWarehouse: "20", ToWarehouse: "10", FromRegion: "2", ToRegion: "1", Quantity: 1},
	}, topo)

	assert.Equal(t, 2, skipped)
	s := c.Products[100].Sizes[1]

	assert.Equal(t, 13, s.Regions[1].Warehouses[10])
	assert.Equal(t, 13, s.Regions[1].Total)
	assert.NotContains(t, s.Regions[2].Warehouses, 20, "emptied source warehouse is removed")
	assert.Equal(t, 0, s.Regions[2].Total)
	assert.Equal(t, 13, s.Total)
}

func TestMergeInFlight_CreatesMissingNodes(t *testing.T) {
	topo := testTopology()
	builder := NewBuilder(zerolog.Nop())
	c := &Collection{Products: make(map[int]*Product)}

	builder.MergeInFlight(c, []domain.InFlightRow{
		{ProductID: "7", SizeID: "3", FromWarehouse: "20", ToWarehouse: "10", FromRegion: "2", ToRegion: "1", Quantity: 2},
	}, topo)

	require.Contains(t, c.Products, 7)
	s := c.Products[7].Sizes[3]
	assert.Equal(t, 2, s.Regions[1].Warehouses[10])
	assert.Equal(t, 0, s.Regions[2].Total)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, []int{2, 1}, s.RegionOrder)
}
