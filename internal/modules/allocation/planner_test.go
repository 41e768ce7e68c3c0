package allocation

import (
	"testing"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/modules/stock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func share(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

// fixture is a three region network: A receives first, B donates first, C is last on both sides.
type fixture struct {
	topo      *domain.Topology
	quota     *domain.QuotaBook
	task      domain.TaskConfig
	blocklist *domain.Blocklist
	stock     []domain.StockRow
	avail     []domain.AvailabilityRow
	sales     []domain.SalesRow
}

func newFixture() *fixture {
	return &fixture{
		topo: domain.NewTopology(
			[]domain.Region{
				{ID: 1, Name: "A", Key: "a", SrcPriority: intPtr(2), DstPriority: intPtr(1)},
				{ID: 2, Name: "B", Key: "b", SrcPriority: intPtr(1), DstPriority: intPtr(2)},
				{ID: 3, Name: "C", Key: "c", SrcPriority: intPtr(3), DstPriority: intPtr(3)},
			},
			[]domain.Warehouse{
				{ID: 10, RegionID: 1, SrcPriority: intPtr(3), DstPriority: intPtr(1), TransferEnabled: true},
				{ID: 11, RegionID: 1, SrcPriority: intPtr(4), DstPriority: intPtr(2), TransferEnabled: true},
				{ID: 20, RegionID: 2, SrcPriority: intPtr(1), DstPriority: intPtr(3), TransferEnabled: true},
				{ID: 21, RegionID: 2, SrcPriority: intPtr(2), DstPriority: intPtr(4), TransferEnabled: true},
				{ID: 30, RegionID: 3, SrcPriority: intPtr(5), DstPriority: intPtr(5), TransferEnabled: true},
			},
		),
		quota: domain.NewQuotaBook(map[int]domain.Quota{
			10: {Src: 0, Dst: 50},
			11: {Src: 0, Dst: 50},
			20: {Src: 20, Dst: 0},
			21: {Src: 20, Dst: 0},
			30: {Src: 0, Dst: 0},
		}),
		task: domain.TaskConfig{Targets: map[string]domain.RegionTarget{
			"a": {TargetShare: share("0.10"), MinShare: share("0.05")},
			"b": {TargetShare: share("0.50"), MinShare: share("0.30")},
			"c": {TargetShare: share("0.15")},
		}},
		blocklist: domain.NewBlocklist(),
		stock: []domain.StockRow{
			{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", SizeName: "M", Quantity: 5},
			{ProductID: "100", WarehouseID: "20", SizeID: "1", RegionID: "2", SizeName: "M", Quantity: 80},
			{ProductID: "100", WarehouseID: "30", SizeID: "1", RegionID: "3", SizeName: "M", Quantity: 15},
		},
		avail: []domain.AvailabilityRow{
			{ProductID: 100, SizeID: 1, WarehouseID: 20, Begin: testNow.AddDate(0, 0, -20), End: testNow},
			{ProductID: 100, SizeID: 1, WarehouseID: 21, Begin: testNow.AddDate(0, 0, -20), End: testNow},
		},
	}
}

func (f *fixture) input() Input {
	builder := stock.NewBuilder(zerolog.Nop())
	c, _ := builder.Build(
		f.stock,
		f.topo,
		stock.BuildAvailabilityIndex(f.avail, testNow, 30),
		stock.BuildDemandIndex(f.sales),
	)
	return Input{Collection: c, Topology: f.topo, Task: f.task, Quota: f.quota, Blocklist: f.blocklist}
}

func newTestPlanner() *Planner {
	return NewPlanner(Config{MinAvailabilityDays: 14}, zerolog.Nop())
}

func TestPlan_MovesDeficitFromPreferredDonor(t *testing.T) {
	f := newFixture()
	plan := newTestPlanner().Plan(f.input())

	require.Len(t, plan.Intents, 1)
	assert.Equal(t, domain.TransferIntent{
		ProductID:         100,
		SizeID:            1,
		SourceWarehouse:   20,
		SourceRegion:      2,
		DestinationRegion: 1,
		Quantity:          5,
	}, plan.Intents[0])

	require.Len(t, plan.Products, 1)
	require.Len(t, plan.Products[0].Sizes, 1)
	sp := plan.Products[0].Sizes[0]
	assert.Equal(t, "M", sp.SizeName)
	assert.Equal(t, 5, sp.Moved)

	a := sp.Regions[1]
	assert.Equal(t, 10, a.TargetStock)
	assert.Equal(t, 5, a.MinStock)
	assert.True(t, a.BelowMin)
	assert.Equal(t, 0, a.AmountToDeliver)
	assert.Equal(t, map[int]int{20: 5}, a.Incoming)

	b := sp.Regions[2]
	assert.Equal(t, 80, b.StockBefore)
	assert.Equal(t, 75, b.StockAfter)
	assert.Equal(t, 75, b.Warehouses[20])
	assert.Equal(t, 80, sp.SourceStock[20])

	c := sp.Regions[3]
	assert.False(t, c.CanReceive)
	assert.Equal(t, SkipNoDstQuota, c.SkipReason)
}

func TestPlan_SharesUseExactDecimalFloor(t *testing.T) {
	f := newFixture()
	// 0.29 * 100 is 28.999... in binary floating point
	f.task.Targets["a"] = domain.RegionTarget{TargetShare: share("0.29"), MinShare: share("0.29")}
	plan := newTestPlanner().Plan(f.input())

	require.Len(t, plan.Products, 1)
	a := plan.Products[0].Sizes[0].Regions[1]
	assert.Equal(t, 29, a.TargetStock)
	assert.Equal(t, 29, a.MinStock)
	assert.Equal(t, 24, plan.Intents[0].Quantity)
}

func TestPlan_NoEligibleDestinationWarehouse(t *testing.T) {
	f := newFixture()
	f.blocklist.BlockVariant(100, 1, 10)
	f.blocklist.BlockVariant(100, 1, 11)

	plan := newTestPlanner().Plan(f.input())

	assert.Empty(t, plan.Intents)
	assert.Empty(t, plan.Products)
}

func TestPlan_SkipReasonForBlockedReceiver(t *testing.T) {
	f := newFixture()
	f.blocklist.BlockVariant(100, 1, 10)
	f.blocklist.BlockVariant(100, 1, 11)

	in := f.input()
	p := newTestPlanner()
	pass := in.Topology.ForPass(in.Quota)
	sp := p.planSize(in.Collection.Products[100].Sizes[1], pass, in)

	assert.Equal(t, 0, sp.Moved)
	assert.Equal(t, SkipNoDstWarehouses, sp.Regions[1].SkipReason)
}

func TestPlan_ZeroDestinationQuota(t *testing.T) {
	f := newFixture()
	f.quota.Set(10, domain.DirectionDst, 0)
	f.quota.Set(11, domain.DirectionDst, 0)

	in := f.input()
	p := newTestPlanner()
	pass := in.Topology.ForPass(in.Quota)
	sp := p.planSize(in.Collection.Products[100].Sizes[1], pass, in)

	assert.Equal(t, 0, sp.Moved)
	assert.False(t, sp.Regions[1].CanReceive)
	assert.Equal(t, SkipNoDstQuota, sp.Regions[1].SkipReason)
}

func TestPlan_DonorNeedsAvailabilityHistory(t *testing.T) {
	f := newFixture()
	f.avail = []domain.AvailabilityRow{
		{ProductID: 100, SizeID: 1, WarehouseID: 20, Begin: testNow.AddDate(0, 0, -5), End: testNow},
	}

	plan := newTestPlanner().Plan(f.input())
	assert.Empty(t, plan.Intents)
}

func TestPlan_DonorDemandExceedsStock(t *testing.T) {
	f := newFixture()
	f.sales = []domain.SalesRow{{ProductID: 100, SizeID: 1, WarehouseID: 20, Orders: 81}}

	plan := newTestPlanner().Plan(f.input())
	assert.Empty(t, plan.Intents)
}

func TestPlan_DonorWithoutSourceQuotaIsSkipped(t *testing.T) {
	f := newFixture()
	f.quota.Set(20, domain.DirectionSrc, 0)
	f.quota.Set(21, domain.DirectionSrc, 0)

	plan := newTestPlanner().Plan(f.input())
	assert.Empty(t, plan.Intents)
}

func TestPlan_FirstFitAcrossDonorWarehouses(t *testing.T) {
	f := newFixture()
	f.stock = []domain.StockRow{
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 0},
		{ProductID: "100", WarehouseID: "20", SizeID: "1", RegionID: "2", Quantity: 3},
		{ProductID: "100", WarehouseID: "21", SizeID: "1", RegionID: "2", Quantity: 97},
	}
	f.task.Targets["a"] = domain.RegionTarget{TargetShare: share("0.10"), MinShare: share("0.05")}

	plan := newTestPlanner().Plan(f.input())

	// Warehouse 20 comes first in donor order and gives everything it has
	require.Len(t, plan.Intents, 2)
	assert.Equal(t, 20, plan.Intents[0].SourceWarehouse)
	assert.Equal(t, 3, plan.Intents[0].Quantity)
	assert.Equal(t, 21, plan.Intents[1].SourceWarehouse)
	assert.Equal(t, 7, plan.Intents[1].Quantity)
}

func TestPlan_FixedMinimumQuantity(t *testing.T) {
	f := newFixture()
	f.stock[0].Quantity = 0
	f.task.Targets["a"] = domain.RegionTarget{TargetShare: share("0"), MinShare: share("0"), MinQtyFixed: 3}

	plan := newTestPlanner().Plan(f.input())

	require.Len(t, plan.Intents, 1)
	assert.Equal(t, 3, plan.Intents[0].Quantity)
}

func TestPlan_ReceiverAboveMinimumIsLeftAlone(t *testing.T) {
	f := newFixture()
	f.stock[0].Quantity = 8 // target 10, min 5

	plan := newTestPlanner().Plan(f.input())
	assert.Empty(t, plan.Intents)
}

func TestPlan_DoesNotMutateInputAndIsRepeatable(t *testing.T) {
	f := newFixture()
	in := f.input()
	p := newTestPlanner()

	first := p.Plan(in)
	second := p.Plan(in)

	assert.Equal(t, first.Intents, second.Intents)
	assert.Equal(t, 80, in.Collection.Products[100].Sizes[1].Regions[2].Warehouses[20])
	assert.Equal(t, 20, f.quota.Src(20))
}

func TestPlan_ConservationAndDonorFloor(t *testing.T) {
	f := newFixture()
	f.stock = []domain.StockRow{
		{ProductID: "100", WarehouseID: "10", SizeID: "1", RegionID: "1", Quantity: 1},
		{ProductID: "100", WarehouseID: "20", SizeID: "1", RegionID: "2", Quantity: 60},
		{ProductID: "100", WarehouseID: "21", SizeID: "1", RegionID: "2", Quantity: 39},
		{ProductID: "100", WarehouseID: "10", SizeID: "2", RegionID: "1", Quantity: 0},
		{ProductID: "100", WarehouseID: "21", SizeID: "2", RegionID: "2", Quantity: 12},
		{ProductID: "200", WarehouseID: "11", SizeID: "1", RegionID: "1", Quantity: 2},
		{ProductID: "200", WarehouseID: "20", SizeID: "1", RegionID: "2", Quantity: 40},
	}
	for _, pid := range []int{100, 200} {
		for _, sid := range []int{1, 2} {
			for _, wh := range []int{20, 21} {
				f.avail = append(f.avail, domain.AvailabilityRow{
					ProductID: pid, SizeID: sid, WarehouseID: wh,
					Begin: testNow.AddDate(0, 0, -25), End: testNow,
				})
			}
		}
	}
	f.task.Targets["a"] = domain.RegionTarget{TargetShare: share("0.40"), MinShare: share("0.20")}
	f.task.Targets["b"] = domain.RegionTarget{TargetShare: share("0.45"), MinShare: share("0.20")}

	plan := newTestPlanner().Plan(f.input())
	require.NotEmpty(t, plan.Intents)

	for _, pp := range plan.Products {
		for _, sp := range pp.Sizes {
			removed, added := 0, 0
			for _, rs := range sp.Regions {
				removed += rs.StockBefore - rs.StockAfter
				for _, q := range rs.Incoming {
					added += q
				}
				assert.GreaterOrEqual(t, rs.StockAfter, 0)
				for _, q := range rs.Warehouses {
					assert.GreaterOrEqual(t, q, 0)
				}
				if rs.StockAfter < rs.StockBefore {
					assert.GreaterOrEqual(t, rs.StockAfter, rs.TargetStock, "donor depleted below its target")
				}
			}
			assert.Equal(t, removed, added)
			assert.Equal(t, sp.Moved, added)
		}
	}
	for _, in := range plan.Intents {
		assert.Greater(t, in.Quantity, 0)
	}
}

func TestPlan_MalformedProductIsSkipped(t *testing.T) {
	f := newFixture()
	in := f.input()
	in.Collection.Products[999] = &stock.Product{ID: 999, Sizes: map[int]*stock.Size{1: nil}}

	plan := newTestPlanner().Plan(in)

	require.Len(t, plan.Defects, 1)
	assert.Equal(t, 999, plan.Defects[0].ProductID)
	assert.Equal(t, "planner_error", plan.Defects[0].Kind)
	require.Len(t, plan.Intents, 1, "other products are still planned")
}
