package requests

import (
	"testing"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

type fixture struct {
	quota *domain.QuotaBook
	plan  *allocation.Plan
	skus  domain.SKUIndex
	block *domain.Blocklist
}

func newFixture() *fixture {
	topo := domain.NewTopology(
		[]domain.Region{
			{ID: 1, Key: "a", DstPriority: intPtr(1)},
			{ID: 2, Key: "b", SrcPriority: intPtr(1)},
			{ID: 3, Key: "c", DstPriority: intPtr(2)},
		},
		[]domain.Warehouse{
			{ID: 10, RegionID: 1, DstPriority: intPtr(2), TransferEnabled: true},
			{ID: 11, RegionID: 1, DstPriority: intPtr(1), TransferEnabled: true},
			{ID: 20, RegionID: 2, SrcPriority: intPtr(1), TransferEnabled: true},
			{ID: 30, RegionID: 3, TransferEnabled: true},
		},
	)
	quota := domain.NewQuotaBook(map[int]domain.Quota{
		10: {Dst: 3},
		11: {Dst: 2},
		20: {Src: 50},
		30: {Dst: 10},
	})
	return &fixture{
		quota: quota,
		plan:  &allocation.Plan{Topology: topo.ForPass(quota)},
		skus: domain.SKUIndex{
			{ProductID: 100, SizeID: 1}: 1001,
			{ProductID: 100, SizeID: 2}: 1002,
			{ProductID: 200, SizeID: 1}: 2001,
			{ProductID: 300, SizeID: 1}: 3001,
		},
		block: domain.NewBlocklist(),
	}
}

func (f *fixture) intent(productID, sizeID, dstRegion, qty, sourceStock int) {
	f.plan.Intents = append(f.plan.Intents, domain.TransferIntent{
		ProductID: productID, SizeID: sizeID, SourceWarehouse: 20, SourceRegion: 2,
		DestinationRegion: dstRegion, Quantity: qty,
	})
	var pp *allocation.ProductPlan
	for _, p := range f.plan.Products {
		if p.ProductID == productID {
			pp = p
		}
	}
	if pp == nil {
		pp = &allocation.ProductPlan{ProductID: productID}
		f.plan.Products = append(f.plan.Products, pp)
	}
	pp.Sizes = append(pp.Sizes, &allocation.SizePlan{
		ProductID:   productID,
		SizeID:      sizeID,
		SizeName:    "S",
		SourceStock: map[int]int{20: sourceStock},
		Moved:       qty,
	})
}

func (f *fixture) build() *Result {
	return NewBuilder(zerolog.Nop()).Build(Input{Plan: f.plan, Quota: f.quota, Blocklist: f.block, SKUs: f.skus})
}

func TestBuild_SplitsOverDestinationsByPriority(t *testing.T) {
	f := newFixture()
	f.intent(100, 1, 1, 4, 80)

	res := f.build()

	require.Len(t, res.Requests, 2)
	assert.Equal(t, 11, res.Requests[0].Destination)
	assert.Equal(t, []domain.LineItem{{SKU: 1001, SizeID: 1, SizeName: "S", Quantity: 2}}, res.Requests[0].Lines)
	assert.Equal(t, 10, res.Requests[1].Destination)
	assert.Equal(t, 2, res.Requests[1].Total())

	for _, req := range res.Requests {
		assert.Equal(t, 20, req.Source)
		assert.Equal(t, 2, req.SourceRegion)
		assert.Equal(t, 1, req.DestinationRegion)
	}
	assert.Equal(t, 4, res.Units())
}

func TestBuild_SourceBatchGoesToLargestRegion(t *testing.T) {
	f := newFixture()
	f.intent(100, 1, 1, 4, 80)
	f.intent(100, 2, 3, 2, 10)

	res := f.build()

	for _, req := range res.Requests {
		assert.Equal(t, 1, req.DestinationRegion)
		for _, line := range req.Lines {
			assert.Equal(t, 1, line.SizeID)
		}
	}
}

func TestBuild_LimitedBySourceStock(t *testing.T) {
	f := newFixture()
	f.intent(100, 1, 1, 4, 1)

	res := f.build()

	require.Len(t, res.Requests, 1)
	assert.Equal(t, 1, res.Requests[0].Total())
}

func TestBuild_MissingSKUIsDefect(t *testing.T) {
	f := newFixture()
	delete(f.skus, domain.VariantKey{ProductID: 100, SizeID: 1})
	f.intent(100, 1, 1, 4, 80)

	res := f.build()

	assert.Empty(t, res.Requests)
	require.Len(t, res.Defects, 1)
	assert.Equal(t, DefectMissingSKU, res.Defects[0].Kind)
	assert.Equal(t, 1, res.Defects[0].SizeID)
}

func TestBuild_SkipsBlockedDestination(t *testing.T) {
	f := newFixture()
	f.block.BlockVariant(100, 1, 11)
	f.intent(100, 1, 1, 4, 80)

	res := f.build()

	require.Len(t, res.Requests, 1)
	assert.Equal(t, 10, res.Requests[0].Destination)
	assert.Equal(t, 3, res.Requests[0].Total())
}

func TestBuild_SkipsBannedSource(t *testing.T) {
	f := newFixture()
	f.block.BanSource(100, 20)
	f.intent(100, 1, 1, 4, 80)

	assert.Empty(t, f.build().Requests)
}

func TestBuild_SkipsSourceWithoutQuota(t *testing.T) {
	f := newFixture()
	f.quota.Set(20, domain.DirectionSrc, 0)
	f.intent(100, 1, 1, 4, 80)

	assert.Empty(t, f.build().Requests)
}

func TestBuild_DestinationQuotaIsSharedAcrossProducts(t *testing.T) {
	f := newFixture()
	f.intent(100, 1, 1, 4, 80)
	f.intent(200, 1, 1, 3, 80)

	res := f.build()

	require.Len(t, res.Requests, 3)
	assert.Equal(t, 100, res.Requests[0].ProductID)
	assert.Equal(t, 11, res.Requests[0].Destination)
	assert.Equal(t, 100, res.Requests[1].ProductID)
	assert.Equal(t, 10, res.Requests[1].Destination)
	assert.Equal(t, 200, res.Requests[2].ProductID)
	assert.Equal(t, 10, res.Requests[2].Destination)
	assert.Equal(t, 1, res.Requests[2].Total())

	perDst := map[int]int{}
	for _, req := range res.Requests {
		perDst[req.Destination] += req.Total()
	}
	assert.LessOrEqual(t, perDst[10], 3)
	assert.LessOrEqual(t, perDst[11], 2)
}

func TestBuild_DestinationsWithoutPriorityGoLast(t *testing.T) {
	f := newFixture()
	f.intent(300, 1, 3, 5, 80)
	f.intent(100, 1, 1, 1, 80)

	res := f.build()

	require.Len(t, res.Requests, 2)
	assert.Equal(t, 11, res.Requests[0].Destination)
	assert.Equal(t, 30, res.Requests[1].Destination)
}

func TestBuild_EmptyPlan(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	assert.Empty(t, b.Build(Input{}).Requests)
}
