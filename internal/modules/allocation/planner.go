package allocation

import (
	"fmt"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/modules/stock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds planner thresholds
type Config struct {
	// MinAvailabilityDays is how many days a donor warehouse must have had the variant
	MinAvailabilityDays int
}

// Input is everything one planning pass reads
type Input struct {
	Collection *stock.Collection
	Topology   *domain.Topology
	Task       domain.TaskConfig
	Quota      domain.QuotaView
	Blocklist  *domain.Blocklist
}

// Planner computes region deficits and matches donors to receivers.
// It never mutates its input; all working state lives in the returned Plan.
type Planner struct {
	cfg Config
	log zerolog.Logger
}

// NewPlanner creates a new allocation planner
func NewPlanner(cfg Config, log zerolog.Logger) *Planner {
	return &Planner{
		cfg: cfg,
		log: log.With().Str("service", "allocation_planner").Logger(),
	}
}

// Plan runs one planning pass over every product of the collection
func (p *Planner) Plan(in Input) *Plan {
	pass := in.Topology.ForPass(in.Quota)
	plan := &Plan{Topology: pass}

	for _, productID := range in.Collection.ProductIDs() {
		product := in.Collection.Products[productID]
		pp, intents, err := p.planProduct(product, pass, in)
		if err != nil {
			p.log.Error().Err(err).Int("product_id", productID).Msg("Skipping product")
			plan.Defects = append(plan.Defects, Defect{ProductID: productID, Kind: "planner_error", Detail: err.Error()})
			continue
		}
		if pp != nil {
			plan.Products = append(plan.Products, pp)
			plan.Intents = append(plan.Intents, intents...)
		}
	}

	p.log.Info().
		Int("products", len(in.Collection.Products)).
		Int("planned_products", len(plan.Products)).
		Int("intents", len(plan.Intents)).
		Int("units", plan.TotalUnits()).
		Int("defects", len(plan.Defects)).
		Msg("Planning pass finished")

	return plan
}

// planProduct plans every size of a product. A panic is turned into an error so one
// bad record cannot abort the pass.
func (p *Planner) planProduct(product *stock.Product, pass *domain.Topology, in Input) (pp *ProductPlan, intents []domain.TransferIntent, err error) {
	defer func() {
		if r := recover(); r != nil {
			pp, intents, err = nil, nil, fmt.Errorf("panic while planning: %v", r)
		}
	}()

	if product == nil {
		return nil, nil, fmt.Errorf("missing product record")
	}

	for _, sizeID := range product.SizeIDs() {
		size := product.Sizes[sizeID]
		if size == nil {
			return nil, nil, fmt.Errorf("missing size %d", sizeID)
		}
		sp := p.planSize(size, pass, in)
		if sp.Moved == 0 {
			continue
		}
		if pp == nil {
			pp = &ProductPlan{ProductID: product.ID}
		}
		pp.Sizes = append(pp.Sizes, sp)
		intents = append(intents, sizeIntents(sp, pass)...)
	}
	return pp, intents, nil
}

func (p *Planner) planSize(size *stock.Size, pass *domain.Topology, in Input) *SizePlan {
	sp := &SizePlan{
		ProductID:   size.ProductID,
		SizeID:      size.ID,
		SizeName:    size.Name,
		Total:       size.Total,
		Regions:     make(map[int]*RegionStock, len(size.Regions)),
		SourceStock: make(map[int]int),
	}

	for _, regionID := range size.RegionOrder {
		node := size.Regions[regionID]
		region, ok := pass.Regions[regionID]
		if node == nil || !ok {
			p.log.Debug().
				Int("product_id", size.ProductID).
				Int("size_id", size.ID).
				Int("region_id", regionID).
				Msg("Region not in topology, ignoring")
			continue
		}
		sp.Regions[regionID] = newRegionStock(region, node, size.Total, in.Task.Target(region.Key), pass, in.Quota)
		sp.RegionOrder = append(sp.RegionOrder, regionID)
	}

	p.distribute(sp, size, pass, in)
	return sp
}

func newRegionStock(region domain.Region, node *stock.RegionNode, total int, target domain.RegionTarget, pass *domain.Topology, quota domain.QuotaView) *RegionStock {
	rs := &RegionStock{
		RegionID:       region.ID,
		Name:           region.Name,
		Key:            region.Key,
		Warehouses:     make(map[int]int, len(node.Warehouses)),
		StockBefore:    node.Total,
		StockAfter:     node.Total,
		TargetShare:    target.TargetShare,
		MinShare:       target.MinShare,
		MinQtyFixed:    target.MinQtyFixed,
		Incoming:       make(map[int]int),
		IncomingRegion: make(map[int]int),
	}
	for wh, qty := range node.Warehouses {
		rs.Warehouses[wh] = qty
	}

	rs.TargetStock = shareOf(total, target.TargetShare)
	rs.MinStock = shareOf(total, target.MinShare)
	rs.AmountToDeliver = max(0, rs.TargetStock-rs.StockBefore, rs.MinQtyFixed-rs.StockBefore)
	rs.BelowMin = rs.StockBefore <= rs.MinStock && rs.AmountToDeliver > 0

	_, dst := domain.RegionQuota(quota, pass.TransferMap[region.ID])
	if dst <= 0 {
		rs.SkipReason = SkipNoDstQuota
	} else {
		rs.CanReceive = true
	}
	return rs
}

// shareOf returns floor(total * share)
func shareOf(total int, share decimal.Decimal) int {
	return int(decimal.NewFromInt(int64(total)).Mul(share).Floor().IntPart())
}

// distribute walks receivers in receiver priority order and fills each from donors
// in donor priority order.
func (p *Planner) distribute(sp *SizePlan, size *stock.Size, pass *domain.Topology, in Input) {
	for _, dstID := range pass.RegionDstOrder {
		dst := sp.Regions[dstID]
		if dst == nil || !dst.CanReceive || !dst.BelowMin || dst.AmountToDeliver <= 0 {
			continue
		}

		dstWarehouses := eligibleWarehouses(pass.WarehouseDstOrder, dstID, domain.DirectionDst, sp, pass, in)
		if len(dstWarehouses) == 0 {
			dst.SkipReason = SkipNoDstWarehouses
			continue
		}

		for _, srcID := range pass.RegionSrcOrder {
			if dst.AmountToDeliver <= 0 {
				break
			}
			if srcID == dstID {
				continue
			}
			src := sp.Regions[srcID]
			if src == nil {
				continue
			}
			if srcQuota, _ := domain.RegionQuota(in.Quota, pass.TransferMap[srcID]); srcQuota <= 0 {
				continue
			}

			srcWarehouses, ok := p.validDonor(src, size, sp, pass, in)
			if !ok {
				continue
			}

			available := 0
			for _, wh := range srcWarehouses {
				available += src.Warehouses[wh]
			}
			transferable := max(0, src.StockAfter-src.TargetStock)
			amount := min(available, transferable, dst.AmountToDeliver)
			if amount <= 0 {
				continue
			}

			sp.Moved += drawFromWarehouses(sp, src, dst, srcWarehouses, amount)
		}
	}
}

// validDonor returns the donor's eligible source warehouses when at least one of them has
// been available long enough and the region's demand is covered by its projected stock.
func (p *Planner) validDonor(src *RegionStock, size *stock.Size, sp *SizePlan, pass *domain.Topology, in Input) ([]int, bool) {
	warehouses := eligibleWarehouses(pass.WarehouseSrcOrder, src.RegionID, domain.DirectionSrc, sp, pass, in)
	if len(warehouses) == 0 {
		return nil, false
	}
	if src.StockAfter-size.OrdersByRegion[src.RegionID] < 0 {
		return nil, false
	}
	for _, wh := range warehouses {
		if size.AvailabilityByWarehouse[wh] >= p.cfg.MinAvailabilityDays {
			return warehouses, true
		}
	}
	return nil, false
}

// eligibleWarehouses filters a warehouse priority order down to the region's transfer
// warehouses that have quota in the direction and are not blocked for the variant.
func eligibleWarehouses(order []int, regionID int, dir domain.Direction, sp *SizePlan, pass *domain.Topology, in Input) []int {
	var out []int
	for _, wh := range order {
		q := in.Quota.Dst(wh)
		if dir == domain.DirectionSrc {
			q = in.Quota.Src(wh)
		}
		if q <= 0 || !pass.InTransferMap(regionID, wh) || in.Blocklist.Blocked(sp.ProductID, sp.SizeID, wh) {
			continue
		}
		out = append(out, wh)
	}
	return out
}

// drawFromWarehouses moves amount units first-fit across the donor warehouses
func drawFromWarehouses(sp *SizePlan, src, dst *RegionStock, warehouses []int, amount int) int {
	moved := 0
	for _, wh := range warehouses {
		if amount <= 0 {
			break
		}
		have := src.Warehouses[wh]
		if have <= 0 {
			continue
		}
		take := min(have, amount)

		sp.SourceStock[wh] = have
		dst.Incoming[wh] += take
		dst.IncomingRegion[wh] = src.RegionID
		src.Warehouses[wh] = have - take
		src.StockAfter -= take
		dst.AmountToDeliver -= take
		amount -= take
		moved += take
	}
	return moved
}

// sizeIntents lists the moves of a size in receiver then source priority order
func sizeIntents(sp *SizePlan, pass *domain.Topology) []domain.TransferIntent {
	var intents []domain.TransferIntent
	for _, dstID := range pass.RegionDstOrder {
		dst := sp.Regions[dstID]
		if dst == nil || len(dst.Incoming) == 0 {
			continue
		}
		for _, wh := range pass.WarehouseSrcOrder {
			qty := dst.Incoming[wh]
			if qty <= 0 {
				continue
			}
			intents = append(intents, domain.TransferIntent{
				ProductID:         sp.ProductID,
				SizeID:            sp.SizeID,
				SourceWarehouse:   wh,
				SourceRegion:      dst.IncomingRegion[wh],
				DestinationRegion: dstID,
				Quantity:          qty,
			})
		}
	}
	return intents
}
