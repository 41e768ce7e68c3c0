// Package allocation matches donor regions to receiver regions for every product
// variant and produces the transfer intents of a planning pass.
package allocation

import (
	"github.com/aristath/restock/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// SkipNoDstQuota marks a region whose transfer warehouses have no destination quota
	SkipNoDstQuota = "no_dst_quota"
	// SkipNoDstWarehouses marks a receiver without an eligible destination warehouse
	SkipNoDstWarehouses = "no_dst_warehouses_in_sort_order"
)

// RegionStock is the planner's working state for one (variant, region)
type RegionStock struct {
	RegionID int    `json:"region_id"`
	Name     string `json:"name"`
	Key      string `json:"key"`

	Warehouses  map[int]int `json:"warehouses"`
	StockBefore int         `json:"stock_before"`
	StockAfter  int         `json:"stock_after"`

	TargetShare decimal.Decimal `json:"target_share"`
	MinShare    decimal.Decimal `json:"min_share"`
	MinQtyFixed int             `json:"min_qty_fixed"`

	TargetStock     int  `json:"target_stock"`
	MinStock        int  `json:"min_stock"`
	AmountToDeliver int  `json:"amount_to_deliver"`
	BelowMin        bool `json:"below_min"`

	CanReceive bool   `json:"can_receive"`
	SkipReason string `json:"skip_reason,omitempty"`

	// Incoming maps source warehouse -> units earmarked for this region
	Incoming map[int]int `json:"incoming"`
	// IncomingRegion maps source warehouse -> the donor region it was drawn from
	IncomingRegion map[int]int `json:"-"`
}

// SizePlan is the outcome of planning one product variant
type SizePlan struct {
	ProductID int    `json:"product_id"`
	SizeID    int    `json:"size_id"`
	SizeName  string `json:"size_name"`
	Total     int    `json:"total"`

	Regions     map[int]*RegionStock `json:"regions"`
	RegionOrder []int                `json:"region_order"`

	// SourceStock maps source warehouse -> units it held before its last draw
	SourceStock map[int]int `json:"source_stock"`
	Moved       int         `json:"moved"`
}

// ProductPlan groups the moved sizes of one product
type ProductPlan struct {
	ProductID int         `json:"product_id"`
	Sizes     []*SizePlan `json:"sizes"`
}

// Defect is a product that could not be planned
type Defect struct {
	ProductID int    `json:"product_id"`
	SizeID    int    `json:"size_id,omitempty"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// Plan is the result of one planning pass
type Plan struct {
	Products []*ProductPlan          `json:"products"`
	Intents  []domain.TransferIntent `json:"intents"`
	Defects  []Defect                `json:"defects"`
	// Topology is the pruned view the pass was computed against
	Topology *domain.Topology `json:"-"`
}

// TotalUnits returns the number of units across all intents
func (p *Plan) TotalUnits() int {
	total := 0
	for _, in := range p.Intents {
		total += in.Quantity
	}
	return total
}
