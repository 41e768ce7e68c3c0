// Package domain provides the core domain types shared by the rebalancer modules.
package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Region is a group of warehouses that share a target/minimum share configuration
type Region struct {
	ID   int
	Name string
	// Key looks up the region's shares in a TaskConfig
	Key         string
	SrcPriority *int // Lower = preferred as donor. Nil sorts last
	DstPriority *int // Lower = preferred as receiver. Nil sorts last
}

// Warehouse is a stock location belonging to exactly one region
type Warehouse struct {
	ID              int
	Name            string
	RegionID        int
	SrcPriority     *int
	DstPriority     *int
	TransferEnabled bool
}

// Topology is the region/warehouse network used by a planning run.
//
// TransferMap only lists warehouses that may take part in transfers, AdminMap lists
// every warehouse administratively mapped to a region (used for demand roll-ups).
type Topology struct {
	Regions    map[int]Region
	Warehouses map[int]Warehouse

	TransferMap map[int][]int
	AdminMap    map[int][]int

	RegionSrcOrder    []int
	RegionDstOrder    []int
	WarehouseSrcOrder []int
	WarehouseDstOrder []int
}

// NewTopology builds a topology and computes every priority order.
func NewTopology(regions []Region, warehouses []Warehouse) *Topology {
	t := &Topology{
		Regions:     make(map[int]Region, len(regions)),
		Warehouses:  make(map[int]Warehouse, len(warehouses)),
		TransferMap: make(map[int][]int),
		AdminMap:    make(map[int][]int),
	}
	for _, r := range regions {
		t.Regions[r.ID] = r
	}

	sorted := make([]Warehouse, len(warehouses))
	copy(sorted, warehouses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, w := range sorted {
		t.Warehouses[w.ID] = w
		t.AdminMap[w.RegionID] = append(t.AdminMap[w.RegionID], w.ID)
		if w.TransferEnabled {
			t.TransferMap[w.RegionID] = append(t.TransferMap[w.RegionID], w.ID)
		}
	}

	t.resort()
	return t
}

func (t *Topology) resort() {
	t.RegionSrcOrder = orderRegions(t.Regions, func(r Region) *int { return r.SrcPriority })
	t.RegionDstOrder = orderRegions(t.Regions, func(r Region) *int { return r.DstPriority })
	t.WarehouseSrcOrder = orderWarehouses(t.Warehouses, func(w Warehouse) *int { return w.SrcPriority })
	t.WarehouseDstOrder = orderWarehouses(t.Warehouses, func(w Warehouse) *int { return w.DstPriority })
}

// RegionOf returns the region of a warehouse
func (t *Topology) RegionOf(warehouseID int) (int, bool) {
	w, ok := t.Warehouses[warehouseID]
	if !ok {
		return 0, false
	}
	return w.RegionID, true
}

// InTransferMap reports whether the warehouse may take part in transfers for the region
func (t *Topology) InTransferMap(regionID, warehouseID int) bool {
	for _, id := range t.TransferMap[regionID] {
		if id == warehouseID {
			return true
		}
	}
	return false
}

// ForPass returns a pruned copy of the topology for one planning pass.
//
// Warehouses with no quota on either side leave the transfer map, and a warehouse with
// no quota in one direction loses its priority for that direction. Regions without any
// quota lose both priorities. Unprioritised entries still sort, just last. The receiver
// is not modified.
func (t *Topology) ForPass(quota QuotaView) *Topology {
	pass := &Topology{
		Regions:     make(map[int]Region, len(t.Regions)),
		Warehouses:  make(map[int]Warehouse, len(t.Warehouses)),
		TransferMap: make(map[int][]int, len(t.TransferMap)),
		AdminMap:    t.AdminMap,
	}

	for id, w := range t.Warehouses {
		if quota.Src(id) <= 0 {
			w.SrcPriority = nil
		}
		if quota.Dst(id) <= 0 {
			w.DstPriority = nil
		}
		pass.Warehouses[id] = w
	}

	for regionID, ids := range t.TransferMap {
		kept := make([]int, 0, len(ids))
		for _, id := range ids {
			if quota.Src(id) <= 0 && quota.Dst(id) <= 0 {
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) > 0 {
			pass.TransferMap[regionID] = kept
		}
	}

	for id, r := range t.Regions {
		if src, dst := RegionQuota(quota, t.TransferMap[id]); src <= 0 && dst <= 0 {
			r.SrcPriority = nil
			r.DstPriority = nil
		}
		pass.Regions[id] = r
	}

	pass.resort()
	return pass
}

func orderRegions(regions map[int]Region, priority func(Region) *int) []int {
	ids := make([]int, 0, len(regions))
	for id := range regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lessPriority(priority(regions[ids[i]]), priority(regions[ids[j]]), ids[i], ids[j])
	})
	return ids
}

func orderWarehouses(warehouses map[int]Warehouse, priority func(Warehouse) *int) []int {
	ids := make([]int, 0, len(warehouses))
	for id := range warehouses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lessPriority(priority(warehouses[ids[i]]), priority(warehouses[ids[j]]), ids[i], ids[j])
	})
	return ids
}

// lessPriority orders configured priorities ascending, then unconfigured ones, ties by id
func lessPriority(a, b *int, idA, idB int) bool {
	switch {
	case a != nil && b != nil:
		if *a != *b {
			return *a < *b
		}
	case a != nil:
		return true
	case b != nil:
		return false
	}
	return idA < idB
}

// RegionTarget holds the configured shares for one region key
type RegionTarget struct {
	TargetShare decimal.Decimal
	MinShare    decimal.Decimal
	MinQtyFixed int
}

// TaskConfig maps region keys to their configured shares
type TaskConfig struct {
	ID      int
	Targets map[string]RegionTarget
}

// Target returns the shares configured for a region key (zero value when absent)
func (c TaskConfig) Target(key string) RegionTarget {
	if c.Targets == nil {
		return RegionTarget{}
	}
	return c.Targets[key]
}

// VariantKey identifies a product variant
type VariantKey struct {
	ProductID int
	SizeID    int
}

// Blocklist holds warehouses excluded from transfers
type Blocklist struct {
	variants map[VariantKey]map[int]bool
	products map[int]map[int]bool
}

// NewBlocklist creates an empty blocklist
func NewBlocklist() *Blocklist {
	return &Blocklist{
		variants: make(map[VariantKey]map[int]bool),
		products: make(map[int]map[int]bool),
	}
}

// BlockVariant excludes a warehouse from every transfer of one (product, size)
func (b *Blocklist) BlockVariant(productID, sizeID, warehouseID int) {
	key := VariantKey{ProductID: productID, SizeID: sizeID}
	if b.variants[key] == nil {
		b.variants[key] = make(map[int]bool)
	}
	b.variants[key][warehouseID] = true
}

// BanSource prevents a warehouse from shipping any size of a product
func (b *Blocklist) BanSource(productID, warehouseID int) {
	if b.products[productID] == nil {
		b.products[productID] = make(map[int]bool)
	}
	b.products[productID][warehouseID] = true
}

// Blocked reports whether a warehouse is excluded for the (product, size)
func (b *Blocklist) Blocked(productID, sizeID, warehouseID int) bool {
	if b == nil {
		return false
	}
	return b.variants[VariantKey{ProductID: productID, SizeID: sizeID}][warehouseID]
}

// SourceBanned reports whether a warehouse may not ship the product at all
func (b *Blocklist) SourceBanned(productID, warehouseID int) bool {
	if b == nil {
		return false
	}
	return b.products[productID][warehouseID]
}

// SKUIndex resolves a product variant to the external stock-keeping id
type SKUIndex map[VariantKey]int64

// Lookup returns the stock-keeping id for a product variant
func (s SKUIndex) Lookup(productID, sizeID int) (int64, bool) {
	sku, ok := s[VariantKey{ProductID: productID, SizeID: sizeID}]
	return sku, ok
}
