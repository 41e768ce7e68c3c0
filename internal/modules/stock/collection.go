package stock

import (
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
)

// Collection is the product -> size -> region -> warehouse stock view
type Collection struct {
	Products map[int]*Product
}

// Product holds every size of one product
type Product struct {
	ID    int
	Total int
	Sizes map[int]*Size
}

// Size holds the per-region stock of one product variant
type Size struct {
	ProductID int
	ID        int
	Name      string
	Total     int

	Regions map[int]*RegionNode
	// RegionOrder lists Regions keys in donor priority order
	RegionOrder []int

	AvailabilityByWarehouse map[int]int
	AvailabilityByRegion    map[int]int
	OrdersByWarehouse       map[int]int
	OrdersByRegion          map[int]int
}

// RegionNode holds the warehouses of one region for a size
type RegionNode struct {
	ID         int
	Total      int
	Warehouses map[int]int
}

// WarehouseIDs returns the node's warehouses in ascending order
func (r *RegionNode) WarehouseIDs() []int {
	ids := make([]int, 0, len(r.Warehouses))
	for id := range r.Warehouses {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ProductIDs returns the product ids in ascending order
func (c *Collection) ProductIDs() []int {
	ids := make([]int, 0, len(c.Products))
	for id := range c.Products {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SizeIDs returns the product's size ids in ascending order
func (p *Product) SizeIDs() []int {
	ids := make([]int, 0, len(p.Sizes))
	for id := range p.Sizes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Collection) product(id int) *Product {
	p, ok := c.Products[id]
	if !ok {
		p = &Product{ID: id, Sizes: make(map[int]*Size)}
		c.Products[id] = p
	}
	return p
}

func (p *Product) size(id int) *Size {
	s, ok := p.Sizes[id]
	if !ok {
		s = &Size{
			ProductID:               p.ID,
			ID:                      id,
			Regions:                 make(map[int]*RegionNode),
			AvailabilityByWarehouse: make(map[int]int),
			AvailabilityByRegion:    make(map[int]int),
			OrdersByWarehouse:       make(map[int]int),
			OrdersByRegion:          make(map[int]int),
		}
		p.Sizes[id] = s
	}
	return s
}

func (s *Size) region(id int) *RegionNode {
	r, ok := s.Regions[id]
	if !ok {
		r = &RegionNode{ID: id, Warehouses: make(map[int]int)}
		s.Regions[id] = r
	}
	return r
}

// sortRegions orders the size's regions by the given region priority order.
// Regions missing from the order go last, by id.
func (s *Size) sortRegions(order []int) {
	rank := make(map[int]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	ids := make([]int, 0, len(s.Regions))
	for id := range s.Regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, okI := rank[ids[i]]
		rj, okJ := rank[ids[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI != okJ:
			return okI
		}
		return ids[i] < ids[j]
	})
	s.RegionOrder = ids
}

// BuildStats counts rows dropped while building a collection
type BuildStats struct {
	Rows        int
	DroppedRows int
}

// Builder turns raw rows into a Collection
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new collection builder
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("component", "stock_builder").Logger()}
}

// Build aggregates stock rows and annotates every size with availability and demand.
//
// Every transfer-eligible region missing from a size is added with zero stock on its
// warehouses so it can still receive.
func (b *Builder) Build(
	rows []domain.StockRow,
	topo *domain.Topology,
	avail *AvailabilityIndex,
	demand *DemandIndex,
) (*Collection, BuildStats) {
	c := &Collection{Products: make(map[int]*Product)}
	stats := BuildStats{Rows: len(rows)}

	for _, row := range rows {
		productID, err1 := parseID(row.ProductID)
		warehouseID, err2 := parseID(row.WarehouseID)
		sizeID, err3 := parseID(row.SizeID)
		regionID, err4 := parseID(row.RegionID)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			stats.DroppedRows++
			b.log.Debug().
				Str("product", row.ProductID).
				Str("warehouse", row.WarehouseID).
				Str("size", row.SizeID).
				Str("region", row.RegionID).
				Msg("Dropping stock row with invalid id")
			continue
		}

		p := c.product(productID)
		s := p.size(sizeID)
		if s.Name == "" && row.SizeName != "" {
			s.Name = row.SizeName
		}
		r := s.region(regionID)
		r.Warehouses[warehouseID] += row.Quantity
		r.Total += row.Quantity
		s.Total += row.Quantity
		p.Total += row.Quantity

		if days := avail.Days(productID, sizeID, warehouseID); days > s.AvailabilityByWarehouse[warehouseID] {
			s.AvailabilityByWarehouse[warehouseID] = days
		}
		if orders, ok := demand.Orders(productID, sizeID, warehouseID); ok {
			s.OrdersByWarehouse[warehouseID] = orders
		}
	}

	for _, p := range c.Products {
		for _, s := range p.Sizes {
			for regionID, r := range s.Regions {
				s.AvailabilityByRegion[regionID] = avail.UnionDays(p.ID, s.ID, r.WarehouseIDs())
			}
			fillEmptyRegions(s, topo)
			rollUpOrders(s, topo)
			s.sortRegions(topo.RegionSrcOrder)
		}
	}

	if stats.DroppedRows > 0 {
		b.log.Info().Int("dropped", stats.DroppedRows).Int("rows", stats.Rows).Msg("Stock rows dropped")
	}
	return c, stats
}

func fillEmptyRegions(s *Size, topo *domain.Topology) {
	if len(s.Regions) == 0 {
		return
	}
	for regionID, warehouses := range topo.TransferMap {
		if _, ok := s.Regions[regionID]; ok {
			continue
		}
		r := s.region(regionID)
		for _, wh := range warehouses {
			r.Warehouses[wh] = 0
		}
	}
}

func rollUpOrders(s *Size, topo *domain.Topology) {
	for _, r := range s.Regions {
		for wh := range r.Warehouses {
			if _, ok := s.OrdersByWarehouse[wh]; !ok {
				s.OrdersByWarehouse[wh] = 0
			}
		}
	}
	for regionID := range s.Regions {
		total := 0
		for _, wh := range topo.AdminMap[regionID] {
			total += s.OrdersByWarehouse[wh]
		}
		s.OrdersByRegion[regionID] = total
	}
}

func parseID(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}
