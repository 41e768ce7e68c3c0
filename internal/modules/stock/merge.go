package stock

import (
	"github.com/aristath/restock/internal/domain"
)

// MergeInFlight folds not-yet-delivered transfers into the collection.
//
// The quantity is added to the destination warehouse and removed from the source
// warehouse, but never more than the source currently shows. Decremented totals are
// clamped at zero. Returns the number of rows skipped as malformed or empty.
func (b *Builder) MergeInFlight(c *Collection, rows []domain.InFlightRow, topo *domain.Topology) int {
	skipped := 0
	touched := make(map[*Size]bool)

	for _, row := range rows {
		productID, err1 := parseID(row.ProductID)
		sizeID, err2 := parseID(row.SizeID)
		from, err3 := parseID(row.FromWarehouse)
		to, err4 := parseID(row.ToWarehouse)
		fromRegion, err5 := parseID(row.FromRegion)
		toRegion, err6 := parseID(row.ToRegion)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil || row.Quantity == 0 {
			skipped++
			b.log.Debug().
				Str("product", row.ProductID).
				Str("size", row.SizeID).
				Int("quantity", row.Quantity).
				Msg("Skipping in-flight row")
			continue
		}
		qty := row.Quantity

		p := c.product(productID)
		s := p.size(sizeID)
		touched[s] = true

		dst := s.region(toRegion)
		dst.Warehouses[to] += qty
		dst.Total += qty
		s.Total += qty
		p.Total += qty

		src := s.region(fromRegion)
		current := src.Warehouses[from]
		delta := min(qty, current)
		if current-delta > 0 {
			src.Warehouses[from] = current - delta
		} else {
			delete(src.Warehouses, from)
		}
		src.Total = max(0, src.Total-delta)
		s.Total = max(0, s.Total-delta)
		p.Total = max(0, p.Total-delta)
	}

	for s := range touched {
		s.sortRegions(topo.RegionSrcOrder)
	}

	if skipped > 0 {
		b.log.Debug().Int("skipped", skipped).Int("rows", len(rows)).Msg("In-flight rows skipped")
	}
	return skipped
}
