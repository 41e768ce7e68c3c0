// Package stock aggregates raw stock, sales and availability facts into the
// per-variant region/warehouse view the allocation planner works on.
package stock

import (
	"time"

	"github.com/aristath/restock/internal/domain"
)

type variantWarehouse struct {
	productID   int
	sizeID      int
	warehouseID int
}

// AvailabilityIndex counts the distinct calendar days a variant was in stock at a warehouse
type AvailabilityIndex struct {
	days map[variantWarehouse]map[time.Time]struct{}
}

// BuildAvailabilityIndex indexes every window that ended within the trailing windowDays.
// A window contributes every calendar day from its start to its end inclusive.
func BuildAvailabilityIndex(rows []domain.AvailabilityRow, now time.Time, windowDays int) *AvailabilityIndex {
	idx := &AvailabilityIndex{days: make(map[variantWarehouse]map[time.Time]struct{})}
	cutoff := now.AddDate(0, 0, -windowDays)

	for _, row := range rows {
		if row.End.Before(cutoff) || row.End.Before(row.Begin) {
			continue
		}
		key := variantWarehouse{productID: row.ProductID, sizeID: row.SizeID, warehouseID: row.WarehouseID}
		set := idx.days[key]
		if set == nil {
			set = make(map[time.Time]struct{})
			idx.days[key] = set
		}
		end := truncateDay(row.End)
		for d := truncateDay(row.Begin); !d.After(end); d = d.AddDate(0, 0, 1) {
			set[d] = struct{}{}
		}
	}
	return idx
}

// Days returns the number of available days for one warehouse
func (a *AvailabilityIndex) Days(productID, sizeID, warehouseID int) int {
	if a == nil {
		return 0
	}
	return len(a.days[variantWarehouse{productID: productID, sizeID: sizeID, warehouseID: warehouseID}])
}

// Has reports whether the warehouse has any availability record for the variant
func (a *AvailabilityIndex) Has(productID, sizeID, warehouseID int) bool {
	if a == nil {
		return false
	}
	_, ok := a.days[variantWarehouse{productID: productID, sizeID: sizeID, warehouseID: warehouseID}]
	return ok
}

// UnionDays returns the number of distinct days any of the warehouses had the variant
func (a *AvailabilityIndex) UnionDays(productID, sizeID int, warehouseIDs []int) int {
	if a == nil {
		return 0
	}
	union := make(map[time.Time]struct{})
	for _, wh := range warehouseIDs {
		for d := range a.days[variantWarehouse{productID: productID, sizeID: sizeID, warehouseID: wh}] {
			union[d] = struct{}{}
		}
	}
	return len(union)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DemandIndex maps a variant at a warehouse to its recent order count
type DemandIndex struct {
	orders map[variantWarehouse]int
}

// BuildDemandIndex indexes sales rows. Repeated keys are summed.
func BuildDemandIndex(rows []domain.SalesRow) *DemandIndex {
	idx := &DemandIndex{orders: make(map[variantWarehouse]int, len(rows))}
	for _, row := range rows {
		key := variantWarehouse{productID: row.ProductID, sizeID: row.SizeID, warehouseID: row.WarehouseID}
		idx.orders[key] += row.Orders
	}
	return idx
}

// Orders returns the order count and whether the warehouse had any sales row
func (d *DemandIndex) Orders(productID, sizeID, warehouseID int) (int, bool) {
	if d == nil {
		return 0, false
	}
	n, ok := d.orders[variantWarehouse{productID: productID, sizeID: sizeID, warehouseID: warehouseID}]
	return n, ok
}
