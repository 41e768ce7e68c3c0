package domain

import "sort"

// Direction selects which side of a warehouse quota is meant
type Direction string

const (
	// DirectionSrc is the transfer-out capacity
	DirectionSrc Direction = "src"
	// DirectionDst is the transfer-in capacity
	DirectionDst Direction = "dst"
)

// Quota is the remaining transferable units of one warehouse for the current cycle
type Quota struct {
	Src int `json:"src" msgpack:"src"`
	Dst int `json:"dst" msgpack:"dst"`
}

// QuotaView is read-only access to a quota book
type QuotaView interface {
	Src(warehouseID int) int
	Dst(warehouseID int) int
}

// QuotaBook holds the quota of every warehouse for a run.
// It is not safe for concurrent use; the dispatch pipeline owns it while a run lasts.
type QuotaBook struct {
	entries map[int]Quota
}

// NewQuotaBook creates a quota book from a snapshot
func NewQuotaBook(entries map[int]Quota) *QuotaBook {
	b := &QuotaBook{entries: make(map[int]Quota, len(entries))}
	for id, q := range entries {
		b.entries[id] = q
	}
	return b
}

// Src returns the remaining transfer-out quota
func (b *QuotaBook) Src(warehouseID int) int {
	return b.entries[warehouseID].Src
}

// Dst returns the remaining transfer-in quota
func (b *QuotaBook) Dst(warehouseID int) int {
	return b.entries[warehouseID].Dst
}

// Get returns the quota in the given direction
func (b *QuotaBook) Get(warehouseID int, dir Direction) int {
	if dir == DirectionSrc {
		return b.Src(warehouseID)
	}
	return b.Dst(warehouseID)
}

// Set replaces one direction of a warehouse quota. Negative values are stored as zero.
func (b *QuotaBook) Set(warehouseID int, dir Direction, value int) {
	if value < 0 {
		value = 0
	}
	q := b.entries[warehouseID]
	if dir == DirectionSrc {
		q.Src = value
	} else {
		q.Dst = value
	}
	b.entries[warehouseID] = q
}

// Decrement lowers one direction of a warehouse quota, never below zero
func (b *QuotaBook) Decrement(warehouseID int, dir Direction, amount int) {
	b.Set(warehouseID, dir, b.Get(warehouseID, dir)-amount)
}

// Snapshot returns a copy of every entry
func (b *QuotaBook) Snapshot() map[int]Quota {
	out := make(map[int]Quota, len(b.entries))
	for id, q := range b.entries {
		out[id] = q
	}
	return out
}

// Clone returns an independent copy of the book
func (b *QuotaBook) Clone() *QuotaBook {
	return NewQuotaBook(b.entries)
}

// WarehouseIDs returns the warehouses known to the book in ascending order
func (b *QuotaBook) WarehouseIDs() []int {
	ids := make([]int, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RegionQuota sums the quota of the given warehouses on both sides
func RegionQuota(quota QuotaView, warehouseIDs []int) (src, dst int) {
	for _, id := range warehouseIDs {
		src += quota.Src(id)
		dst += quota.Dst(id)
	}
	return src, dst
}
