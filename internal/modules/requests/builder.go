// Package requests turns planner intents into transfer orders addressed to concrete
// destination warehouses.
package requests

import (
	"sort"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// DefectMissingSKU marks a size dropped because it has no stock-keeping id
const DefectMissingSKU = "missing_sku"

// Input is what one build reads
type Input struct {
	Plan      *allocation.Plan
	Quota     domain.QuotaView
	Blocklist *domain.Blocklist
	SKUs      domain.SKUIndex
}

// Result holds the ordered requests and the sizes that had to be dropped
type Result struct {
	Requests []domain.TransferRequest
	Defects  []allocation.Defect
}

// Units returns the number of units across all requests
func (r *Result) Units() int {
	total := 0
	for _, req := range r.Requests {
		total += req.Total()
	}
	return total
}

// Builder groups intents per source warehouse and splits them over destination warehouses
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new request builder
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("service", "request_builder").Logger()}
}

type pending struct {
	sizeID int
	region int
	qty    int
}

// Build converts the plan into transfer requests sorted by destination priority.
//
// Every source warehouse of a product sends to one destination region only: the region
// of its largest pending size. The destination quota is tracked on a working copy so
// requests of the same build do not claim the same capacity twice.
func (b *Builder) Build(in Input) *Result {
	res := &Result{}
	if in.Plan == nil || in.Plan.Topology == nil {
		return res
	}
	pass := in.Plan.Topology

	srcLeft := make(map[int]int)
	dstLeft := make(map[int]int)
	for _, wh := range pass.WarehouseSrcOrder {
		srcLeft[wh] = in.Quota.Src(wh)
	}
	for _, wh := range pass.WarehouseDstOrder {
		dstLeft[wh] = in.Quota.Dst(wh)
	}

	sizes := make(map[domain.VariantKey]*allocation.SizePlan)
	for _, pp := range in.Plan.Products {
		for _, sp := range pp.Sizes {
			sizes[domain.VariantKey{ProductID: sp.ProductID, SizeID: sp.SizeID}] = sp
		}
	}

	byProduct := make(map[int][]domain.TransferIntent)
	var productOrder []int
	for _, intent := range in.Plan.Intents {
		if _, ok := byProduct[intent.ProductID]; !ok {
			productOrder = append(productOrder, intent.ProductID)
		}
		byProduct[intent.ProductID] = append(byProduct[intent.ProductID], intent)
	}

	for _, productID := range productOrder {
		grouped := groupBySource(byProduct[productID])
		for _, src := range orderedSources(grouped, pass.WarehouseSrcOrder) {
			reqs := b.buildForSource(productID, src, grouped[src], pass, in, sizes, srcLeft, dstLeft, res)
			res.Requests = append(res.Requests, reqs...)
		}
	}

	sortByDestinationPriority(res.Requests, pass)

	b.log.Info().
		Int("intents", len(in.Plan.Intents)).
		Int("requests", len(res.Requests)).
		Int("units", res.Units()).
		Int("defects", len(res.Defects)).
		Msg("Transfer requests built")
	return res
}

func (b *Builder) buildForSource(
	productID, src int,
	entries []pending,
	pass *domain.Topology,
	in Input,
	sizes map[domain.VariantKey]*allocation.SizePlan,
	srcLeft, dstLeft map[int]int,
	res *Result,
) []domain.TransferRequest {
	if srcLeft[src] < 1 {
		b.log.Debug().Int("product_id", productID).Int("source", src).Msg("No source quota left")
		return nil
	}
	if in.Blocklist.SourceBanned(productID, src) {
		b.log.Debug().Int("product_id", productID).Int("source", src).Msg("Source banned for product")
		return nil
	}

	region := pickRegion(entries)
	var destinations []int
	for _, wh := range pass.WarehouseDstOrder {
		if pass.InTransferMap(region, wh) {
			destinations = append(destinations, wh)
		}
	}
	if len(destinations) == 0 {
		return nil
	}

	srcRegion, _ := pass.RegionOf(src)
	lines := make(map[int][]domain.LineItem)

	for _, e := range entries {
		if e.region != region {
			continue
		}
		sku, ok := in.SKUs.Lookup(productID, e.sizeID)
		if !ok {
			b.log.Warn().Int("product_id", productID).Int("size_id", e.sizeID).Msg("No stock-keeping id for size, dropping it")
			res.Defects = append(res.Defects, allocation.Defect{ProductID: productID, SizeID: e.sizeID, Kind: DefectMissingSKU})
			continue
		}

		sp := sizes[domain.VariantKey{ProductID: productID, SizeID: e.sizeID}]
		available, sizeName := 0, ""
		if sp != nil {
			available = sp.SourceStock[src]
			sizeName = sp.SizeName
		}
		left := e.qty
		move := min(left, available)

		for _, dst := range destinations {
			if left <= 0 || move <= 0 {
				break
			}
			if dstLeft[dst] <= 0 || in.Blocklist.Blocked(productID, e.sizeID, dst) {
				continue
			}
			amount := min(dstLeft[dst], move, available)
			lines[dst] = append(lines[dst], domain.LineItem{SKU: sku, SizeID: e.sizeID, SizeName: sizeName, Quantity: amount})
			available -= amount
			left -= amount
			move -= amount
			dstLeft[dst] -= amount
			srcLeft[src] -= amount
		}
	}

	var out []domain.TransferRequest
	for _, dst := range destinations {
		items := lines[dst]
		if len(items) == 0 {
			continue
		}
		if in.Quota.Dst(dst) < 1 || in.Quota.Src(src) < 1 {
			continue
		}
		out = append(out, domain.TransferRequest{
			ProductID:         productID,
			Source:            src,
			Destination:       dst,
			SourceRegion:      srcRegion,
			DestinationRegion: region,
			Lines:             items,
		})
	}
	return out
}

// groupBySource collects the pending sizes of one product per source warehouse.
// Sizes are kept ascending; entries of a size keep intent order.
func groupBySource(intents []domain.TransferIntent) map[int][]pending {
	out := make(map[int][]pending)
	for _, in := range intents {
		if in.Quantity <= 0 {
			continue
		}
		out[in.SourceWarehouse] = append(out[in.SourceWarehouse], pending{
			sizeID: in.SizeID,
			region: in.DestinationRegion,
			qty:    in.Quantity,
		})
	}
	for _, entries := range out {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].sizeID < entries[j].sizeID })
	}
	return out
}

func orderedSources(grouped map[int][]pending, order []int) []int {
	seen := make(map[int]bool, len(grouped))
	out := make([]int, 0, len(grouped))
	for _, wh := range order {
		if _, ok := grouped[wh]; ok {
			out = append(out, wh)
			seen[wh] = true
		}
	}
	var rest []int
	for wh := range grouped {
		if !seen[wh] {
			rest = append(rest, wh)
		}
	}
	sort.Ints(rest)
	return append(out, rest...)
}

// pickRegion returns the destination region of the largest pending entry; the first one wins ties
func pickRegion(entries []pending) int {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.qty > best.qty {
			best = e
		}
	}
	return best.region
}

// sortByDestinationPriority orders requests by their destination's priority.
// Destinations without a priority go last; the sort is stable.
func sortByDestinationPriority(reqs []domain.TransferRequest, pass *domain.Topology) {
	rank := func(wh int) (int, bool) {
		w, ok := pass.Warehouses[wh]
		if !ok || w.DstPriority == nil {
			return 0, false
		}
		return *w.DstPriority, true
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		ri, okI := rank(reqs[i].Destination)
		rj, okJ := rank(reqs[j].Destination)
		if okI != okJ {
			return okI
		}
		return okI && ri < rj
	})
}
