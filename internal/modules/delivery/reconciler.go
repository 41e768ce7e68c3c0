// Package delivery closes in-transit records using the marketplace goods-return report.
package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/restock/internal/clientdata"
	"github.com/aristath/restock/internal/clients/marketplace"
	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/modules/intransit"
	"github.com/rs/zerolog"
)

const (
	// ReturnTypeRelocation marks report rows produced by stock relocation orders
	ReturnTypeRelocation = "Перемещение остатков"
	// StatusDone marks a delivered unit
	StatusDone = "Готово"

	reportCacheKey = "goods_return"
)

// ReportSource downloads the goods-return report
type ReportSource interface {
	FetchGoodsReturns(ctx context.Context, from, to time.Time) ([]marketplace.GoodsReturn, error)
}

// Catalog resolves sizes and delivery addresses
type Catalog interface {
	TechSizes(ctx context.Context) (map[int]map[string]int, error)
	DestinationRegions(ctx context.Context) (map[string]*int, error)
	AddDestination(ctx context.Context, address string) error
}

// Store reads and updates in-transit records
type Store interface {
	ByKeySince(ctx context.Context, since time.Time) (map[intransit.Key][]domain.InFlightTransfer, error)
	UpdateRemaining(ctx context.Context, id int64, quantityLeft int, at time.Time) error
}

// Result summarizes one reconciliation
type Result struct {
	ReportRows      int  `json:"report_rows"`
	Relocations     int  `json:"relocations"`
	Delivered       int  `json:"delivered"`
	UnknownSizes    int  `json:"unknown_sizes"`
	NewDestinations int  `json:"new_destinations"`
	Updated         int  `json:"updated"`
	Finished        int  `json:"finished"`
	StaleReport     bool `json:"stale_report"`
}

// Reconciler applies delivered units to in-transit records
type Reconciler struct {
	source       ReportSource
	catalog      Catalog
	store        Store
	cacheRepo    *clientdata.Repository
	lookbackDays int
	now          func() time.Time
	log          zerolog.Logger
}

// NewReconciler creates a delivery reconciler. cacheRepo may be nil.
func NewReconciler(source ReportSource, catalog Catalog, store Store, cacheRepo *clientdata.Repository, lookbackDays int, log zerolog.Logger) *Reconciler {
	if lookbackDays <= 0 {
		lookbackDays = 14
	}
	return &Reconciler{
		source:       source,
		catalog:      catalog,
		store:        store,
		cacheRepo:    cacheRepo,
		lookbackDays: lookbackDays,
		now:          time.Now,
		log:          log.With().Str("service", "delivery_reconciler").Logger(),
	}
}

// Reconcile downloads the report and updates every open record it covers.
//
// Delivered units are counted per (product, size, destination region, order day). Each count is spread over
// every record of the same key sent inside the lookback window, finished records first, then open ones in
// insertion order: a record keeps max(0, quantity - delivered) and the rest of the count carries to the next
// record. The report is cumulative over the window, so re-running it never charges a unit twice.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	res := &Result{}

	report, err := r.fetchReport(ctx, res)
	if err != nil {
		return nil, err
	}
	res.ReportRows = len(report)

	sizes, err := r.catalog.TechSizes(ctx)
	if err != nil {
		return nil, err
	}
	destinations, err := r.catalog.DestinationRegions(ctx)
	if err != nil {
		return nil, err
	}

	delivered := make(map[intransit.Key]int)
	var newAddresses []string
	seenNew := make(map[string]bool)

	for _, row := range report {
		if row.ReturnType != ReturnTypeRelocation {
			continue
		}
		res.Relocations++
		if row.ProductID == 0 || row.TechSize == "" || row.OrderDate == "" || row.DstAddress == "" {
			continue
		}

		region, known := destinations[row.DstAddress]
		if !known {
			if !seenNew[row.DstAddress] {
				seenNew[row.DstAddress] = true
				newAddresses = append(newAddresses, row.DstAddress)
			}
			continue
		}
		if region == nil {
			continue
		}

		sizeID, ok := sizes[row.ProductID][row.TechSize]
		if !ok {
			res.UnknownSizes++
			continue
		}

		if row.Status == StatusDone {
			delivered[intransit.Key{ProductID: row.ProductID, SizeID: sizeID, ToRegion: *region, Day: row.Day()}]++
			res.Delivered++
		}
	}

	for _, addr := range newAddresses {
		if err := r.catalog.AddDestination(ctx, addr); err != nil {
			return nil, err
		}
	}
	res.NewDestinations = len(newAddresses)
	if len(newAddresses) > 0 {
		r.log.Warn().Strs("addresses", newAddresses).Msg("New delivery addresses need a region mapping")
	}

	if err := r.apply(ctx, delivered, res); err != nil {
		return nil, err
	}

	r.log.Info().
		Int("report_rows", res.ReportRows).
		Int("delivered", res.Delivered).
		Int("updated", res.Updated).
		Int("finished", res.Finished).
		Msg("Delivery reconciliation complete")

	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, delivered map[intransit.Key]int, res *Result) error {
	if len(delivered) == 0 {
		return nil
	}
	now := r.now()
	groups, err := r.store.ByKeySince(ctx, now.AddDate(0, 0, -r.lookbackDays))
	if err != nil {
		return err
	}

	keys := make([]intransit.Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	for _, k := range keys {
		pool := delivered[k]
		if pool <= 0 {
			continue
		}
		for _, t := range finishedFirst(groups[k]) {
			// a finished record is already settled and only absorbs its share of the report
			left := max(0, t.Quantity-pool)
			pool = max(0, pool-t.Quantity)
			if t.Finished {
				continue
			}

			// quantity_left never grows back when older report rows age out of the window
			left = min(left, t.QuantityLeft)
			if left != t.QuantityLeft {
				if err := r.store.UpdateRemaining(ctx, t.ID, left, now); err != nil {
					return err
				}
				res.Updated++
				if left == 0 {
					res.Finished++
				}
			}
			if pool == 0 {
				break
			}
		}
	}
	return nil
}

// finishedFirst keeps insertion order within the finished and the open records
func finishedFirst(records []domain.InFlightTransfer) []domain.InFlightTransfer {
	out := make([]domain.InFlightTransfer, 0, len(records))
	for _, t := range records {
		if t.Finished {
			out = append(out, t)
		}
	}
	for _, t := range records {
		if !t.Finished {
			out = append(out, t)
		}
	}
	return out
}

// fetchReport falls back to the last cached report when the download fails
func (r *Reconciler) fetchReport(ctx context.Context, res *Result) ([]marketplace.GoodsReturn, error) {
	to := r.now()
	from := to.AddDate(0, 0, -r.lookbackDays)

	report, err := r.source.FetchGoodsReturns(ctx, from, to)
	if err == nil {
		if r.cacheRepo != nil {
			if err := r.cacheRepo.Store(clientdata.TableDeliveryReport, reportCacheKey, report, clientdata.TTLDeliveryReport); err != nil {
				r.log.Warn().Err(err).Msg("Failed to cache goods-return report")
			}
		}
		return report, nil
	}
	if ctx.Err() != nil || r.cacheRepo == nil {
		return nil, fmt.Errorf("failed to fetch goods-return report: %w", err)
	}

	var cached []marketplace.GoodsReturn
	ok, cacheErr := r.cacheRepo.Get(clientdata.TableDeliveryReport, reportCacheKey, &cached)
	if cacheErr != nil || !ok {
		return nil, fmt.Errorf("failed to fetch goods-return report: %w", err)
	}
	r.log.Warn().Err(err).Int("rows", len(cached)).Msg("Using cached goods-return report")
	res.StaleReport = true
	return cached, nil
}

func keyLess(a, b intransit.Key) bool {
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	if a.SizeID != b.SizeID {
		return a.SizeID < b.SizeID
	}
	return a.ToRegion < b.ToRegion
}
