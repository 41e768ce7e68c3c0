// Package quota acquires the per-warehouse transfer capacity a planning run works with.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/restock/internal/clientdata"
	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const snapshotKey = "latest"

// ErrNoCredentials is returned when no credential is available to query quota
var ErrNoCredentials = errors.New("no credentials to query quota with")

// Config holds quota acquisition settings
type Config struct {
	// BatchSize bounds the concurrent requests per batch. Zero uses one request per credential.
	BatchSize  int
	BatchPause time.Duration
	CacheTTL   time.Duration
}

// Snapshot is a fetched quota book as stored in the cache
type Snapshot struct {
	Quota     map[int]domain.Quota `json:"quota" msgpack:"quota"`
	FetchedAt time.Time            `json:"fetched_at" msgpack:"fetched_at"`
	Failed    int                  `json:"failed" msgpack:"failed"`
	Cached    bool                 `json:"cached" msgpack:"-"`
}

type pair struct {
	warehouseID int
	dir         domain.Direction
}

// Fetcher queries the quota endpoint for every (warehouse, direction) pair
type Fetcher struct {
	source    domain.QuotaSource
	creds     domain.CredentialProvider
	cacheRepo *clientdata.Repository
	cfg       Config
	log       zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu   sync.RWMutex
	last *Snapshot
}

// NewFetcher creates a quota fetcher. cacheRepo may be nil.
func NewFetcher(cfg Config, source domain.QuotaSource, creds domain.CredentialProvider, cacheRepo *clientdata.Repository, log zerolog.Logger) *Fetcher {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = clientdata.TTLQuotaSnapshot
	}
	return &Fetcher{
		source:    source,
		creds:     creds,
		cacheRepo: cacheRepo,
		cfg:       cfg,
		log:       log.With().Str("service", "quota_fetcher").Logger(),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// FetchAll returns the quota of every given warehouse.
// A fresh cached snapshot covering all warehouses is reused unless force is set.
// When every remote query fails, the last stored snapshot is used even if expired.
func (f *Fetcher) FetchAll(ctx context.Context, warehouseIDs []int, force bool) (*domain.QuotaBook, error) {
	if !force {
		if snap, ok := f.fromCache(warehouseIDs, false); ok {
			f.log.Info().Int("warehouses", len(snap.Quota)).Msg("Using cached quota snapshot")
			f.setLast(snap)
			return domain.NewQuotaBook(snap.Quota), nil
		}
	}

	snap, err := f.fetch(ctx, warehouseIDs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		stale, ok := f.fromCache(warehouseIDs, true)
		if !ok {
			return nil, err
		}
		f.log.Warn().Err(err).Time("fetched_at", stale.FetchedAt).Msg("Quota fetch failed, using stale snapshot")
		f.setLast(stale)
		return domain.NewQuotaBook(stale.Quota), nil
	}

	f.setLast(snap)
	f.store(snap)
	return domain.NewQuotaBook(snap.Quota), nil
}

// FetchOne queries a single warehouse direction with the next credential
func (f *Fetcher) FetchOne(ctx context.Context, warehouseID int, dir domain.Direction) (int, error) {
	cred, err := f.creds.Next()
	if err != nil {
		return 0, err
	}
	return f.source.FetchQuota(ctx, cred, warehouseID, dir)
}

// Remember stores the post-dispatch state of a book so the next run within the TTL starts from it.
// The snapshot keeps the time of the fetch it came from and expires with it.
func (f *Fetcher) Remember(book *domain.QuotaBook) {
	fetchedAt := f.now()
	if last := f.Last(); last != nil && !last.FetchedAt.IsZero() {
		fetchedAt = last.FetchedAt
	}
	snap := &Snapshot{Quota: book.Snapshot(), FetchedAt: fetchedAt}
	f.setLast(snap)
	f.store(snap)
}

// Last returns the most recent snapshot handed to a run, or nil
func (f *Fetcher) Last() *Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last
}

func (f *Fetcher) fetch(ctx context.Context, warehouseIDs []int) (*Snapshot, error) {
	if len(warehouseIDs) == 0 {
		return &Snapshot{Quota: map[int]domain.Quota{}, FetchedAt: f.now()}, nil
	}
	if f.creds.Len() == 0 {
		return nil, fmt.Errorf("failed to fetch quota: %w", ErrNoCredentials)
	}

	pairs := make([]pair, 0, len(warehouseIDs)*2)
	for _, id := range warehouseIDs {
		pairs = append(pairs, pair{id, domain.DirectionDst}, pair{id, domain.DirectionSrc})
	}

	batch := f.cfg.BatchSize
	if batch <= 0 {
		batch = f.creds.Len()
	}

	start := time.Now()
	values := make([]int, len(pairs))
	errs := make([]error, len(pairs))

	for lo := 0; lo < len(pairs); lo += batch {
		hi := min(lo+batch, len(pairs))

		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			cred, err := f.creds.Next()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch quota: %w", err)
			}
			g.Go(func() error {
				v, err := f.source.FetchQuota(gctx, cred, pairs[i].warehouseID, pairs[i].dir)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					errs[i] = err
					return nil
				}
				values[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if hi < len(pairs) && f.cfg.BatchPause > 0 {
			if err := f.sleep(ctx, f.cfg.BatchPause); err != nil {
				return nil, err
			}
		}
	}

	book := domain.NewQuotaBook(nil)
	failed := 0
	var firstErr error
	for i, p := range pairs {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			f.log.Warn().Err(errs[i]).
				Int("warehouse_id", p.warehouseID).
				Str("direction", string(p.dir)).
				Msg("Quota query failed, treating as zero")
		}
		book.Set(p.warehouseID, p.dir, values[i])
	}

	if failed == len(pairs) {
		return nil, fmt.Errorf("all %d quota queries failed: %w", failed, firstErr)
	}

	f.log.Info().
		Int("warehouses", len(warehouseIDs)).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Quota fetched")

	return &Snapshot{Quota: book.Snapshot(), FetchedAt: f.now(), Failed: failed}, nil
}

func (f *Fetcher) fromCache(warehouseIDs []int, stale bool) (*Snapshot, bool) {
	if f.cacheRepo == nil {
		return nil, false
	}

	var snap Snapshot
	var ok bool
	var err error
	if stale {
		ok, err = f.cacheRepo.Get(clientdata.TableQuotaSnapshots, snapshotKey, &snap)
	} else {
		ok, err = f.cacheRepo.GetIfFresh(clientdata.TableQuotaSnapshots, snapshotKey, &snap)
	}
	if err != nil {
		f.log.Warn().Err(err).Bool("stale", stale).Msg("Failed to read quota snapshot from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	for _, id := range warehouseIDs {
		if _, known := snap.Quota[id]; !known {
			return nil, false
		}
	}
	snap.Cached = true
	return &snap, true
}

func (f *Fetcher) store(snap *Snapshot) {
	if f.cacheRepo == nil {
		return
	}
	// an expired entry is still written so it can serve as the stale fallback
	ttl := f.cfg.CacheTTL - f.now().Sub(snap.FetchedAt)
	if err := f.cacheRepo.Store(clientdata.TableQuotaSnapshots, snapshotKey, snap, ttl); err != nil {
		f.log.Warn().Err(err).Msg("Failed to cache quota snapshot")
	}
}

func (f *Fetcher) setLast(snap *Snapshot) {
	f.mu.Lock()
	f.last = snap
	f.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
