package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/metrics"
	"github.com/aristath/restock/internal/modules/delivery"
	"github.com/aristath/restock/internal/modules/transfer"
	"github.com/rs/zerolog"
)

// TransferRunner starts planning runs
type TransferRunner interface {
	Run(ctx context.Context, opts transfer.RunOptions) (*transfer.RunReport, error)
	DefaultDryRun() bool
}

// TransferCycleJob runs one planning cycle
type TransferCycleJob struct {
	runner  TransferRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewTransferCycleJob creates the planning cycle job
func NewTransferCycleJob(runner TransferRunner, timeout time.Duration, log zerolog.Logger) *TransferCycleJob {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &TransferCycleJob{
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("job", "transfer_cycle").Logger(),
	}
}

// Name returns the job name
func (j *TransferCycleJob) Name() string {
	return "transfer_cycle"
}

// Run executes a planning run. A run started elsewhere is not an error.
func (j *TransferCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.runner.Run(ctx, transfer.RunOptions{DryRun: j.runner.DefaultDryRun()})
	if errors.Is(err, lock.ErrLocked) {
		j.log.Info().Msg("Planning run already in progress, skipping cycle")
		return nil
	}
	return err
}

// DeliveryReconciler applies the delivery report
type DeliveryReconciler interface {
	Reconcile(ctx context.Context) (*delivery.Result, error)
}

// ReconcileJob closes delivered in-transit records
type ReconcileJob struct {
	reconciler DeliveryReconciler
	events     *events.Manager
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewReconcileJob creates the delivery reconciliation job. eventManager and m may be nil.
func NewReconcileJob(reconciler DeliveryReconciler, eventManager *events.Manager, m *metrics.Metrics, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		events:     eventManager,
		metrics:    m,
		log:        log.With().Str("job", "delivery_reconcile").Logger(),
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "delivery_reconcile"
}

// Run executes the reconciliation
func (j *ReconcileJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	res, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}

	if j.metrics != nil {
		j.metrics.InTransitFinished.Add(float64(res.Finished))
	}
	if j.events != nil {
		j.events.EmitTyped("delivery", &events.DeliveryReconciledData{
			Delivered:       res.Delivered,
			Updated:         res.Updated,
			Finished:        res.Finished,
			NewDestinations: res.NewDestinations,
			StaleReport:     res.StaleReport,
		})
	}
	return nil
}

// ExpiredPurger removes expired cache entries and reports the count per table
type ExpiredPurger interface {
	DeleteAllExpired() (map[string]int64, error)
}

// CacheCleanupJob purges expired quota snapshots and delivery reports
type CacheCleanupJob struct {
	cache   ExpiredPurger
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewCacheCleanupJob creates the cache cleanup job. m may be nil.
func NewCacheCleanupJob(cache ExpiredPurger, m *metrics.Metrics, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache:   cache,
		metrics: m,
		log:     log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Run deletes every expired entry
func (j *CacheCleanupJob) Run() error {
	deleted, err := j.cache.DeleteAllExpired()
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(deleted))
	for table := range deleted {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var total int64
	for _, table := range tables {
		n := deleted[table]
		if n == 0 {
			continue
		}
		total += n
		if j.metrics != nil {
			j.metrics.CacheExpired.WithLabelValues(table).Add(float64(n))
		}
	}
	if total > 0 {
		j.log.Info().Int64("deleted", total).Strs("tables", tables).Msg("Expired cache entries removed")
	}
	return nil
}
