package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/metrics"
	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/aristath/restock/internal/modules/dispatch"
	"github.com/aristath/restock/internal/modules/quota"
	"github.com/aristath/restock/internal/modules/requests"
	"github.com/aristath/restock/internal/modules/stock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const lockName = "transfer_run"

// QuotaProvider acquires and remembers the quota book of a run
type QuotaProvider interface {
	FetchAll(ctx context.Context, warehouseIDs []int, force bool) (*domain.QuotaBook, error)
	Remember(book *domain.QuotaBook)
	Last() *quota.Snapshot
}

// Dispatcher submits built requests
type Dispatcher interface {
	Run(ctx context.Context, runID string, reqs []domain.TransferRequest, quota *domain.QuotaBook, sink dispatch.Sink) (*dispatch.Report, error)
}

// Config holds run settings
type Config struct {
	AvailabilityWindowDays int
	DryRun                 bool
}

// Deps are the collaborators of a Service. Events and Metrics may be nil.
type Deps struct {
	Source    domain.DataSource
	InTransit domain.InTransitStore
	StateLog  domain.WarehouseStateLogger
	Quota     QuotaProvider
	Planner   *allocation.Planner
	Requests  *requests.Builder
	Stock     *stock.Builder
	Dispatch  Dispatcher
	Recorder  dispatch.Sink
	Runs      *RunRepository
	Locker    lock.Locker
	Events    *events.Manager
	Metrics   *metrics.Metrics
}

// Service runs the full planning cycle
type Service struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// NewService creates a transfer service
func NewService(cfg Config, deps Deps, log zerolog.Logger) *Service {
	if cfg.AvailabilityWindowDays <= 0 {
		cfg.AvailabilityWindowDays = 30
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("service", "transfer").Logger(),
		now:  time.Now,
	}
}

// DefaultDryRun reports whether runs without explicit options skip dispatch
func (s *Service) DefaultDryRun() bool {
	return s.cfg.DryRun
}

// Run executes one planning run. It returns lock.ErrLocked when another run is active.
// The report is returned together with any error so partial progress stays visible.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	release, err := s.deps.Locker.TryLock(ctx, lockName)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &RunReport{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
		DryRun:    opts.DryRun,
		Defects:   []allocation.Defect{},
	}
	log := s.log.With().Str("run_id", report.ID).Logger()

	if err := s.deps.Runs.Start(ctx, report); err != nil {
		return nil, err
	}
	s.emit(&events.RunStartedData{RunID: report.ID, DryRun: opts.DryRun})
	log.Info().Bool("dry_run", opts.DryRun).Msg("Planning run started")

	runErr := s.execute(ctx, opts, report, log)

	finished := s.now()
	report.FinishedAt = &finished
	if runErr != nil {
		report.Error = runErr.Error()
	}

	// the run row is written even when the caller's context is gone
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deps.Runs.Finish(saveCtx, report); err != nil {
		log.Error().Err(err).Msg("Failed to store run report")
	}

	s.observe(report, runErr)
	s.emit(&events.RunCompletedData{
		RunID:      report.ID,
		Accepted:   acceptedOf(report),
		UnitsSent:  unitsSentOf(report),
		StopReason: report.StopReason(),
		Error:      report.Error,
		Duration:   finished.Sub(report.StartedAt).Seconds(),
	})

	if runErr != nil {
		log.Error().Err(runErr).Msg("Planning run failed")
		return report, runErr
	}
	log.Info().
		Int("intents", report.Intents).
		Int("requests", report.Requests).
		Int("accepted", acceptedOf(report)).
		Int("units_sent", unitsSentOf(report)).
		Str("stop_reason", report.StopReason()).
		Dur("elapsed", finished.Sub(report.StartedAt)).
		Msg("Planning run finished")
	return report, nil
}

func (s *Service) execute(ctx context.Context, opts RunOptions, report *RunReport, log zerolog.Logger) error {
	src := s.deps.Source

	topo, err := src.Topology(ctx)
	if err != nil {
		return fmt.Errorf("failed to load topology: %w", err)
	}
	warehouseIDs := make([]int, 0, len(topo.Warehouses))
	for id := range topo.Warehouses {
		warehouseIDs = append(warehouseIDs, id)
	}
	sort.Ints(warehouseIDs)
	report.Warehouses = len(warehouseIDs)

	book, err := s.deps.Quota.FetchAll(ctx, warehouseIDs, opts.ForceQuota)
	if err != nil {
		return fmt.Errorf("failed to fetch quota: %w", err)
	}
	snapshot := book.Snapshot()
	if last := s.deps.Quota.Last(); last != nil {
		report.QuotaCached = last.Cached
		if !last.Cached {
			report.QuotaFailed = last.Failed
		}
	}
	if err := s.deps.StateLog.LogWarehouseState(ctx, snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to log warehouse state")
	}
	srcTotal, dstTotal := domain.RegionQuota(book, warehouseIDs)
	s.emit(&events.QuotaFetchedData{
		RunID: report.ID, Warehouses: len(warehouseIDs),
		SrcTotal: srcTotal, DstTotal: dstTotal, Cached: report.QuotaCached,
	})

	task, err := src.ActiveTask(ctx)
	if err != nil {
		return fmt.Errorf("failed to load transfer task: %w", err)
	}
	stockRows, err := src.StockRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stock: %w", err)
	}
	sales, err := src.SalesRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sales: %w", err)
	}
	now := s.now()
	availRows, err := src.AvailabilityRows(ctx, now.AddDate(0, 0, -s.cfg.AvailabilityWindowDays))
	if err != nil {
		return fmt.Errorf("failed to load availability: %w", err)
	}
	blocklist, err := src.Blocklist(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}
	skus, err := src.SKUIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sku map: %w", err)
	}
	inFlight, err := s.deps.InTransit.OpenRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load in-transit records: %w", err)
	}

	avail := stock.BuildAvailabilityIndex(availRows, now, s.cfg.AvailabilityWindowDays)
	demand := stock.BuildDemandIndex(sales)
	collection, stats := s.deps.Stock.Build(stockRows, topo, avail, demand)
	report.StockRows = stats.Rows
	report.DroppedRows = stats.DroppedRows
	report.InFlightRows = len(inFlight)
	report.InFlightSkipped = s.deps.Stock.MergeInFlight(collection, inFlight, topo)

	plan := s.deps.Planner.Plan(allocation.Input{
		Collection: collection,
		Topology:   topo,
		Task:       *task,
		Quota:      book,
		Blocklist:  blocklist,
	})
	built := s.deps.Requests.Build(requests.Input{
		Plan:      plan,
		Quota:     book,
		Blocklist: blocklist,
		SKUs:      skus,
	})

	report.Products = len(plan.Products)
	report.Intents = len(plan.Intents)
	report.UnitsPlanned = plan.TotalUnits()
	report.Requests = len(built.Requests)
	report.UnitsRequested = built.Units()
	report.Defects = append(report.Defects, plan.Defects...)
	report.Defects = append(report.Defects, built.Defects...)
	for _, req := range built.Requests {
		report.PlannedRequests = append(report.PlannedRequests, RequestSummary{
			ProductID: req.ProductID, Source: req.Source, Destination: req.Destination, Units: req.Total(),
		})
	}
	s.emit(&events.PlanBuiltData{
		RunID: report.ID, Products: report.Products, Intents: report.Intents,
		Units: report.UnitsPlanned, Requests: report.Requests, Defects: len(report.Defects),
	})

	if opts.DryRun || len(built.Requests) == 0 {
		return nil
	}

	sink := &observedSink{next: s.deps.Recorder, runID: report.ID, events: s.deps.Events}
	dispatchReport, err := s.deps.Dispatch.Run(ctx, report.ID, built.Requests, book, sink)
	report.Dispatch = dispatchReport
	if dispatchReport != nil {
		// the next run within the cache window continues from the decremented book
		s.deps.Quota.Remember(book)
		if !dispatchReport.Completed() {
			s.emit(&events.DispatchStoppedData{
				RunID:     report.ID,
				Reason:    dispatchReport.StopReason,
				Status:    dispatchReport.FatalStatus,
				Remaining: dispatchReport.Queued - len(dispatchReport.Results),
			})
		}
	}
	if err != nil {
		return fmt.Errorf("dispatch interrupted: %w", err)
	}
	return nil
}

// LastQuota returns the quota snapshot of the latest run
func (s *Service) LastQuota() *quota.Snapshot {
	return s.deps.Quota.Last()
}

// History returns the newest runs
func (s *Service) History(ctx context.Context, limit int) ([]RunSummary, error) {
	return s.deps.Runs.List(ctx, limit)
}

// LastRun returns the report of the newest finished run
func (s *Service) LastRun(ctx context.Context) (*RunReport, error) {
	return s.deps.Runs.Last(ctx)
}

// GetRun returns a stored run report
func (s *Service) GetRun(ctx context.Context, id string) (*RunReport, error) {
	return s.deps.Runs.Get(ctx, id)
}

func (s *Service) emit(data events.EventData) {
	if s.deps.Events != nil {
		s.deps.Events.EmitTyped("transfer", data)
	}
}

func (s *Service) observe(report *RunReport, runErr error) {
	m := s.deps.Metrics
	if m == nil {
		return
	}

	result := "completed"
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		result = "canceled"
	case runErr != nil:
		result = "failed"
	case report.DryRun:
		result = "dry_run"
	case report.StopReason() != "":
		result = "stopped"
	}
	m.Runs.WithLabelValues(result).Inc()
	m.QuotaFailures.Add(float64(report.QuotaFailed))
	if report.FinishedAt != nil {
		m.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	for _, d := range report.Defects {
		m.Defects.WithLabelValues(d.Kind).Inc()
	}
	if report.DroppedRows > 0 {
		m.Defects.WithLabelValues("dropped_stock_row").Add(float64(report.DroppedRows))
	}

	if d := report.Dispatch; d != nil {
		m.Requests.WithLabelValues(string(domain.OutcomeAccepted)).Add(float64(d.Accepted))
		m.Requests.WithLabelValues(string(dispatch.OutcomeDiscarded)).Add(float64(d.Discarded))
		m.Requests.WithLabelValues(string(domain.OutcomeRetryable)).Add(float64(d.Retryable + d.TransportErrors))
		m.Requests.WithLabelValues(string(domain.OutcomeRejected)).Add(float64(d.Rejected))
		if d.FatalStatus != 0 {
			m.Requests.WithLabelValues(string(domain.OutcomeFatal)).Inc()
		}
		m.UnitsSent.Add(float64(d.UnitsSent))
		m.Cooldown.Add(d.Cooldown.Seconds())
	}
}

func acceptedOf(r *RunReport) int {
	if r.Dispatch == nil {
		return 0
	}
	return r.Dispatch.Accepted
}

func unitsSentOf(r *RunReport) int {
	if r.Dispatch == nil {
		return 0
	}
	return r.Dispatch.UnitsSent
}

// observedSink publishes every accepted transfer before handing it to the recorder
type observedSink struct {
	next   dispatch.Sink
	runID  string
	events *events.Manager
}

func (o *observedSink) Enqueue(t domain.SentTransfer) {
	o.next.Enqueue(t)
	if o.events != nil {
		o.events.EmitTyped("dispatch", &events.TransferAcceptedData{
			RunID:       o.runID,
			ProductID:   t.ProductID,
			Source:      t.FromWarehouse,
			Destination: t.ToWarehouse,
			Units:       t.Quantity,
		})
	}
}
