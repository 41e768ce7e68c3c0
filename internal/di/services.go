package di

import (
	"context"
	"fmt"

	"github.com/aristath/restock/internal/clientdata"
	"github.com/aristath/restock/internal/clients/marketplace"
	"github.com/aristath/restock/internal/config"
	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/metrics"
	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/aristath/restock/internal/modules/catalog"
	"github.com/aristath/restock/internal/modules/delivery"
	"github.com/aristath/restock/internal/modules/dispatch"
	"github.com/aristath/restock/internal/modules/intransit"
	"github.com/aristath/restock/internal/modules/quota"
	"github.com/aristath/restock/internal/modules/requests"
	"github.com/aristath/restock/internal/modules/stock"
	"github.com/aristath/restock/internal/modules/transfer"
	"github.com/aristath/restock/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the data access layer on the shared connection
func InitializeRepositories(container *Container, log zerolog.Logger) {
	conn := container.DB.Conn()
	container.CatalogRepo = catalog.NewRepository(conn, log)
	container.InTransitRepo = intransit.NewRepository(conn, log)
	container.RunRepo = transfer.NewRunRepository(conn, log)
	container.ClientDataRepo = clientdata.NewRepository(conn)
}

// InitializeClients creates the marketplace client and the credential rotation.
// A missing credentials file leaves the rotation empty; runs then fail at quota acquisition.
func InitializeClients(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.Marketplace = marketplace.NewClient(marketplace.Config{
		BaseURL:      cfg.Marketplace.BaseURL,
		AnalyticsURL: cfg.Marketplace.AnalyticsBaseURL,
		APIKey:       cfg.Marketplace.AnalyticsAPIKey,
		Timeout:      cfg.Marketplace.RequestTimeout,
	}, log)

	creds, err := marketplace.LoadCredentials(cfg.Marketplace.CredentialsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Marketplace.CredentialsFile).Msg("No marketplace credentials loaded")
		creds = marketplace.NewRotation(nil)
	}
	container.Credentials = creds
	log.Info().Int("credentials", creds.Len()).Msg("Marketplace client initialized")
}

// InitializeInfrastructure creates the event bus, metrics and the run lock
func InitializeInfrastructure(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = metrics.New()

	if cfg.Redis.Addr == "" {
		container.Locker = lock.NewLocal()
		return nil
	}

	redisLock, err := lock.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LockTTL, log)
	if err != nil {
		return err
	}
	container.Locker = redisLock
	container.closers = append(container.closers, redisLock)
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis run lock")
	return nil
}

// InitializeServices creates the planning, dispatch and reconciliation services
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.QuotaFetcher = quota.NewFetcher(quota.Config{
		BatchPause: cfg.Dispatch.QuotaBatchPause,
		CacheTTL:   cfg.Dispatch.QuotaCacheTTL,
	}, container.Marketplace, container.Credentials, container.ClientDataRepo, log)

	container.Pipeline = dispatch.NewPipeline(dispatch.Config{
		MaxFailures:    cfg.Dispatch.MaxFailures,
		CooldownLadder: cfg.Dispatch.CooldownLadder,
		SendDelay:      cfg.Dispatch.SendDelay,
	}, container.Marketplace, container.Credentials, container.QuotaFetcher, log)

	container.Recorder = dispatch.NewRecorder(container.InTransitRepo, cfg.Dispatch.RecorderBuffer, cfg.Dispatch.RecorderIdleTimeout, log)
	container.Metrics.WatchRecorder(container.Recorder.Recorded, container.Recorder.Dropped)

	container.TransferService = transfer.NewService(transfer.Config{
		AvailabilityWindowDays: cfg.Planner.AvailabilityWindowDays,
		DryRun:                 cfg.DryRun,
	}, transfer.Deps{
		Source:    container.CatalogRepo,
		InTransit: container.InTransitRepo,
		StateLog:  container.CatalogRepo,
		Quota:     container.QuotaFetcher,
		Planner:   allocation.NewPlanner(allocation.Config{MinAvailabilityDays: cfg.Planner.MinAvailabilityDays}, log),
		Requests:  requests.NewBuilder(log),
		Stock:     stock.NewBuilder(log),
		Dispatch:  container.Pipeline,
		Recorder:  container.Recorder,
		Runs:      container.RunRepo,
		Locker:    container.Locker,
		Events:    container.EventManager,
		Metrics:   container.Metrics,
	}, log)

	container.Reconciler = delivery.NewReconciler(
		container.Marketplace,
		container.CatalogRepo,
		container.InTransitRepo,
		container.ClientDataRepo,
		cfg.Dispatch.DeliveryLookbackDays,
		log,
	)

	if cfg.Backup.Bucket == "" {
		log.Info().Msg("Backups disabled (no bucket configured)")
		return nil
	}
	store, err := reliability.NewS3Store(ctx, cfg.Backup, log)
	if err != nil {
		return fmt.Errorf("failed to create backup store: %w", err)
	}
	container.BackupService = reliability.NewBackupService(container.DB, store, cfg.DataDir, cfg.Backup.Prefix, log)
	return nil
}
