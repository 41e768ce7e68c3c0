package di

import (
	"fmt"

	"github.com/aristath/restock/internal/config"
	"github.com/aristath/restock/internal/reliability"
	"github.com/aristath/restock/internal/scheduler"
	"github.com/rs/zerolog"
)

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

// RegisterJobs creates every background job and schedules it.
// The scheduler is created here but not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(container.EventManager, container.Metrics, log)

	jobs := &JobInstances{
		TransferCycle: scheduler.NewTransferCycleJob(container.TransferService, cfg.Redis.LockTTL, log),
		Reconcile:     scheduler.NewReconcileJob(container.Reconciler, container.EventManager, container.Metrics, log),
		Cleanup:       scheduler.NewCacheCleanupJob(container.ClientDataRepo, container.Metrics, log),
		Maintenance:   reliability.NewMaintenanceJob(container.DB, cfg.DataDir, log),
	}
	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, container.EventManager, log)
	}

	schedules := []scheduledJob{
		{cfg.Schedule.TransferCycle, jobs.TransferCycle},
		{cfg.Schedule.Reconcile, jobs.Reconcile},
		{cfg.Schedule.Cleanup, jobs.Cleanup},
		{cfg.Schedule.Maintenance, jobs.Maintenance},
	}
	if jobs.Backup != nil {
		schedules = append(schedules, scheduledJob{cfg.Schedule.Backup, jobs.Backup})
	}

	for _, s := range schedules {
		if err := container.Scheduler.AddJob(s.schedule, s.job); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(container.Scheduler.Jobs())).Msg("Jobs registered")
	return jobs, nil
}
