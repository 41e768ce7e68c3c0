// Package di wires the application together.
package di

import (
	"io"

	"github.com/aristath/restock/internal/clientdata"
	"github.com/aristath/restock/internal/clients/marketplace"
	"github.com/aristath/restock/internal/database"
	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/metrics"
	"github.com/aristath/restock/internal/modules/catalog"
	"github.com/aristath/restock/internal/modules/delivery"
	"github.com/aristath/restock/internal/modules/dispatch"
	"github.com/aristath/restock/internal/modules/intransit"
	"github.com/aristath/restock/internal/modules/quota"
	"github.com/aristath/restock/internal/modules/transfer"
	"github.com/aristath/restock/internal/reliability"
	"github.com/aristath/restock/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire and handed to the server and main.
type Container struct {
	DB *database.DB

	// Clients
	Marketplace *marketplace.Client
	Credentials *marketplace.Rotation

	// Repositories
	CatalogRepo    *catalog.Repository
	InTransitRepo  *intransit.Repository
	RunRepo        *transfer.RunRepository
	ClientDataRepo *clientdata.Repository

	// Infrastructure
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Metrics
	Locker       lock.Locker
	Scheduler    *scheduler.Scheduler

	// Services
	QuotaFetcher    *quota.Fetcher
	Pipeline        *dispatch.Pipeline
	Recorder        *dispatch.Recorder
	TransferService *transfer.Service
	Reconciler      *delivery.Reconciler
	BackupService   *reliability.BackupService // nil when backups are not configured

	// closers run in reverse order on Close
	closers []io.Closer
}

// JobInstances holds every job that can be scheduled or triggered manually
type JobInstances struct {
	TransferCycle *scheduler.TransferCycleJob
	Reconcile     *scheduler.ReconcileJob
	Cleanup       *scheduler.CacheCleanupJob
	Maintenance   *reliability.MaintenanceJob
	Backup        *reliability.BackupJob // nil when backups are not configured
}

// All returns the configured jobs
func (j *JobInstances) All() []scheduler.Job {
	jobs := []scheduler.Job{j.TransferCycle, j.Reconcile, j.Cleanup, j.Maintenance}
	if j.Backup != nil {
		jobs = append(jobs, j.Backup)
	}
	return jobs
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Close stops the recorder and releases connections. Safe to call on a partially wired container.
func (c *Container) Close() error {
	if c.Recorder != nil {
		c.Recorder.Close()
	}
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
