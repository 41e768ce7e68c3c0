package reliability

import (
	"context"
	"time"

	"github.com/aristath/restock/internal/events"
	"github.com/rs/zerolog"
)

// BackupJob uploads a backup and rotates old archives
type BackupJob struct {
	service       *BackupService
	retentionDays int
	events        *events.Manager
	log           zerolog.Logger
}

// NewBackupJob creates the scheduled backup job. eventManager may be nil.
func NewBackupJob(service *BackupService, retentionDays int, eventManager *events.Manager, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		events:        eventManager,
		log:           log.With().Str("job", "database_backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run uploads a new backup, then rotates. A failed rotation does not fail the job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	info, err := j.service.CreateAndUpload(ctx)
	if err != nil {
		return err
	}
	if j.events != nil {
		j.events.EmitTyped("reliability", &events.BackupCompletedData{Key: info.Key, Bytes: info.SizeBytes})
	}

	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
