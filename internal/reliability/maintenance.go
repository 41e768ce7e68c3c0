package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/restock/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeBytes = 500 << 20
	lowFreeBytes      = 5 << 30
)

// MaintenanceJob checks database health, truncates the WAL and watches free disk space
type MaintenanceJob struct {
	db        *database.DB
	dataDir   string
	diskUsage func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates the daily maintenance job
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:        db,
		dataDir:   dataDir,
		diskUsage: disk.Usage,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance steps. Only a failed integrity check or a nearly full disk is an error.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	var result string
	if err := j.db.Conn().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		j.log.Error().Str("result", result).Msg("Database integrity check failed")
		return fmt.Errorf("integrity check failed: %s", result)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	if _, err := j.db.Conn().ExecContext(ctx, "PRAGMA optimize"); err != nil {
		j.log.Warn().Err(err).Msg("PRAGMA optimize failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration", time.Since(startTime)).
		Float64("size_mb", float64(j.db.SizeBytes())/1024/1024).
		Msg("Database maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Failed to read disk usage")
		return nil
	}

	freeGB := float64(usage.Free) / 1e9
	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Float64("free_gb", freeGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free on %s", freeGB, j.dataDir)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Float64("free_gb", freeGB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check")
	}
	return nil
}
