// Package reliability provides database backups and maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/restock/internal/database"
	"github.com/aristath/restock/internal/version"
	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "restock-backup-"
	archiveSuffix    = ".tar.gz"
	archiveLayout    = "2006-01-02-150405"
	metadataName     = "backup-metadata.json"
	minBackupsToKeep = 3
)

// BackupMetadata is stored next to the database inside every archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes a stored archive
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the database and ships it to an object store
type BackupService struct {
	db         *database.DB
	store      ObjectStore
	stagingDir string
	prefix     string
	now        func() time.Time
	log        zerolog.Logger
}

// NewBackupService creates a backup service. Archives are staged under dataDir.
func NewBackupService(db *database.DB, store ObjectStore, dataDir, prefix string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:         db,
		store:      store,
		stagingDir: filepath.Join(dataDir, "backup-staging"),
		prefix:     strings.Trim(prefix, "/"),
		now:        time.Now,
		log:        log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload writes a consistent snapshot of the database into a tar.gz archive
// together with its metadata and uploads it.
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupInfo, error) {
	s.log.Info().Msg("Starting database backup")
	startTime := s.now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	staging, err := os.MkdirTemp(s.stagingDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint before backup failed")
	}

	dbFile := s.db.Name() + ".db"
	snapshotPath := filepath.Join(staging, dbFile)
	if _, err := s.db.Conn().ExecContext(ctx, "VACUUM INTO ?", snapshotPath); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := fileChecksum(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	meta := BackupMetadata{
		Timestamp: startTime.UTC(),
		Version:   version.Version,
		Commit:    version.Commit,
		Database:  s.db.Name(),
		Filename:  dbFile,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metaBlob, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataName), metaBlob, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := archivePrefix + startTime.UTC().Format(archiveLayout) + archiveSuffix
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, staging, []string{dbFile, metadataName}); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()
	archiveInfo, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.key(archiveName)
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return nil, err
	}

	s.log.Info().
		Dur("duration", s.now().Sub(startTime)).
		Str("key", key).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Database backup uploaded")

	return &BackupInfo{Key: key, Timestamp: meta.Timestamp, SizeBytes: archiveInfo.Size()}, nil
}

// ListBackups lists the stored archives, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.key(archivePrefix))
	if err != nil {
		return nil, err
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		ts, err := time.Parse(archiveLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays. The newest three are always kept
// and a retention of 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return deleted, nil
}

func (s *BackupService) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func createArchive(archivePath, sourceDir string, names []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range names {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
