package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/restock/internal/events"
	testingpkg "github.com/aristath/restock/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	modified  map[string]time.Time
	uploadErr error
	deleted   []string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), modified: make(map[string]time.Time)}
}

func (m *memStore) Upload(_ context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	blob, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = blob
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v)), LastModified: m.modified[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func untar(t *testing.T, blob []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

func TestCreateAndUpload(t *testing.T) {
	db := testingpkg.NewTestDB(t)
	_, err := db.Conn().Exec("INSERT INTO supply_destinations VALUES ('Kazan', 1)")
	require.NoError(t, err)

	store := newMemStore()
	dataDir := t.TempDir()
	svc := NewBackupService(db, store, dataDir, "/restock/", zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }

	info, err := svc.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "restock/restock-backup-2024-05-01-030000.tar.gz", info.Key)
	assert.Greater(t, info.SizeBytes, int64(0))

	blob, ok := store.objects[info.Key]
	require.True(t, ok)
	files := untar(t, blob)
	require.Contains(t, files, "test.db")
	require.Contains(t, files, metadataName)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataName], &meta))
	assert.Equal(t, "test", meta.Database)
	assert.Equal(t, int64(len(files["test.db"])), meta.SizeBytes)
	assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256(files["test.db"])), meta.Checksum)

	// the snapshot is a usable database
	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restored, files["test.db"], 0644))
	conn, err := sql.Open("sqlite", restored)
	require.NoError(t, err)
	defer conn.Close()
	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM supply_destinations").Scan(&count))
	assert.Equal(t, 1, count)

	// staging is cleaned up
	entries, err := os.ReadDir(filepath.Join(dataDir, "backup-staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateAndUpload_UploadError(t *testing.T) {
	store := newMemStore()
	store.uploadErr = errors.New("denied")
	svc := NewBackupService(testingpkg.NewTestDB(t), store, t.TempDir(), "", zerolog.Nop())

	_, err := svc.CreateAndUpload(context.Background())
	assert.ErrorContains(t, err, "denied")
}

func seedBackups(store *memStore, prefix string, stamps ...time.Time) {
	for _, ts := range stamps {
		store.objects[prefix+archivePrefix+ts.Format(archiveLayout)+archiveSuffix] = []byte("x")
	}
}

func TestListBackups(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	seedBackups(store, "restock/", now.AddDate(0, 0, -2), now.AddDate(0, 0, -1))
	store.objects["restock/restock-backup-garbage.tar.gz"] = []byte("x")
	store.objects["restock/other.txt"] = []byte("x")

	svc := NewBackupService(testingpkg.NewTestDB(t), store, t.TempDir(), "restock", zerolog.Nop())
	svc.now = func() time.Time { return now }

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp), "newest first")
	assert.Equal(t, int64(24), backups[0].AgeHours)
}

func TestRotateOldBackups(t *testing.T) {
	now := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		ages          []int
		retentionDays int
		expected      int
	}{
		{name: "keeps minimum even when old", ages: []int{40, 50, 60}, retentionDays: 30, expected: 0},
		{name: "deletes beyond minimum", ages: []int{1, 2, 3, 40, 50}, retentionDays: 30, expected: 2},
		{name: "old ones within minimum survive", ages: []int{40, 41, 42, 43}, retentionDays: 30, expected: 1},
		{name: "retention zero keeps all", ages: []int{1, 2, 3, 40, 50}, retentionDays: 0, expected: 0},
		{name: "young ones survive", ages: []int{1, 2, 3, 4, 5}, retentionDays: 30, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			for _, age := range tt.ages {
				seedBackups(store, "", now.AddDate(0, 0, -age))
			}
			svc := NewBackupService(testingpkg.NewTestDB(t), store, t.TempDir(), "", zerolog.Nop())
			svc.now = func() time.Time { return now }

			deleted, err := svc.RotateOldBackups(context.Background(), tt.retentionDays)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, deleted)
			assert.Len(t, store.objects, len(tt.ages)-tt.expected)
		})
	}
}

func TestBackupJob(t *testing.T) {
	store := newMemStore()
	svc := NewBackupService(testingpkg.NewTestDB(t), store, t.TempDir(), "", zerolog.Nop())

	bus := events.NewBus()
	var got []*events.Event
	bus.Subscribe(events.BackupCompleted, func(e *events.Event) { got = append(got, e) })

	job := NewBackupJob(svc, 30, events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
	assert.Equal(t, "database_backup", job.Name())
	require.NoError(t, job.Run())

	assert.Len(t, store.objects, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "reliability", got[0].Module)
}

func TestBackupJob_UploadFailure(t *testing.T) {
	store := newMemStore()
	store.uploadErr = errors.New("offline")
	job := NewBackupJob(NewBackupService(testingpkg.NewTestDB(t), store, t.TempDir(), "", zerolog.Nop()), 30, nil, zerolog.Nop())

	assert.Error(t, job.Run())
}
