// Package database provides the SQLite connection and schema migration.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// Profile selects durability vs speed PRAGMAs
type Profile string

const (
	// ProfileStandard fsyncs at checkpoints
	ProfileStandard Profile = "standard"
	// ProfileCache trades durability for speed (ephemeral data)
	ProfileCache Profile = "cache"
)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	path    string
	name    string
	profile Profile
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile Profile
	Name    string // Friendly name for logging
}

// New opens a database and verifies the connection
func New(cfg Config) (*DB, error) {
	// file: URIs are used for in-memory databases in tests
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}
	if cfg.Name == "" {
		cfg.Name = "restock"
	}

	conn, err := sql.Open("sqlite", connectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(30 * time.Minute)
	if strings.Contains(cfg.Path, "memory") {
		// Each connection to :memory: would get its own database
		conn.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, name: cfg.Name, profile: cfg.Profile}, nil
}

func connectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := []string{"journal_mode(WAL)", "foreign_keys(1)", "busy_timeout(5000)"}
	switch profile {
	case ProfileCache:
		pragmas = append(pragmas, "synchronous(OFF)", "temp_store(MEMORY)")
	default:
		pragmas = append(pragmas, "synchronous(NORMAL)", "temp_store(MEMORY)")
	}
	return path + sep + "_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Migrate applies every embedded schema file in lexical order.
// Schema files only use CREATE ... IF NOT EXISTS so reapplying is a no-op.
func (db *DB) Migrate() error {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("failed to list schemas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		err = WithTransaction(db.conn, func(tx *sql.Tx) error {
			_, err := tx.Exec(string(content))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply schema %s to %s: %w", name, db.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

// QuickCheck pings the database
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint, used before copying the file for backups
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// SizeBytes returns the size of the database file on disk
func (db *DB) SizeBytes() int64 {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
