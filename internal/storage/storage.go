// Package storage provides persistent storage for the trust node using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the Durable Store (§4.1): a write-through, query-by-key
// persistence layer for experiences, peers, and cached peer opinions.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance, creating the data directory and
// schema if absent.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trustnode.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single-writer discipline (§5): the network actor serializes all
	// mutating commands, and SQLite only supports one writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates the persisted-state tables (§6 logical schema).
func (s *Storage) initSchema() error {
	schema := `
	-- Ledger of first-hand experiences with external agents (§3).
	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		id_domain TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		pv_roi REAL NOT NULL,
		invested_volume REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		notes TEXT,
		data BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_experiences_agent ON experiences(id_domain, agent_id);
	CREATE INDEX IF NOT EXISTS idx_experiences_timestamp ON experiences(timestamp);

	-- Registered trust peers (§3 Peer entry).
	CREATE TABLE IF NOT EXISTS peers (
		peer_handle TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		recommender_quality REAL NOT NULL DEFAULT 0,
		added_at INTEGER NOT NULL
	);

	-- Cached peer-sourced opinions (§3 Cached peer opinion).
	CREATE TABLE IF NOT EXISTS cached_scores (
		id_domain TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		expected_pv_roi REAL NOT NULL,
		total_volume REAL NOT NULL,
		data_points INTEGER NOT NULL,
		from_peer TEXT NOT NULL,
		cached_at INTEGER NOT NULL,
		PRIMARY KEY (id_domain, agent_id, from_peer)
	);

	CREATE INDEX IF NOT EXISTS idx_cached_scores_agent ON cached_scores(id_domain, agent_id);
	CREATE INDEX IF NOT EXISTS idx_cached_scores_cached_at ON cached_scores(cached_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases. These are
// idempotent ALTER TABLE statements; errors are ignored since the column
// may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
