package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore using SQLite. The token pair lives
// in a single fixed row, replaced atomically by every Save.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed credential store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access TEXT NOT NULL,
		refresh TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves the stored token pair.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.TokenPair, error) {
	query := `SELECT access, refresh FROM credentials WHERE id = 1`

	var pair domain.TokenPair
	err := s.db.QueryRowContext(ctx, query).Scan(&pair.Access, &pair.Refresh)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credentials row: %w", err)
	}

	// A row with either field empty is a broken write; treat it as absent.
	if !pair.Valid() {
		return nil, nil
	}
	return &pair, nil
}

// Save replaces the stored token pair wholesale.
func (s *SQLiteStore) Save(ctx context.Context, pair *domain.TokenPair) error {
	if !pair.Valid() {
		return fmt.Errorf("save credentials: incomplete token pair")
	}

	query := `
	INSERT INTO credentials (id, access, refresh, updated_at)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		access = excluded.access,
		refresh = excluded.refresh,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, pair.Access, pair.Refresh, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// Clear removes any stored credentials.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
