// Package store persists migration configs and queue items in a SQL
// database. SQLite is the default backend; SQL Server works with the same
// statements since both accept ? ordinal placeholders.
package store

import (
	"database/sql"
	"fmt"

	"github.com/recmig/recmig/pkg/database"
)

// timeLayout fixes the fractional-second width so timestamp columns sort
// lexicographically in creation order. Whole seconds formatted with
// time.RFC3339Nano would drop the fraction and sort after later sub-second
// values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the persistence database.
type Store struct {
	db *sql.DB
}

// Open connects to the store database and ensures the schema exists.
func Open(driver, dsn string) (*Store, error) {
	db, err := database.ConnectStore(driver, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already open database, creating the schema. Used by
// tests with an in-memory database.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS migration_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		source_env TEXT NOT NULL,
		target_env TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_mappings (
		id TEXT PRIMARY KEY,
		config_id TEXT NOT NULL,
		source_entity TEXT NOT NULL,
		target_entity TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		match_on TEXT,
		allow_creates INTEGER NOT NULL DEFAULT 1,
		allow_updates INTEGER NOT NULL DEFAULT 1,
		allow_deletes INTEGER NOT NULL DEFAULT 0,
		allow_deactivates INTEGER NOT NULL DEFAULT 0,
		orphan_policy TEXT NOT NULL DEFAULT 'ignore',
		script TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS field_mappings (
		id TEXT PRIMARY KEY,
		mapping_id TEXT NOT NULL,
		target_field TEXT NOT NULL,
		transform_json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS resolvers (
		id TEXT PRIMARY KEY,
		mapping_id TEXT NOT NULL,
		name TEXT NOT NULL,
		source_entity TEXT NOT NULL,
		match_fields_json TEXT NOT NULL,
		fallback TEXT NOT NULL DEFAULT 'error'
	)`,
	`CREATE TABLE IF NOT EXISTS negative_matches (
		mapping_id TEXT NOT NULL,
		source_entity TEXT NOT NULL,
		target_entity TEXT NOT NULL,
		source_field TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		queue_name TEXT NOT NULL,
		priority INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL,
		succeeded_json TEXT NOT NULL DEFAULT '[]',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		config_name TEXT,
		mapping_name TEXT,
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_items_dequeue
		ON queue_items (queue_name, status, priority, created_at)`,
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
