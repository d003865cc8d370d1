// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package settings provides persistent, namespaced key-value storage
// for plugins.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed settings store. Keys are namespaced by
// plugin name so plugins cannot read or clobber each other's values.
type Store struct {
	db *sql.DB
}

// Open opens or creates the settings database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates the schema if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS plugin_settings (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(namespace, key)
		);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key in namespace. The second return is
// false when the key is not set.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM plugin_settings
		WHERE namespace = ? AND key = ?`,
		namespace, key,
	)

	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes the value for key in namespace, replacing any previous
// value.
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_settings (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		namespace, key, value,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Delete removes key from namespace. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM plugin_settings
		WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	return err
}

// List returns all settings in a namespace.
func (s *Store) List(ctx context.Context, namespace string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM plugin_settings
		WHERE namespace = ?`,
		namespace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
