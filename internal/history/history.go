// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package history persists terminal job outcomes to SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gantry-cnc/gantry/internal/job"
)

// Compile-time interface check.
var _ job.HistoryRecorder = (*Store)(nil)

// Record is one finished job.
type Record struct {
	JobID      string
	SourceID   string
	Filename   string
	FilePath   string
	Reason     string
	Error      string
	TotalLines int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is a SQLite-backed job history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
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
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL UNIQUE,
			source_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			file_path TEXT,
			reason TEXT NOT NULL,
			error TEXT,
			total_lines INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);`,
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

// RecordJob inserts one terminal job outcome.
func (s *Store) RecordJob(ctx context.Context, jc job.Context, out job.Outcome, started, finished time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, source_id, filename, file_path, reason, error, total_lines, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jc.JobID.String(),
		jc.SourceID,
		jc.Filename,
		jc.FilePath,
		string(out.Reason),
		out.Err,
		out.TotalLines,
		started.UTC().Format(time.RFC3339),
		finished.UTC().Format(time.RFC3339),
	)
	return err
}

// Recent returns the most recently finished jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, source_id, filename, file_path, reason, error, total_lines, started_at, finished_at
		FROM jobs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			filePath   sql.NullString
			errText    sql.NullString
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(
			&rec.JobID,
			&rec.SourceID,
			&rec.Filename,
			&filePath,
			&rec.Reason,
			&errText,
			&rec.TotalLines,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		rec.FilePath = filePath.String
		rec.Error = errText.String
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
