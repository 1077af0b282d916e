// Package db provides PostgreSQL persistence for job history.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/places-scraper/internal/types"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the history table when it does not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scrape_jobs (
			id               UUID PRIMARY KEY,
			business_type    TEXT NOT NULL,
			areas            TEXT[] NOT NULL,
			results_per_area INT NOT NULL,
			output_file      TEXT NOT NULL,
			append_mode      BOOLEAN NOT NULL DEFAULT FALSE,
			status           TEXT NOT NULL,
			accepted         INT NOT NULL DEFAULT 0,
			duplicates       INT NOT NULL DEFAULT 0,
			error_detail     TEXT,
			submitted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at      TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// RecordSubmission inserts a newly submitted job.
func (db *DB) RecordSubmission(ctx context.Context, id string, spec types.JobSpec) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, business_type, areas, results_per_area, output_file, append_mode, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'running')`,
		id, spec.BusinessType, spec.Areas, spec.ResultsPerArea, spec.OutputFile, spec.Append,
	)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// RecordOutcome marks a job terminal with its final counters.
func (db *DB) RecordOutcome(ctx context.Context, agg types.Aggregate) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE scrape_jobs
		 SET status = $1, accepted = $2, duplicates = $3, error_detail = NULLIF($4, ''), finished_at = NOW()
		 WHERE id = $5`,
		string(agg.Status), agg.Accepted, agg.Duplicates, agg.Error, agg.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// JobRecord is one persisted history row.
type JobRecord struct {
	ID             string
	BusinessType   string
	Areas          []string
	ResultsPerArea int
	OutputFile     string
	Append         bool
	Status         string
	Accepted       int
	Duplicates     int
	ErrorDetail    string
	SubmittedAt    time.Time
	FinishedAt     *time.Time
}

// ListJobs returns persisted jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, business_type, areas, results_per_area, output_file, append_mode,
		        status, accepted, duplicates, COALESCE(error_detail, ''), submitted_at, finished_at
		 FROM scrape_jobs
		 ORDER BY submitted_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var rec JobRecord
		if err := rows.Scan(
			&rec.ID, &rec.BusinessType, &rec.Areas, &rec.ResultsPerArea, &rec.OutputFile,
			&rec.Append, &rec.Status, &rec.Accepted, &rec.Duplicates, &rec.ErrorDetail,
			&rec.SubmittedAt, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}
	return records, nil
}

// GetJob fetches one persisted job by id. Returns nil when absent.
func (db *DB) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var rec JobRecord
	err := db.pool.QueryRow(ctx,
		`SELECT id, business_type, areas, results_per_area, output_file, append_mode,
		        status, accepted, duplicates, COALESCE(error_detail, ''), submitted_at, finished_at
		 FROM scrape_jobs WHERE id = $1`, id,
	).Scan(
		&rec.ID, &rec.BusinessType, &rec.Areas, &rec.ResultsPerArea, &rec.OutputFile,
		&rec.Append, &rec.Status, &rec.Accepted, &rec.Duplicates, &rec.ErrorDetail,
		&rec.SubmittedAt, &rec.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &rec, nil
}
