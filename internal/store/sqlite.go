package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

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
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_entity TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		assets_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs(updated_at) WHERE status != 'in_progress';

	CREATE TABLE IF NOT EXISTS session_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_name TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		duration_seconds REAL NOT NULL,
		total_requests INTEGER NOT NULL,
		first_prompt TEXT,
		summary TEXT,
		images_requested INTEGER NOT NULL,
		images_created INTEGER NOT NULL,
		had_error INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_summaries_session ON session_summaries(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertJob creates or replaces the stored snapshot of a job.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *domain.Job) error {
	var assetsJSON interface{}
	if job.Assets != nil {
		raw, err := json.Marshal(job.Assets)
		if err != nil {
			return fmt.Errorf("marshal job assets: %w", err)
		}
		assetsJSON = string(raw)
	}

	query := `
	INSERT INTO jobs (job_id, session_id, status, current_entity, completed, total, message, assets_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		current_entity = excluded.current_entity,
		completed = excluded.completed,
		message = excluded.message,
		assets_json = excluded.assets_json,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "upsert job", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			job.ID, job.SessionID, string(job.Status), job.CurrentEntity,
			job.Completed, job.Total, job.Message, assetsJSON,
			job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a job snapshot by id.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, session_id, status, current_entity, completed, total,
		       message, assets_json, created_at, updated_at
		FROM jobs WHERE job_id = ?`

	var job domain.Job
	var status string
	var currentEntity, assetsJSON sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.SessionID, &status, &currentEntity, &job.Completed, &job.Total,
		&job.Message, &assetsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.CurrentEntity = currentEntity.String
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if assetsJSON.Valid && assetsJSON.String != "" {
		var assets domain.Assets
		if err := json.Unmarshal([]byte(assetsJSON.String), &assets); err != nil {
			return nil, fmt.Errorf("decode job assets: %w", err)
		}
		job.Assets = &assets
	}

	return &job, nil
}

// DeleteJobsBefore removes terminal jobs last updated before cutoff.
func (s *SQLiteStore) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withBusyRetry(ctx, "delete expired jobs", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE status != ? AND updated_at < ?`,
			string(domain.JobStatusInProgress), cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete expired jobs: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// InsertSessionSummary appends the KPI row of a finalized session.
func (s *SQLiteStore) InsertSessionSummary(ctx context.Context, sum domain.SessionSummary) error {
	query := `
	INSERT INTO session_summaries (
		session_id, user_name, started_at, ended_at, duration_seconds, total_requests,
		first_prompt, summary, images_requested, images_created, had_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withBusyRetry(ctx, "insert session summary", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			sum.SessionID, sum.UserName, sum.StartedAt.UnixMilli(), sum.EndedAt.UnixMilli(),
			sum.DurationSeconds, sum.TotalRequests, sum.FirstPrompt, sum.Summary,
			sum.ImagesRequested, sum.ImagesCreated, sum.HadError,
		)
		if err != nil {
			return fmt.Errorf("insert session summary: %w", err)
		}
		return nil
	})
}

// CountSessionSummaries returns how many summaries exist for a session id.
func (s *SQLiteStore) CountSessionSummaries(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_summaries WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session summaries: %w", err)
	}
	return n, nil
}

func withBusyRetry(ctx context.Context, opName string, op func() error) error {
	return shared.RetryOnConflict(ctx, opName, 3, 50*time.Millisecond, op)
}
