// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
)

// Repository persists job snapshots and finalized session summaries.
type Repository interface {
	// UpsertJob creates or replaces the stored snapshot of a job.
	UpsertJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job snapshot. Returns nil, nil when the job is unknown.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// DeleteJobsBefore removes terminal jobs last updated before cutoff.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// InsertSessionSummary appends the KPI row of a finalized session.
	InsertSessionSummary(ctx context.Context, summary domain.SessionSummary) error

	// CountSessionSummaries returns how many summaries exist for a session id.
	CountSessionSummaries(ctx context.Context, sessionID string) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
