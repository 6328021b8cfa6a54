package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "boards.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ID:        "job-1",
		SessionID: "sess-1",
		Status:    domain.JobStatusInProgress,
		Total:     3,
		Message:   "מתחיל",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.UpsertJob(ctx, job))

	job.Status = domain.JobStatusCompleted
	job.Completed = 3
	job.Assets = &domain.Assets{PNGURL: "/assets/b.png", PDFURL: "/assets/b.pdf"}
	job.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.UpsertJob(ctx, job))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Completed)
	assert.Equal(t, 3, got.Total)
	require.NotNil(t, got.Assets)
	assert.Equal(t, "/assets/b.png", got.Assets.PNGURL)
	assert.Equal(t, now, got.CreatedAt)
}

func TestGetJobUnknown(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteJobsBeforeKeepsRunningJobs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.UpsertJob(ctx, &domain.Job{ID: "done", Status: domain.JobStatusCompleted, Total: 1, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, repo.UpsertJob(ctx, &domain.Job{ID: "failed", Status: domain.JobStatusError, Total: 1, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, repo.UpsertJob(ctx, &domain.Job{ID: "running", Status: domain.JobStatusInProgress, Total: 1, CreatedAt: old, UpdatedAt: old}))

	deleted, err := repo.DeleteJobsBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, err := repo.GetJob(ctx, "running")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSessionSummaries(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	sum := domain.SessionSummary{
		SessionID:       "sess-1",
		StartedAt:       time.Now().Add(-time.Minute),
		EndedAt:         time.Now(),
		DurationSeconds: 60,
		TotalRequests:   2,
		FirstPrompt:     "פירות",
		ImagesRequested: 8,
		ImagesCreated:   8,
	}
	require.NoError(t, repo.InsertSessionSummary(ctx, sum))
	require.NoError(t, repo.InsertSessionSummary(ctx, sum))

	n, err := repo.CountSessionSummaries(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
