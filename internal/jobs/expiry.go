package jobs

import (
	"context"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
)

// dbRetention bounds how long terminal jobs remain answerable from the repository.
const dbRetention = 7 * 24 * time.Hour

// StartExpiryWorker runs a background goroutine that periodically evicts
// terminal jobs older than retention from memory.
func (t *Tracker) StartExpiryWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		t.logger.Info("Job expiry worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				t.Sweep(ctx, retention)
			case <-ctx.Done():
				t.logger.Info("Job expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts terminal jobs last updated more than retention ago, after
// persisting them, and purges repository rows older than dbRetention. It
// returns the number of jobs evicted from memory.
func (t *Tracker) Sweep(ctx context.Context, retention time.Duration) int {
	now := t.now().UTC()
	cutoff := now.Add(-retention)

	t.mu.RLock()
	var candidates []domain.Job
	for _, job := range t.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			candidates = append(candidates, copyJob(job))
		}
	}
	t.mu.RUnlock()

	var expired []string
	for i := range candidates {
		if t.repo != nil {
			if err := t.repo.UpsertJob(ctx, &candidates[i]); err != nil {
				// Keep the job answerable from memory until it can be persisted.
				t.logger.Warn("Job expiry failed to persist job", "job_id", candidates[i].ID, "error", err)
				continue
			}
		}
		expired = append(expired, candidates[i].ID)
	}

	// Terminal jobs are never written again, so the snapshots are still current.
	t.mu.Lock()
	for _, id := range expired {
		delete(t.jobs, id)
	}
	t.mu.Unlock()

	if len(expired) > 0 {
		t.logger.Info("Job expiry evicted jobs", "count", len(expired))
	}

	if t.repo != nil {
		if deleted, err := t.repo.DeleteJobsBefore(ctx, now.Add(-dbRetention)); err != nil {
			t.logger.Error("Job expiry failed to purge stored jobs", "error", err)
		} else if deleted > 0 {
			t.logger.Info("Job expiry purged stored jobs", "count", deleted)
		}
	}
	return len(expired)
}
