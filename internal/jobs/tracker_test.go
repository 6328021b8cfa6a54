package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]domain.Job)}
}

func (r *memRepo) UpsertJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) GetJob(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (r *memRepo) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, j := range r.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func waitTerminal(t *testing.T, tr *Tracker, id string) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = tr.Poll(context.Background(), id)
		require.NoError(t, err)
		return job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestPollUnknownJob(t *testing.T) {
	tr := NewTracker(Options{Workers: 1})
	defer tr.Close(context.Background())

	_, err := tr.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobProgressIsMonotonic(t *testing.T) {
	tr := NewTracker(Options{Workers: 2, QueueSize: 4})
	defer tr.Close(context.Background())

	step := make(chan struct{})
	id, err := tr.Start("sess-1", 3, func(_ context.Context, _ string, rep generation.Reporter) (*domain.Assets, error) {
		for i, e := range []string{"a", "b", "c"} {
			<-step
			rep.Report(generation.Update{Entity: e, Completed: i + 1, Message: "working on " + e})
		}
		// Retry restarts from zero; pollers must not see a regression.
		<-step
		rep.Report(generation.Update{Entity: "a", Completed: 0})
		return &domain.Assets{PNGURL: "/assets/b.png", PDFURL: "/assets/b.pdf"}, nil
	})
	require.NoError(t, err)

	last := 0
	for i := 0; i < 4; i++ {
		job, err := tr.Poll(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 3, job.Total)
		assert.GreaterOrEqual(t, job.Completed, last)
		last = job.Completed
		step <- struct{}{}
	}

	job := waitTerminal(t, tr, id)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Completed)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, MessageCompleted, job.Message)
	require.NotNil(t, job.Assets)
	assert.Equal(t, "/assets/b.png", job.Assets.PNGURL)
}

func TestFailedJobKeepsUserMessage(t *testing.T) {
	tr := NewTracker(Options{Workers: 1})
	defer tr.Close(context.Background())

	id, err := tr.Start("sess-2", 2, func(context.Context, string, generation.Reporter) (*domain.Assets, error) {
		return nil, &generation.GenerationFailedError{SessionID: "sess-2", Attempts: 2, UserMessage: generation.UserMessage, Err: errors.New("boom")}
	})
	require.NoError(t, err)

	job := waitTerminal(t, tr, id)
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Equal(t, generation.UserMessage, job.Message)
	assert.Nil(t, job.Assets)

	// Terminal jobs stay pollable.
	again, err := tr.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, again.Status)
}

func TestPanickingJobBecomesError(t *testing.T) {
	tr := NewTracker(Options{Workers: 1})
	defer tr.Close(context.Background())

	id, err := tr.Start("sess-3", 1, func(context.Context, string, generation.Reporter) (*domain.Assets, error) {
		panic("renderer exploded")
	})
	require.NoError(t, err)

	job := waitTerminal(t, tr, id)
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Equal(t, MessageFailed, job.Message)
}

func TestQueueFull(t *testing.T) {
	tr := NewTracker(Options{Workers: 1, QueueSize: 1})
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(context.Context, string, generation.Reporter) (*domain.Assets, error) {
		started <- struct{}{}
		<-release
		return &domain.Assets{}, nil
	}

	first, err := tr.Start("s", 1, blocking)
	require.NoError(t, err)
	<-started

	second, err := tr.Start("s", 1, blocking)
	require.NoError(t, err)

	_, err = tr.Start("s", 1, blocking)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, tr.Len())

	close(release)
	go func() { <-started }()
	assert.Equal(t, domain.JobStatusCompleted, waitTerminal(t, tr, first).Status)
	assert.Equal(t, domain.JobStatusCompleted, waitTerminal(t, tr, second).Status)

	require.NoError(t, tr.Close(context.Background()))
	_, err = tr.Start("s", 1, blocking)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSweepEvictsToRepository(t *testing.T) {
	repo := newMemRepo()
	var mu sync.Mutex
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	tr := NewTracker(Options{Workers: 1, Repo: repo, Now: clock})
	defer tr.Close(context.Background())

	id, err := tr.Start("sess-4", 1, func(context.Context, string, generation.Reporter) (*domain.Assets, error) {
		return &domain.Assets{PNGURL: "/assets/x.png"}, nil
	})
	require.NoError(t, err)
	waitTerminal(t, tr, id)

	assert.Equal(t, 0, tr.Sweep(context.Background(), time.Hour), "fresh jobs stay in memory")

	advance(2 * time.Hour)
	assert.Equal(t, 1, tr.Sweep(context.Background(), time.Hour))
	assert.Equal(t, 0, tr.Len())

	job, err := tr.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Assets)
	assert.Equal(t, "/assets/x.png", job.Assets.PNGURL)

	advance(8 * 24 * time.Hour)
	tr.Sweep(context.Background(), time.Hour)
	_, err = tr.Poll(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSweepKeepsRunningJobs(t *testing.T) {
	tr := NewTracker(Options{Workers: 1})
	release := make(chan struct{})
	defer func() {
		close(release)
		tr.Close(context.Background())
	}()

	id, err := tr.Start("s", 1, func(context.Context, string, generation.Reporter) (*domain.Assets, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, tr.Sweep(context.Background(), -time.Hour))
	_, err = tr.Poll(context.Background(), id)
	assert.NoError(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExpiryWorkerLogsThroughTrackerLogger(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	tr := NewTracker(Options{Workers: 1, Logger: logger})
	defer tr.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	tr.StartExpiryWorker(ctx, time.Hour, time.Hour)
	cancel()

	assert.Eventually(t, func() bool {
		logs := out.String()
		return strings.Contains(logs, "Job expiry worker started") &&
			strings.Contains(logs, "Job expiry worker shutting down")
	}, 2*time.Second, 10*time.Millisecond)
}
