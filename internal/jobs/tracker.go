// Package jobs runs asynchronous board generation on a bounded worker pool
// and tracks its progress for pollers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/cfi-labs/boardgen/internal/metrics"
	"github.com/google/uuid"
)

// Status messages shown to pollers.
const (
	MessageQueued    = "הבקשה התקבלה וממתינה לטיפול"
	MessageCompleted = "הלוח מוכן!"
	MessageFailed    = "אירעה שגיאה ביצירת הלוח. אנא נסו שוב."
)

var (
	// ErrJobNotFound is returned by Poll for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull is returned by Start when every worker is busy and the queue is full.
	ErrQueueFull = errors.New("job queue is full")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("job tracker is closed")
)

// RunFunc performs the work of one job, reporting progress through rep.
type RunFunc func(ctx context.Context, jobID string, rep generation.Reporter) (*domain.Assets, error)

// Repository persists job snapshots beyond their in-memory lifetime.
type Repository interface {
	UpsertJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures a Tracker.
type Options struct {
	Workers   int
	QueueSize int
	Repo      Repository
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type task struct {
	jobID string
	run   RunFunc
}

// Tracker owns the live job map. Only the worker running a job writes its
// entry; Poll reads copies.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	closed bool

	queue   chan task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	repo    Repository
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a Tracker and starts its workers.
func NewTracker(opts Options) *Tracker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		jobs:    make(map[string]*domain.Job),
		queue:   make(chan task, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		repo:    opts.Repo,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	for i := 0; i < opts.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

// Start registers a job with total units of work and queues run. It returns
// immediately; ErrQueueFull is returned when the pool is saturated.
func (t *Tracker) Start(sessionID string, total int, run RunFunc) (string, error) {
	now := t.now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    domain.JobStatusInProgress,
		Total:     total,
		Message:   MessageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrClosed
	}
	t.jobs[job.ID] = job
	select {
	case t.queue <- task{jobID: job.ID, run: run}:
	default:
		delete(t.jobs, job.ID)
		t.mu.Unlock()
		t.logger.Warn("Job queue full, rejecting job", "session_id", sessionID)
		return "", ErrQueueFull
	}
	t.metrics.JobStarted()
	t.mu.Unlock()

	t.logger.Info("Job queued", "job_id", job.ID, "session_id", sessionID, "total", total)
	return job.ID, nil
}

// Poll returns a snapshot of the job. Jobs evicted from memory are read
// back from the repository.
func (t *Tracker) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	t.mu.RLock()
	job, ok := t.jobs[jobID]
	var snapshot domain.Job
	if ok {
		snapshot = copyJob(job)
	}
	t.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	if t.repo == nil {
		return domain.Job{}, ErrJobNotFound
	}
	stored, err := t.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if stored == nil {
		return domain.Job{}, ErrJobNotFound
	}
	return *stored, nil
}

// Len returns the number of jobs held in memory.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Close stops accepting jobs and waits for queued jobs to finish. When ctx
// expires first, running jobs are cancelled.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return ctx.Err()
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for tk := range t.queue {
		t.execute(tk)
	}
}

func (t *Tracker) execute(tk task) {
	var (
		assets *domain.Assets
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		assets, err = tk.run(t.ctx, tk.jobID, generation.ReporterFunc(func(u generation.Update) {
			t.update(tk.jobID, u)
		}))
	}()
	t.finish(tk.jobID, assets, err)
}

// update applies a progress report. Completed never decreases.
func (t *Tracker) update(jobID string, u generation.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}
	if u.Entity != "" {
		job.CurrentEntity = u.Entity
	}
	if u.Completed > job.Completed && u.Completed <= job.Total {
		job.Completed = u.Completed
	}
	if u.Message != "" {
		job.Message = u.Message
	}
	job.UpdatedAt = t.now().UTC()
}

func (t *Tracker) finish(jobID string, assets *domain.Assets, err error) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	job.UpdatedAt = t.now().UTC()
	job.CurrentEntity = ""
	if err != nil {
		job.Status = domain.JobStatusError
		job.Message = MessageFailed
		var failed *generation.GenerationFailedError
		if errors.As(err, &failed) {
			job.Message = failed.UserMessage
		}
	} else {
		job.Status = domain.JobStatusCompleted
		job.Completed = job.Total
		job.Message = MessageCompleted
		job.Assets = assets
	}
	snapshot := copyJob(job)
	t.mu.Unlock()

	t.metrics.JobFinished(string(snapshot.Status))
	t.persist(&snapshot)
	if err != nil {
		t.logger.Error("Job failed", "job_id", jobID, "session_id", snapshot.SessionID, "error", err)
		return
	}
	t.logger.Info("Job completed", "job_id", jobID, "session_id", snapshot.SessionID)
}

// persist stores terminal snapshots. It is best-effort; the in-memory entry
// stays authoritative until it expires.
func (t *Tracker) persist(job *domain.Job) {
	if t.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.UpsertJob(ctx, job); err != nil {
		t.logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

func copyJob(j *domain.Job) domain.Job {
	c := *j
	if j.Assets != nil {
		a := *j.Assets
		c.Assets = &a
	}
	return c
}
