// Package queue owns the download job lifecycle: persistence, scheduling,
// retries with backoff and bounded concurrent execution.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/tubedrop/internal/backoff"
	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/metrics"
	"github.com/cesargomez89/tubedrop/internal/store"
	"github.com/cesargomez89/tubedrop/internal/tagging"
	"github.com/cesargomez89/tubedrop/internal/ytdlp"
)

var ErrNoRequest = errors.New("job request is required")

var _ Store = (*store.DB)(nil)

// Store is the persistence the queue needs. *store.DB satisfies it.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)
	UpdateJob(ctx context.Context, id string, fn func(job *domain.Job) error) (*domain.Job, error)
	DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueRunningJobs(ctx context.Context, message string) (int64, error)
	CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	AppendHistory(ctx context.Context, entry domain.HistoryEntry, limit int) error
	ListHistory(ctx context.Context) ([]domain.HistoryEntry, error)
	CountHistory(ctx context.Context, since time.Time) (store.HistoryCounts, error)
}

type Downloader interface {
	Preflight(ctx context.Context) error
	Download(ctx context.Context, locator string, req domain.Request, onProgress ytdlp.ProgressFunc) (*ytdlp.Result, error)
}

type Resolver interface {
	Resolve(ctx context.Context, locator string, req domain.Request) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context) error
}

type Tagger interface {
	FillMissing(ctx context.Context, dir string, tags tagging.Tags, since time.Time) (int, error)
}

// Deps are the collaborators an attempt calls out to. Notifier and Tagger
// are optional.
type Deps struct {
	Downloader Downloader
	Resolver   Resolver
	Notifier   Notifier
	Tagger     Tagger
}

type Config struct {
	MaxRetries      int
	MaxConcurrent   int
	SingleTimeout   time.Duration
	PlaylistTimeout time.Duration
	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration
	Backoff         backoff.Policy
}

func (c *Config) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = constants.DefaultMaxRetries
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = constants.DefaultConcurrency
	}
	if c.SingleTimeout <= 0 {
		c.SingleTimeout = constants.SingleSongTimeout
	}
	if c.PlaylistTimeout <= 0 {
		c.PlaylistTimeout = constants.PlaylistTimeout
	}
	if c.CleanupMaxAge <= 0 {
		c.CleanupMaxAge = constants.DefaultCleanupMaxAge
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
}

// pending is a scheduled attempt. Identity matters: a timer that fires after
// being replaced or stopped finds a different pointer in the map and exits.
type pending struct {
	timer *time.Timer
}

// attempt is a running attempt's cancel handle, compared by identity for the
// same reason as pending.
type attempt struct {
	cancel context.CancelFunc
}

type Manager struct {
	store  Store
	deps   Deps
	config Config
	logger *logger.Logger
	now    func() time.Time
	newID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*pending
	running map[string]*attempt
	started bool
	stopped bool
}

func NewManager(st Store, deps Deps, cfg Config, log *logger.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   st,
		deps:    deps,
		config:  cfg,
		logger:  log.WithComponent("queue"),
		now:     time.Now,
		newID:   shortID,
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		timers:  make(map[string]*pending),
		running: make(map[string]*attempt),
	}
}

func shortID() string {
	return uuid.New().String()[:constants.ShortIDLength]
}

// Start requeues jobs a previous process left running, schedules every queued
// job and starts the cleanup janitor.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info("Starting job queue", "max_concurrent", m.config.MaxConcurrent, "max_retries", m.config.MaxRetries)

	n, err := m.store.RequeueRunningJobs(m.ctx, constants.MsgRecovered)
	if err != nil {
		return fmt.Errorf("failed to requeue interrupted jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info("Requeued interrupted jobs", "count", n)
	}

	queued, err := m.store.ListJobsByStatus(m.ctx, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, job := range queued {
		m.schedule(job.ID, 0)
	}

	m.startJanitor()
	return nil
}

// Stop cancels pending timers and running attempts, then waits for every
// worker to return. Interrupted jobs go back to queued.
func (m *Manager) Stop() {
	m.logger.Info("Stopping job queue")

	m.mu.Lock()
	m.stopped = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// AddJob persists a new queued job and schedules its first attempt. The url
// is not validated.
func (m *Manager) AddJob(ctx context.Context, url string, req domain.Request) (string, error) {
	if req == nil {
		return "", ErrNoRequest
	}

	now := m.now()
	for i := 0; i < constants.MaxIDAttempts; i++ {
		job := &domain.Job{
			ID:         m.newID(),
			Type:       req.JobType(),
			URL:        url,
			Request:    req,
			Status:     domain.JobStatusQueued,
			Message:    constants.MsgQueued,
			MaxRetries: m.config.MaxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err := m.store.CreateJob(ctx, job)
		if errors.Is(err, store.ErrJobExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}

		m.logger.WithJob(job.ID, string(job.Type)).Info("Job enqueued", "url", url)
		m.schedule(job.ID, 0)
		return job.ID, nil
	}
	return "", fmt.Errorf("failed to allocate a unique job id after %d attempts", constants.MaxIDAttempts)
}

func (m *Manager) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return m.store.GetJob(ctx, id)
}

// GetAllJobs returns every job, oldest first.
func (m *Manager) GetAllJobs(ctx context.Context) ([]*domain.Job, error) {
	return m.store.ListJobs(ctx)
}

// UpdateJob applies a partial update unconditionally. It does not schedule
// anything, even when the status becomes queued.
func (m *Manager) UpdateJob(ctx context.Context, id string, upd domain.JobUpdate) (*domain.Job, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, *upd.Status)
	}
	return m.store.UpdateJob(ctx, id, func(job *domain.Job) error {
		upd.Apply(job, m.now())
		return nil
	})
}

// CancelJob moves a queued or running job to cancelled, drops its pending
// retry and kills a running attempt.
func (m *Manager) CancelJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.UpdateJob(ctx, id, func(job *domain.Job) error {
		if !job.CanCancel() {
			return fmt.Errorf("%w: cannot cancel a %s job", domain.ErrInvalidTransition, job.Status)
		}
		status, msg := domain.JobStatusCancelled, constants.MsgCancelled
		domain.JobUpdate{Status: &status, Message: &msg}.Apply(job, m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stopTimerLocked(id)
	if a, ok := m.running[id]; ok {
		a.cancel()
	}
	m.mu.Unlock()

	metrics.RecordJobFinished(string(job.Type), string(job.Status))
	m.logger.WithJob(id, string(job.Type)).Info("Job cancelled")
	return job, nil
}

// RetryJob requeues a failed job with a fresh retry budget and runs it
// without waiting for backoff.
func (m *Manager) RetryJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.UpdateJob(ctx, id, func(job *domain.Job) error {
		if !job.CanRetry() {
			return fmt.Errorf("%w: cannot retry a %s job", domain.ErrInvalidTransition, job.Status)
		}
		status, progress, msg := domain.JobStatusQueued, 0, constants.MsgManualRetry
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg}.Apply(job, m.now())
		job.ErrorCount = 0
		job.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithJob(id, string(job.Type)).Info("Job retried")
	m.schedule(id, 0)
	return job, nil
}

// CleanupOldJobs deletes terminal jobs not updated within maxAge.
func (m *Manager) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := m.store.DeleteFinishedJobsBefore(ctx, m.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info("Cleaned up old jobs", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// GetDownloadHistory returns the history log, newest last.
func (m *Manager) GetDownloadHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	return m.store.ListHistory(ctx)
}

// GetStats summarizes live jobs and the history log. Today starts at local
// midnight.
func (m *Manager) GetStats(ctx context.Context) (*domain.Stats, error) {
	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	y, mo, d := now.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())

	hist, err := m.store.CountHistory(ctx, midnight)
	if err != nil {
		return nil, err
	}

	stats := &domain.Stats{
		ActiveJobs:          counts[domain.JobStatusQueued] + counts[domain.JobStatusRunning],
		FailedJobs:          counts[domain.JobStatusFailed],
		TotalDownloads:      hist.Total,
		SuccessfulDownloads: hist.Successful,
		TodayDownloads:      hist.Since,
	}
	if hist.Total > 0 {
		stats.SuccessRate = float64(hist.Successful) / float64(hist.Total) * 100
	}
	return stats, nil
}

// schedule arranges one attempt for id after delay, replacing any pending one.
func (m *Manager) schedule(id string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopTimerLocked(id)

	p := &pending{}
	m.timers[id] = p
	m.wg.Add(1)
	p.timer = time.AfterFunc(delay, func() { m.fire(id, p) })
}

func (m *Manager) stopTimerLocked(id string) {
	p, ok := m.timers[id]
	if !ok {
		return
	}
	delete(m.timers, id)
	if p.timer.Stop() {
		m.wg.Done()
	}
}

func (m *Manager) fire(id string, p *pending) {
	defer m.wg.Done()

	m.mu.Lock()
	if m.timers[id] != p || m.stopped {
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)
	m.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
	case <-m.ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	m.runAttempt(id)
}

func (m *Manager) timeoutFor(t domain.JobType) time.Duration {
	if t == domain.JobTypePlaylist {
		return m.config.PlaylistTimeout
	}
	return m.config.SingleTimeout
}
