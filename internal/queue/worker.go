package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/metrics"
	"github.com/cesargomez89/tubedrop/internal/tagging"
	"github.com/cesargomez89/tubedrop/internal/ytdlp"
)

var (
	errNotQueued  = errors.New("job is not queued")
	errNotRunning = errors.New("job is no longer running")
)

// Attempt results for metrics.
const (
	resultSuccess     = "success"
	resultFailure     = "failure"
	resultCancelled   = "cancelled"
	resultInterrupted = "interrupted"
	resultPanic       = "panic"
)

// runAttempt executes one attempt of job id. It only starts from queued, and
// every write it makes afterwards requires the job to still be running, so a
// cancelled or finished job is never touched.
func (m *Manager) runAttempt(id string) {
	job, err := m.store.UpdateJob(m.ctx, id, func(job *domain.Job) error {
		if job.Status != domain.JobStatusQueued {
			return errNotQueued
		}
		status, progress, msg := domain.JobStatusRunning, constants.ProgressStarting, constants.MsgStarting
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg}.Apply(job, m.now())
		return nil
	})
	switch {
	case errors.Is(err, errNotQueued), errors.Is(err, domain.ErrJobNotFound):
		m.logger.Debug("Skipping attempt", "job_id", id, "reason", err)
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		m.logger.Error("Failed to start attempt", "job_id", id, "error", err)
		return
	}

	log := m.logger.WithJob(job.ID, string(job.Type))
	timeout := m.timeoutFor(job.Type)
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	a := &attempt{cancel: cancel}
	m.mu.Lock()
	m.running[id] = a
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.running[id] == a {
			delete(m.running, id)
		}
		m.mu.Unlock()
	}()

	// A cancel landing before registration would have found nothing to kill.
	if current, err := m.store.GetJob(m.ctx, id); err != nil || current.Status != domain.JobStatusRunning {
		log.Info("Job left running before the attempt began")
		return
	}

	started := m.now()
	metrics.RecordAttemptStart()
	result := resultFailure
	defer func() {
		metrics.RecordAttemptEnd(string(job.Type), result, time.Since(started))
	}()

	defer func() {
		if r := recover(); r != nil {
			result = resultPanic
			log.Error("Panic in job", "panic", r, "stack", string(debug.Stack()))
			m.finishUnexpected(job, fmt.Errorf("%v", r), log)
		}
	}()

	log.Info("Running job", "url", job.URL, "error_count", job.ErrorCount)

	attemptErr := m.execute(ctx, job, started, log)
	switch {
	case attemptErr == nil:
		result = resultSuccess
		m.finishSuccess(job, log)
	case errors.Is(attemptErr, errNotRunning):
		result = resultCancelled
		log.Info("Job left running during the attempt")
	case m.ctx.Err() != nil:
		result = resultInterrupted
		m.requeueInterrupted(job, log)
	case errors.Is(ctx.Err(), context.Canceled):
		result = resultCancelled
		log.Info("Attempt cancelled")
	default:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			attemptErr = fmt.Errorf("download timed out after %s", timeout)
		}
		m.finishFailure(job, attemptErr, log)
	}
}

// execute runs preflight, resolution and the download for one attempt.
func (m *Manager) execute(ctx context.Context, job *domain.Job, started time.Time, log *logger.Logger) error {
	if err := m.deps.Downloader.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if err := m.progress(ctx, job.ID, constants.ProgressResolving, constants.MsgResolving); err != nil {
		return err
	}
	locator, err := m.deps.Resolver.Resolve(ctx, job.URL, job.Request)
	if err != nil {
		return fmt.Errorf("failed to resolve url: %w", err)
	}
	if locator != job.URL {
		log.Debug("Resolved locator", "locator", locator)
	}

	switch req := job.Request.(type) {
	case domain.SingleSongRequest:
		return m.downloadSong(ctx, job, req, locator, started, log)
	case domain.PlaylistRequest:
		return m.downloadPlaylist(ctx, job, req, locator)
	default:
		return fmt.Errorf("unsupported request type %T", job.Request)
	}
}

func (m *Manager) downloadSong(ctx context.Context, job *domain.Job, req domain.SingleSongRequest, locator string, started time.Time, log *logger.Logger) error {
	if err := m.progress(ctx, job.ID, constants.ProgressDownloading, constants.MsgDownloading); err != nil {
		return err
	}

	res, err := m.deps.Downloader.Download(ctx, locator, req, nil)
	if err != nil {
		return fmt.Errorf("download error: %w", err)
	}

	if m.deps.Tagger != nil && res != nil && res.OutputDir != "" {
		tags := tagging.Tags{Artist: req.Artist, Album: req.Album}
		if n, err := m.deps.Tagger.FillMissing(ctx, res.OutputDir, tags, started); err != nil {
			log.Warn("Tag fill-in failed", "error", err)
		} else if n > 0 {
			log.Info("Filled missing tags", "files", n)
		}
	}
	return nil
}

func (m *Manager) downloadPlaylist(ctx context.Context, job *domain.Job, req domain.PlaylistRequest, locator string) error {
	if err := m.progress(ctx, job.ID, constants.ProgressPlaylistStart, constants.MsgPlaylistStart); err != nil {
		return err
	}

	// yt-dlp reports per-track percentages, so progress holds its high-water
	// mark while the message follows each whole percent.
	last, lastPct := constants.ProgressPlaylistStart, -1
	span := float64(constants.ProgressPlaylistEnd - constants.ProgressPlaylistStart)
	onProgress := func(pct float64) {
		p := max(last, constants.ProgressPlaylistStart+int(pct*span/100))
		whole := int(pct)
		if p == last && whole == lastPct {
			return
		}
		last, lastPct = p, whole
		_ = m.progress(ctx, job.ID, p, fmt.Sprintf(constants.MsgPlaylist, pct))
	}

	if _, err := m.deps.Downloader.Download(ctx, locator, req, onProgress); err != nil {
		return fmt.Errorf("playlist error: %w", err)
	}
	return nil
}

// progress records a checkpoint if the job is still running.
func (m *Manager) progress(ctx context.Context, id string, progress int, msg string) error {
	_, err := m.store.UpdateJob(ctx, id, func(job *domain.Job) error {
		if job.Status != domain.JobStatusRunning {
			return errNotRunning
		}
		domain.JobUpdate{Progress: &progress, Message: &msg}.Apply(job, m.now())
		return nil
	})
	return err
}

// finishCtx outlives shutdown so a finished attempt can still be recorded.
func (m *Manager) finishCtx() context.Context {
	return context.WithoutCancel(m.ctx)
}

func (m *Manager) finishSuccess(job *domain.Job, log *logger.Logger) {
	ctx := m.finishCtx()

	if err := m.progress(ctx, job.ID, constants.ProgressRescan, constants.MsgRescan); err != nil {
		log.Info("Job left running before completion", "error", err)
		return
	}
	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.Notify(ctx); err != nil {
			log.Warn("Library rescan failed", "error", err)
		}
	}

	done, err := m.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return errNotRunning
		}
		status, progress, msg := domain.JobStatusCompleted, constants.ProgressComplete, constants.MsgCompleted
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg}.Apply(j, m.now())
		return nil
	})
	if err != nil {
		log.Info("Job left running before completion", "error", err)
		return
	}

	m.appendHistory(ctx, done, domain.HistorySuccess, log)
	metrics.RecordJobFinished(string(done.Type), string(done.Status))
	log.Info("Job completed")
}

// finishFailure counts the error and either requeues the job with backoff
// or fails it for good.
func (m *Manager) finishFailure(job *domain.Job, attemptErr error, log *logger.Logger) {
	ctx := m.finishCtx()
	errMsg := ytdlp.Truncate(attemptErr.Error(), constants.MaxErrorLength)

	retry := false
	updated, err := m.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return errNotRunning
		}
		domain.JobUpdate{Error: &errMsg}.Apply(j, m.now())

		var status domain.JobStatus
		var msg string
		if j.CanAutoRetry() {
			retry = true
			status, msg = domain.JobStatusQueued, fmt.Sprintf(constants.MsgRetrying, j.ErrorCount+1)
		} else {
			status, msg = domain.JobStatusFailed, fmt.Sprintf(constants.MsgFailed, errMsg)
		}
		progress := 0
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg}.Apply(j, m.now())
		return nil
	})
	if err != nil {
		log.Info("Job left running before the failure was recorded", "error", err, "attempt_error", errMsg)
		return
	}

	if retry {
		delay := m.config.Backoff.Delay(updated.ErrorCount)
		log.Warn("Download attempt failed, retry scheduled",
			"error", errMsg,
			"error_count", updated.ErrorCount,
			"delay", delay,
		)
		metrics.RecordRetryScheduled()
		m.schedule(job.ID, delay)
		return
	}

	log.Error("Job failed", "error", errMsg, "error_count", updated.ErrorCount)
	m.appendHistory(ctx, updated, domain.HistoryFailed, log)
	metrics.RecordJobFinished(string(updated.Type), string(updated.Status))
}

// finishUnexpected fails the job without retry, as for a panic.
func (m *Manager) finishUnexpected(job *domain.Job, cause error, log *logger.Logger) {
	ctx := m.finishCtx()
	errMsg := ytdlp.Truncate(cause.Error(), constants.MaxErrorLength)

	updated, err := m.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return errNotRunning
		}
		status, progress, msg := domain.JobStatusFailed, 0, fmt.Sprintf(constants.MsgUnexpected, errMsg)
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg, Error: &errMsg}.Apply(j, m.now())
		return nil
	})
	if err != nil {
		log.Error("Failed to record unexpected error", "error", err)
		return
	}

	m.appendHistory(ctx, updated, domain.HistoryError, log)
	metrics.RecordJobFinished(string(updated.Type), string(updated.Status))
}

// requeueInterrupted returns a job cut short by shutdown to queued without
// spending its retry budget.
func (m *Manager) requeueInterrupted(job *domain.Job, log *logger.Logger) {
	_, err := m.store.UpdateJob(m.finishCtx(), job.ID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return errNotRunning
		}
		status, progress, msg := domain.JobStatusQueued, 0, constants.MsgInterrupted
		domain.JobUpdate{Status: &status, Progress: &progress, Message: &msg}.Apply(j, m.now())
		return nil
	})
	if err != nil && !errors.Is(err, errNotRunning) {
		log.Error("Failed to requeue interrupted job", "error", err)
		return
	}
	log.Info("Attempt interrupted by shutdown")
}

func (m *Manager) appendHistory(ctx context.Context, job *domain.Job, status domain.HistoryStatus, log *logger.Logger) {
	entry := domain.NewHistoryEntry(job, status, m.now())
	if err := m.store.AppendHistory(ctx, entry, constants.MaxHistoryEntries); err != nil {
		log.Error("Failed to append history", "error", err)
	}
}
