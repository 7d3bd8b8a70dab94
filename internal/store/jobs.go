package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/jmoiron/sqlx"
)

var ErrJobExists = errors.New("job id already exists")

type jobRow struct {
	ID         string          `db:"id"`
	Type       string          `db:"type"`
	URL        string          `db:"url"`
	Metadata   domain.Metadata `db:"metadata"`
	Status     string          `db:"status"`
	Message    string          `db:"message"`
	LastError  string          `db:"last_error"`
	Progress   int             `db:"progress"`
	ErrorCount int             `db:"error_count"`
	MaxRetries int             `db:"max_retries"`
	CreatedAt  int64           `db:"created_at"`
	UpdatedAt  int64           `db:"updated_at"`
}

const jobColumns = `id, type, url, metadata, status, progress, message, error_count, max_retries, last_error, created_at, updated_at`

func newJobRow(job *domain.Job) jobRow {
	md := domain.Metadata{}
	if job.Request != nil {
		md = job.Request.Metadata()
	}
	return jobRow{
		ID:         job.ID,
		Type:       string(job.Type),
		URL:        job.URL,
		Metadata:   md,
		Status:     string(job.Status),
		Message:    job.Message,
		LastError:  job.LastError,
		Progress:   job.Progress,
		ErrorCount: job.ErrorCount,
		MaxRetries: job.MaxRetries,
		CreatedAt:  toUnix(job.CreatedAt),
		UpdatedAt:  toUnix(job.UpdatedAt),
	}
}

func (r jobRow) toDomain() (*domain.Job, error) {
	req, err := domain.DecodeRequest(domain.JobType(r.Type), r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	return &domain.Job{
		ID:         r.ID,
		Type:       domain.JobType(r.Type),
		URL:        r.URL,
		Request:    req,
		Status:     domain.JobStatus(r.Status),
		Message:    r.Message,
		LastError:  r.LastError,
		Progress:   r.Progress,
		ErrorCount: r.ErrorCount,
		MaxRetries: r.MaxRetries,
		CreatedAt:  fromUnix(r.CreatedAt),
		UpdatedAt:  fromUnix(r.UpdatedAt),
	}, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// CreateJob inserts a new job. It returns ErrJobExists if the id is taken.
func (db *DB) CreateJob(ctx context.Context, job *domain.Job) error {
	return insertJob(ctx, db, job)
}

func insertJob(ctx context.Context, ext sqlx.ExtContext, job *domain.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES (:id, :type, :url, :metadata, :status, :progress, :message, :error_count, :max_retries, :last_error, :created_at, :updated_at)
		ON CONFLICT(id) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, ext, query, newJobRow(job))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobExists
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, db, id)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// ListJobs returns every job, oldest first.
func (db *DB) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return db.selectJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC, id ASC`)
}

func (db *DB) ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM jobs WHERE status IN (?) ORDER BY created_at ASC, id ASC`, statuses)
	if err != nil {
		return nil, err
	}
	return db.selectJobs(ctx, db.Rebind(query), args...)
}

func (db *DB) selectJobs(ctx context.Context, query string, args ...interface{}) ([]*domain.Job, error) {
	var rows []jobRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateJob loads the job, lets fn mutate it and writes it back in one
// transaction. If fn returns an error nothing is written and the error is
// returned unchanged.
func (db *DB) UpdateJob(ctx context.Context, id string, fn func(job *domain.Job) error) (*domain.Job, error) {
	var updated *domain.Job
	err := db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		job, err := getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}

		query := `UPDATE jobs SET status = :status, progress = :progress, message = :message,
			error_count = :error_count, max_retries = :max_retries, last_error = :last_error,
			metadata = :metadata, updated_at = :updated_at
			WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, query, newJobRow(job)); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// DeleteFinishedJobsBefore removes terminal jobs last updated before cutoff.
// Queued and running jobs are never removed.
func (db *DB) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM jobs WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?`
	res, err := db.ExecContext(ctx, query, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequeueRunningJobs moves jobs left running by a previous process back to
// queued with their progress reset.
func (db *DB) RequeueRunningJobs(ctx context.Context, message string) (int64, error) {
	query := `UPDATE jobs SET status = 'queued', progress = 0, message = ?, updated_at = ? WHERE status = 'running'`
	res, err := db.ExecContext(ctx, query, message, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountJobsByStatus returns the number of jobs per status.
func (db *DB) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, err
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}
