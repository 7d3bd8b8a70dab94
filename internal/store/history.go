package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/jmoiron/sqlx"
)

type historyRow struct {
	Seq         int64           `db:"seq"`
	JobID       string          `db:"job_id"`
	Type        string          `db:"type"`
	URL         string          `db:"url"`
	Status      string          `db:"status"`
	Metadata    domain.Metadata `db:"metadata"`
	Message     string          `db:"message"`
	CreatedAt   int64           `db:"created_at"`
	CompletedAt int64           `db:"completed_at"`
}

func (r historyRow) toDomain() (domain.HistoryEntry, error) {
	req, err := domain.DecodeRequest(domain.JobType(r.Type), r.Metadata)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("history %d: %w", r.Seq, err)
	}
	return domain.HistoryEntry{
		JobID:     r.JobID,
		Type:      domain.JobType(r.Type),
		URL:       r.URL,
		Status:    domain.HistoryStatus(r.Status),
		Request:   req,
		Message:   r.Message,
		Created:   fromUnix(r.CreatedAt),
		Completed: fromUnix(r.CompletedAt),
	}, nil
}

// AppendHistory adds entry and evicts the oldest entries so at most limit
// remain. A limit of zero or less disables eviction.
func (db *DB) AppendHistory(ctx context.Context, entry domain.HistoryEntry, limit int) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		return appendHistory(ctx, tx, entry, limit)
	})
}

func appendHistory(ctx context.Context, tx *sqlx.Tx, entry domain.HistoryEntry, limit int) error {
	md := domain.Metadata{}
	if entry.Request != nil {
		md = entry.Request.Metadata()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO history (job_id, type, url, status, metadata, message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.JobID, entry.Type, entry.URL, entry.Status, md, entry.Message,
		toUnix(entry.Created), toUnix(entry.Completed))
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	if limit <= 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM history WHERE seq NOT IN (
			SELECT seq FROM history ORDER BY seq DESC LIMIT ?
		)
	`, limit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

// ListHistory returns the log oldest first.
func (db *DB) ListHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	var rows []historyRow
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM history ORDER BY seq ASC`); err != nil {
		return nil, err
	}

	entries := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// HistoryCounts holds aggregate counts over the history log.
type HistoryCounts struct {
	Total      int `db:"total"`
	Successful int `db:"successful"`
	Since      int `db:"since"`
}

// CountHistory returns totals plus the number of entries completed at or after since.
func (db *DB) CountHistory(ctx context.Context, since time.Time) (HistoryCounts, error) {
	var c HistoryCounts
	err := db.GetContext(ctx, &c, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN completed_at >= ? THEN 1 ELSE 0 END), 0) AS since
		FROM history
	`, since.UnixNano())
	return c, err
}
