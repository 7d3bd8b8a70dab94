package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/jmoiron/sqlx"
)

// LegacyImport reports what ImportLegacy loaded.
type LegacyImport struct {
	Jobs    int
	History int
}

// ImportLegacy loads the JSON job table and history log written by earlier
// versions of the service. Each file is imported at most once. Missing or
// unreadable files are treated as empty.
func (db *DB) ImportLegacy(ctx context.Context, jobsFile, historyFile string, log *logger.Logger) (LegacyImport, error) {
	var result LegacyImport
	settings := NewSettingsRepo(db)

	if jobsFile != "" {
		done, err := settings.Get(ctx, SettingLegacyJobsImported)
		if err != nil {
			return result, err
		}
		if done == "" {
			jobs := readLegacyJobs(jobsFile, log)
			n, err := db.importJobs(ctx, jobs, log)
			if err != nil {
				return result, err
			}
			result.Jobs = n
			if err := settings.Set(ctx, SettingLegacyJobsImported, jobsFile); err != nil {
				return result, err
			}
		}
	}

	if historyFile != "" {
		done, err := settings.Get(ctx, SettingLegacyHistoryImported)
		if err != nil {
			return result, err
		}
		if done == "" {
			entries := readLegacyHistory(historyFile, log)
			err := db.RunInTx(ctx, func(tx *sqlx.Tx) error {
				for _, e := range entries {
					if err := appendHistory(ctx, tx, e, constants.MaxHistoryEntries); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return result, err
			}
			result.History = len(entries)
			if err := settings.Set(ctx, SettingLegacyHistoryImported, historyFile); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func (db *DB) importJobs(ctx context.Context, jobs []*domain.Job, log *logger.Logger) (int, error) {
	imported := 0
	err := db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for _, job := range jobs {
			err := insertJob(ctx, tx, job)
			if errors.Is(err, ErrJobExists) {
				log.Warn("Skipping legacy job with existing id", "job_id", job.ID)
				continue
			}
			if err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	return imported, err
}

func readLegacyJobs(path string, log *logger.Logger) []*domain.Job {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Cannot read legacy jobs file", "path", path, "error", err)
		}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("Legacy jobs file is not a JSON object, treating as empty", "path", path, "error", err)
		return nil
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	jobs := make([]*domain.Job, 0, len(raw))
	for _, id := range ids {
		var job domain.Job
		if err := json.Unmarshal(raw[id], &job); err != nil {
			log.Warn("Skipping invalid legacy job", "job_id", id, "error", err)
			continue
		}
		if job.ID == "" {
			job.ID = id
		}
		if job.MaxRetries == 0 {
			job.MaxRetries = constants.DefaultMaxRetries
		}
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = job.CreatedAt
		}
		jobs = append(jobs, &job)
	}
	return jobs
}

func readLegacyHistory(path string, log *logger.Logger) []domain.HistoryEntry {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Cannot read legacy history file", "path", path, "error", err)
		}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("Legacy history file is not a JSON array, treating as empty", "path", path, "error", err)
		return nil
	}

	entries := make([]domain.HistoryEntry, 0, len(raw))
	for i, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal(r, &e); err != nil {
			log.Warn("Skipping invalid legacy history entry", "index", i, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// ExportJobs renders the job table as a pretty-printed JSON object keyed by
// job id, the same document shape the legacy jobs file used.
func (db *DB) ExportJobs(ctx context.Context) ([]byte, error) {
	jobs, err := db.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]*domain.Job, len(jobs))
	for _, j := range jobs {
		doc[j.ID] = j
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode jobs: %w", err)
	}
	return data, nil
}
