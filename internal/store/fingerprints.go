package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/cesargomez89/tubedrop/internal/domain"
)

// GetFingerprint returns the cached fingerprint for key, or nil if absent.
func (db *DB) GetFingerprint(ctx context.Context, key string) (*domain.Fingerprint, error) {
	var data string
	err := db.GetContext(ctx, &data, "SELECT data FROM fingerprints WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var fp domain.Fingerprint
	if err := json.Unmarshal([]byte(data), &fp); err != nil {
		// A corrupt entry is a cache miss; it will be overwritten.
		return nil, nil
	}
	return &fp, nil
}

func (db *DB) PutFingerprint(ctx context.Context, key string, fp *domain.Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO fingerprints (key, file_path, data, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET file_path = excluded.file_path, data = excluded.data, created_at = excluded.created_at
	`, key, fp.FilePath, string(data), time.Now().UnixNano())
	return err
}

// ClearFingerprints drops the whole cache and reports how many entries went.
func (db *DB) ClearFingerprints(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM fingerprints")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) CountFingerprints(ctx context.Context) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM fingerprints")
	return n, err
}
