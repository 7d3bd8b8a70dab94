package store

// Timestamps are stored as Unix nanoseconds so range queries compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	url TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	error_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);

CREATE TABLE IF NOT EXISTS history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	completed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_completed_at ON history(completed_at);

CREATE TABLE IF NOT EXISTS fingerprints (
	key TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`
