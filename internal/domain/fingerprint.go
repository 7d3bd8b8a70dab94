package domain

// Fingerprint is the tag-derived identity of one audio file. Two files with
// equal Hash are considered the same recording regardless of content.
type Fingerprint struct {
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	FilePath        string `json:"file_path"`
	Format          string `json:"format"`
	Hash            string `json:"hash"`
	DurationSeconds int    `json:"duration"`
	Bitrate         int    `json:"bitrate"`
	FileSize        int64  `json:"file_size"`
}

// DuplicateGroup lists files sharing one fingerprint hash. Key is the
// display label "title - artist" and is not guaranteed unique across groups.
type DuplicateGroup struct {
	Key   string   `json:"key"`
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
}

// DuplicateStats summarizes a scan result.
type DuplicateStats struct {
	Groups         int     `json:"duplicate_groups"`
	DuplicateFiles int     `json:"duplicate_files"`
	WastedBytes    int64   `json:"wasted_bytes"`
	WastedMB       float64 `json:"wasted_mb"`
}

// RemovalFailure records a file that was skipped or could not be deleted.
type RemovalFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RemovalReport is the outcome of a removal pass. In a dry run Removed counts
// the files that would have been deleted.
type RemovalReport struct {
	Kept     []string         `json:"kept"`
	Deleted  []string         `json:"deleted,omitempty"`
	Failures []RemovalFailure `json:"failures,omitempty"`
	Removed  int              `json:"removed"`
	DryRun   bool             `json:"dry_run"`
}
