// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort              = "8080"
	DefaultDBPath            = "tubedrop.db"
	DefaultDownloadsDir      = "/music/youtube-music"
	DefaultLibraryDir        = "/music/library"
	DefaultStagingDir        = "/music/import-staging"
	DefaultYtDlpPath         = "yt-dlp"
	DefaultFFprobePath       = "ffprobe"
	DefaultAudioFormat       = "mp3"
	DefaultAudioQuality      = "320K"
	DefaultNavidromeURL      = "http://127.0.0.1:4533"
	DefaultNavidromeUsername = "admin"
	DefaultConcurrency       = 2
	DefaultMaxRetries        = 3
	DefaultCleanupMaxAge     = 24 * time.Hour
	DefaultCleanupInterval   = 1 * time.Hour
	DefaultRescanInterval    = 30 * time.Second
)

// Backoff defaults
const (
	DefaultBackoffBase       = 30 * time.Second
	DefaultBackoffMax        = 10 * time.Minute
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.2
	LegacyBackoffStep        = 30 * time.Second
)

// Timeouts
const (
	SingleSongTimeout = 300 * time.Second
	PlaylistTimeout   = 1800 * time.Second
	PreflightTimeout  = 10 * time.Second
	ProbeTimeout      = 10 * time.Second
	RescanTimeout     = 30 * time.Second
	SpotifyTimeout    = 10 * time.Second
	ShutdownTimeout   = 5 * time.Second
)

// Outbound HTTP retries
const (
	HTTPRetryCount = 3
	HTTPRetryBase  = 1 * time.Second
)

// Job progress checkpoints
const (
	ProgressStarting      = 5
	ProgressResolving     = 10
	ProgressPlaylistStart = 15
	ProgressPlaylistEnd   = 85
	ProgressDownloading   = 30
	ProgressRescan        = 90
	ProgressComplete      = 100
)

// Job messages
const (
	MsgQueued        = "Queued for download"
	MsgStarting      = "Starting download..."
	MsgResolving     = "Processing URL..."
	MsgDownloading   = "Downloading audio..."
	MsgPlaylistStart = "Starting playlist download..."
	MsgRescan        = "Triggering library scan..."
	MsgCompleted     = "Download completed successfully!"
	MsgCancelled     = "Job cancelled by user"
	MsgManualRetry   = "Retrying job..."
	MsgRecovered     = "Requeued after restart"
	MsgInterrupted   = "Interrupted by shutdown, will resume"
	MsgRetrying      = "Retrying... (attempt %d)"
	MsgPlaylist      = "Downloading playlist... %.1f%%"
	MsgFailed        = "Download failed after retries: %s"
	MsgUnexpected    = "Error: %v"
)

// History
const (
	MaxHistoryEntries = 100
	MaxErrorLength    = 200
	ShortIDLength     = 8
	MaxIDAttempts     = 5
)

// Deduplication scoring
const (
	FormatBonusFLAC = 30.0
	FormatBonusM4A  = 15.0
	FormatBonusMP3  = 5.0
	LibraryBonus    = 10.0
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
	ExtWAV  = ".wav"
	ExtOGG  = ".ogg"
	ExtOPUS = ".opus"
)

// AudioExtensions lists the files considered by library scans.
var AudioExtensions = []string{ExtMP3, ExtM4A, ExtFLAC, ExtWAV, ExtOGG, ExtOPUS}

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Filename cleanup
const (
	InvalidPathChars   = "<>:\"/\\|?*"
	MaxFilenameLength  = 100
	UnknownName        = "Unknown"
	DefaultPlaylistDir = "Downloaded Playlist"
)
