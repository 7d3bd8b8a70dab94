package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cesargomez89/tubedrop/internal/backoff"
	"github.com/cesargomez89/tubedrop/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port         string   `yaml:"port"`
	DBPath       string   `yaml:"db_path"`
	DownloadsDir string   `yaml:"downloads_dir"`
	LibraryDir   string   `yaml:"library_dir"`
	StagingDir   string   `yaml:"staging_dir"`
	DedupDirs    []string `yaml:"dedup_dirs"`

	YtDlpPath    string `yaml:"ytdlp_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	AudioFormat  string `yaml:"audio_format"`
	AudioQuality string `yaml:"audio_quality"`

	MaxRetries      int           `yaml:"max_retries"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BackoffJitter   float64       `yaml:"backoff_jitter"`
	SingleTimeout   time.Duration `yaml:"single_timeout"`
	PlaylistTimeout time.Duration `yaml:"playlist_timeout"`
	CleanupMaxAge   time.Duration `yaml:"cleanup_max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	NavidromeURL      string        `yaml:"navidrome_url"`
	NavidromeUsername string        `yaml:"navidrome_username"`
	NavidromePassword string        `yaml:"navidrome_password"`
	RescanMinInterval time.Duration `yaml:"rescan_min_interval"`

	SpotifyClientID     string `yaml:"spotify_client_id"`
	SpotifyClientSecret string `yaml:"spotify_client_secret"`

	LegacyJobsFile    string `yaml:"legacy_jobs_file"`
	LegacyHistoryFile string `yaml:"legacy_history_file"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Values from the environment that failed to parse, reported by Validate.
	problems []string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:              constants.DefaultPort,
		DBPath:            constants.DefaultDBPath,
		DownloadsDir:      constants.DefaultDownloadsDir,
		LibraryDir:        constants.DefaultLibraryDir,
		StagingDir:        constants.DefaultStagingDir,
		YtDlpPath:         constants.DefaultYtDlpPath,
		FFprobePath:       constants.DefaultFFprobePath,
		AudioFormat:       constants.DefaultAudioFormat,
		AudioQuality:      constants.DefaultAudioQuality,
		MaxRetries:        constants.DefaultMaxRetries,
		MaxConcurrent:     constants.DefaultConcurrency,
		BackoffBase:       constants.DefaultBackoffBase,
		BackoffMax:        constants.DefaultBackoffMax,
		BackoffJitter:     constants.DefaultBackoffJitter,
		SingleTimeout:     constants.SingleSongTimeout,
		PlaylistTimeout:   constants.PlaylistTimeout,
		CleanupMaxAge:     constants.DefaultCleanupMaxAge,
		CleanupInterval:   constants.DefaultCleanupInterval,
		NavidromeURL:      constants.DefaultNavidromeURL,
		NavidromeUsername: constants.DefaultNavidromeUsername,
		RescanMinInterval: constants.DefaultRescanInterval,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE if any, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()
	if len(cfg.DedupDirs) == 0 {
		cfg.DedupDirs = []string{cfg.LibraryDir, cfg.DownloadsDir, cfg.StagingDir}
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DownloadsDir = getEnv("DOWNLOADS_DIR", c.DownloadsDir)
	c.LibraryDir = getEnv("LIBRARY_DIR", c.LibraryDir)
	c.StagingDir = getEnv("STAGING_DIR", c.StagingDir)
	if v, ok := os.LookupEnv("DEDUP_DIRS"); ok {
		c.DedupDirs = splitList(v)
	}

	c.YtDlpPath = getEnv("YTDLP_PATH", c.YtDlpPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)
	c.AudioFormat = getEnv("AUDIO_FORMAT", c.AudioFormat)
	c.AudioQuality = getEnv("AUDIO_QUALITY", c.AudioQuality)

	c.MaxRetries = c.getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.MaxConcurrent = c.getEnvInt("MAX_CONCURRENT", c.MaxConcurrent)
	c.BackoffBase = c.getEnvDuration("BACKOFF_BASE", c.BackoffBase)
	c.BackoffMax = c.getEnvDuration("BACKOFF_MAX", c.BackoffMax)
	c.BackoffJitter = c.getEnvFloat("BACKOFF_JITTER", c.BackoffJitter)
	c.SingleTimeout = c.getEnvDuration("SINGLE_TIMEOUT", c.SingleTimeout)
	c.PlaylistTimeout = c.getEnvDuration("PLAYLIST_TIMEOUT", c.PlaylistTimeout)
	c.CleanupMaxAge = c.getEnvDuration("CLEANUP_MAX_AGE", c.CleanupMaxAge)
	c.CleanupInterval = c.getEnvDuration("CLEANUP_INTERVAL", c.CleanupInterval)

	c.NavidromeURL = getEnv("NAVIDROME_URL", c.NavidromeURL)
	c.NavidromeUsername = getEnv("NAVIDROME_USERNAME", c.NavidromeUsername)
	c.NavidromePassword = getEnv("NAVIDROME_PASSWORD", c.NavidromePassword)
	c.RescanMinInterval = c.getEnvDuration("RESCAN_MIN_INTERVAL", c.RescanMinInterval)

	c.SpotifyClientID = getEnv("SPOTIFY_CLIENT_ID", c.SpotifyClientID)
	c.SpotifyClientSecret = getEnv("SPOTIFY_CLIENT_SECRET", c.SpotifyClientSecret)

	c.LegacyJobsFile = getEnv("LEGACY_JOBS_FILE", c.LegacyJobsFile)
	c.LegacyHistoryFile = getEnv("LEGACY_HISTORY_FILE", c.LegacyHistoryFile)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// BackoffPolicy returns the retry delay policy described by the backoff keys.
func (c *Config) BackoffPolicy() backoff.Policy {
	p := backoff.Default()
	p.Base = c.BackoffBase
	p.Max = c.BackoffMax
	p.Jitter = c.BackoffJitter
	return p
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	errors := append([]string(nil), c.problems...)

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}
	if c.DownloadsDir == "" {
		errors = append(errors, "DOWNLOADS_DIR cannot be empty")
	}
	if c.YtDlpPath == "" {
		errors = append(errors, "YTDLP_PATH cannot be empty")
	}

	validFormats := map[string]bool{
		"mp3": true, "m4a": true, "aac": true, "flac": true, "opus": true,
		"vorbis": true, "wav": true, "alac": true, "best": true,
	}
	if !validFormats[c.AudioFormat] {
		errors = append(errors, fmt.Sprintf("AUDIO_FORMAT must be one of: mp3, m4a, aac, flac, opus, vorbis, wav, alac, best, got: %s", c.AudioFormat))
	}

	if c.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("MAX_RETRIES cannot be negative, got: %d", c.MaxRetries))
	}
	if c.MaxConcurrent < 1 {
		errors = append(errors, fmt.Sprintf("MAX_CONCURRENT must be at least 1, got: %d", c.MaxConcurrent))
	}
	if c.BackoffBase < 0 {
		errors = append(errors, fmt.Sprintf("BACKOFF_BASE cannot be negative, got: %s", c.BackoffBase))
	}
	if c.BackoffMax > 0 && c.BackoffMax < c.BackoffBase {
		errors = append(errors, fmt.Sprintf("BACKOFF_MAX must not be below BACKOFF_BASE, got: %s < %s", c.BackoffMax, c.BackoffBase))
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		errors = append(errors, fmt.Sprintf("BACKOFF_JITTER must be between 0 and 1, got: %g", c.BackoffJitter))
	}
	if c.SingleTimeout <= 0 {
		errors = append(errors, "SINGLE_TIMEOUT must be positive")
	}
	if c.PlaylistTimeout <= 0 {
		errors = append(errors, "PLAYLIST_TIMEOUT must be positive")
	}
	if c.CleanupMaxAge <= 0 {
		errors = append(errors, "CLEANUP_MAX_AGE must be positive")
	}

	if c.NavidromeURL != "" {
		if u, err := url.Parse(c.NavidromeURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("NAVIDROME_URL is not a valid URL: %s", c.NavidromeURL))
		}
		if c.NavidromeUsername == "" {
			errors = append(errors, "NAVIDROME_USERNAME cannot be empty when NAVIDROME_URL is set")
		}
	}

	if (c.SpotifyClientID == "") != (c.SpotifyClientSecret == "") {
		errors = append(errors, "SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set together")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func (c *Config) getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s must be an integer, got: %s", key, value))
		return fallback
	}
	return n
}

func (c *Config) getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s must be a number, got: %s", key, value))
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s", "2h") or plain seconds.
func (c *Config) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s must be a duration, got: %s", key, value))
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
