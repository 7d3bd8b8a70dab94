package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cesargomez89/tubedrop/internal/audio"
	"github.com/cesargomez89/tubedrop/internal/config"
	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/dedup"
	"github.com/cesargomez89/tubedrop/internal/httpapi"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/navidrome"
	"github.com/cesargomez89/tubedrop/internal/queue"
	"github.com/cesargomez89/tubedrop/internal/resolve"
	"github.com/cesargomez89/tubedrop/internal/spotify"
	"github.com/cesargomez89/tubedrop/internal/store"
	"github.com/cesargomez89/tubedrop/internal/tagging"
	"github.com/cesargomez89/tubedrop/internal/ytdlp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	imported, err := db.ImportLegacy(context.Background(), cfg.LegacyJobsFile, cfg.LegacyHistoryFile, appLogger)
	if err != nil {
		appLogger.Error("Failed to import legacy state", "error", err)
		os.Exit(1)
	}
	if imported.Jobs > 0 || imported.History > 0 {
		appLogger.Info("Imported legacy state", "jobs", imported.Jobs, "history", imported.History)
	}

	// Adapters
	downloader := ytdlp.New(ytdlp.Config{
		BinaryPath:   cfg.YtDlpPath,
		OutputRoot:   cfg.DownloadsDir,
		AudioFormat:  cfg.AudioFormat,
		AudioQuality: cfg.AudioQuality,
	}, appLogger)

	var lookup resolve.TrackLookup
	if sp := spotify.NewClient(spotify.Config{ClientID: cfg.SpotifyClientID, ClientSecret: cfg.SpotifyClientSecret}); sp.Enabled() {
		lookup = sp
	}

	notifier := navidrome.NewNotifier(navidrome.Config{
		BaseURL:     cfg.NavidromeURL,
		Username:    cfg.NavidromeUsername,
		Password:    cfg.NavidromePassword,
		MinInterval: cfg.RescanMinInterval,
	}, appLogger)

	// Initialize Queue
	jobs := queue.NewManager(db, queue.Deps{
		Downloader: downloader,
		Resolver:   resolve.New(lookup),
		Notifier:   notifier,
		Tagger:     tagging.New(appLogger),
	}, queue.Config{
		MaxRetries:      cfg.MaxRetries,
		MaxConcurrent:   cfg.MaxConcurrent,
		SingleTimeout:   cfg.SingleTimeout,
		PlaylistTimeout: cfg.PlaylistTimeout,
		CleanupMaxAge:   cfg.CleanupMaxAge,
		CleanupInterval: cfg.CleanupInterval,
		Backoff:         cfg.BackoffPolicy(),
	}, appLogger)
	if err := jobs.Start(); err != nil {
		appLogger.Error("Failed to start job queue", "error", err)
		os.Exit(1)
	}

	deduplicator := dedup.New(db, audio.NewProber(cfg.FFprobePath, appLogger), dedup.Config{LibraryDir: cfg.LibraryDir}, appLogger)

	// Routes
	h := httpapi.NewHandler(jobs, deduplicator, cfg.DedupDirs, appLogger)

	// Start Server
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: httpapi.NewRouter(h),
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	jobs.Stop()

	appLogger.Info("Server exiting")
}
