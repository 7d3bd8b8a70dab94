// Package httpapi exposes the job queue and the deduplicator as a JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/httpapi/dto"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

type JobQueue interface {
	AddJob(ctx context.Context, url string, req domain.Request) (string, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetAllJobs(ctx context.Context) ([]*domain.Job, error)
	UpdateJob(ctx context.Context, id string, upd domain.JobUpdate) (*domain.Job, error)
	CancelJob(ctx context.Context, id string) (*domain.Job, error)
	RetryJob(ctx context.Context, id string) (*domain.Job, error)
	CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error)
	GetDownloadHistory(ctx context.Context) ([]domain.HistoryEntry, error)
	GetStats(ctx context.Context) (*domain.Stats, error)
}

type Deduplicator interface {
	FindDuplicates(ctx context.Context, dirs ...string) ([]domain.DuplicateGroup, error)
	SuggestBestVersion(ctx context.Context, paths []string) string
	RemoveDuplicates(ctx context.Context, groups []domain.DuplicateGroup, autoRemove bool) (*domain.RemovalReport, error)
	DuplicateStats(groups []domain.DuplicateGroup) domain.DuplicateStats
	ClearCache(ctx context.Context) (int64, error)
}

type Handler struct {
	Jobs      JobQueue
	Dedup     Deduplicator
	DedupDirs []string
	Logger    *logger.Logger
}

func NewHandler(jobs JobQueue, dd Deduplicator, dedupDirs []string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Jobs:      jobs,
		Dedup:     dd,
		DedupDirs: dedupDirs,
		Logger:    log.WithComponent("http"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs/cleanup", h.CleanupJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Patch("/jobs/{id}", h.UpdateJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
		r.Post("/jobs/{id}/retry", h.RetryJob)

		r.Get("/history", h.History)
		r.Get("/stats", h.Stats)

		r.Post("/duplicates/scan", h.ScanDuplicates)
		r.Post("/duplicates/remove", h.RemoveDuplicates)
		r.Delete("/duplicates/cache", h.ClearDuplicateCache)
	})
}

// NewRouter returns a chi router with the standard middleware stack and every
// route registered.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeValidation(w http.ResponseWriter, errs []dto.ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:  dto.ToResponse(errs),
		Fields: dto.ToMap(errs),
	})
}

// writeError maps domain errors onto status codes. Anything unrecognized is
// logged and reported as a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		h.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
