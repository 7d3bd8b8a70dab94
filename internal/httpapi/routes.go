package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/httpapi/dto"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}

	jobReq, err := req.ToRequest()
	if err != nil {
		h.writeValidation(w, []dto.ValidationError{{Field: "type", Message: err.Error()}})
		return
	}

	id, err := h.Jobs.AddJob(r.Context(), req.URL, jobReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto.CreateJobResponse{ID: id})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Jobs.GetAllJobs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}

	job, err := h.Jobs.UpdateJob(r.Context(), chi.URLParam(r, "id"), req.ToUpdate())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) CleanupJobs(w http.ResponseWriter, r *http.Request) {
	maxAge := constants.DefaultCleanupMaxAge
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			h.writeValidation(w, []dto.ValidationError{{Field: "max_age_hours", Message: "must be a positive number"}})
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}

	n, err := h.Jobs.CleanupOldJobs(r.Context(), maxAge)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.CleanupResponse{Removed: n})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Jobs.GetDownloadHistory(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.GetStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ScanDuplicates(w http.ResponseWriter, r *http.Request) {
	var req dto.ScanRequest
	// An empty body scans the configured directories.
	if err := decodeOptional(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}

	dirs := req.Directories
	if len(dirs) == 0 {
		dirs = h.DedupDirs
	}

	groups, err := h.Dedup.FindDuplicates(r.Context(), dirs...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := dto.ScanResponse{
		Groups:      groups,
		Stats:       h.Dedup.DuplicateStats(groups),
		Suggestions: make(map[string]string, len(groups)),
	}
	if resp.Groups == nil {
		resp.Groups = []domain.DuplicateGroup{}
	}
	for _, g := range groups {
		resp.Suggestions[g.Hash] = h.Dedup.SuggestBestVersion(r.Context(), g.Files)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	var req dto.RemoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}
	if errs := req.ValidateRoots(h.DedupDirs); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}

	report, err := h.Dedup.RemoveDuplicates(r.Context(), req.Groups, req.AutoRemove)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ClearDuplicateCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.Dedup.ClearCache(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.ClearCacheResponse{Cleared: n})
}

func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
