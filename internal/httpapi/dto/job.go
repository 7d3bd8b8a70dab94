package dto

import (
	"strings"

	"github.com/cesargomez89/tubedrop/internal/domain"
)

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Metadata domain.Metadata `json:"metadata"`
	Type     string          `json:"type"`
	URL      string          `json:"url"`
}

// Validate defaults an empty type to single_song. The URL is only required
// to be present; its shape is the resolver's business.
func (r *CreateJobRequest) Validate() []ValidationError {
	var errs []ValidationError
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		errs = append(errs, ValidationError{Field: "url", Message: "is required"})
	}
	if r.Type == "" {
		r.Type = string(domain.JobTypeSingleSong)
	}
	switch domain.JobType(r.Type) {
	case domain.JobTypeSingleSong, domain.JobTypePlaylist:
	default:
		errs = append(errs, ValidationError{Field: "type", Message: "must be 'single_song' or 'playlist'"})
	}
	return errs
}

func (r *CreateJobRequest) ToRequest() (domain.Request, error) {
	return domain.DecodeRequest(domain.JobType(r.Type), r.Metadata)
}

type CreateJobResponse struct {
	ID string `json:"id"`
}

// UpdateJobRequest is the body of PATCH /api/jobs/{id}. Absent fields are
// left unchanged.
type UpdateJobRequest struct {
	Status   *string `json:"status"`
	Progress *int    `json:"progress"`
	Message  *string `json:"message"`
	Error    *string `json:"error"`
}

func (r *UpdateJobRequest) Validate() []ValidationError {
	var errs []ValidationError
	if r.Status != nil {
		status := domain.JobStatus(*r.Status)
		switch {
		case !status.Valid():
			errs = append(errs, ValidationError{Field: "status", Message: "must be one of completed, failed, cancelled"})
		case status.IsActive():
			// Only the queue schedules attempts; use retry to requeue a job.
			errs = append(errs, ValidationError{Field: "status", Message: "cannot be set to " + *r.Status})
		}
	}
	if r.Progress != nil && (*r.Progress < 0 || *r.Progress > 100) {
		errs = append(errs, ValidationError{Field: "progress", Message: "must be between 0 and 100"})
	}
	if r.Status == nil && r.Progress == nil && r.Message == nil && r.Error == nil {
		errs = append(errs, ValidationError{Field: "body", Message: "no fields to update"})
	}
	return errs
}

func (r *UpdateJobRequest) ToUpdate() domain.JobUpdate {
	upd := domain.JobUpdate{
		Progress: r.Progress,
		Message:  r.Message,
		Error:    r.Error,
	}
	if r.Status != nil {
		status := domain.JobStatus(*r.Status)
		upd.Status = &status
	}
	return upd
}

type CleanupResponse struct {
	Removed int64 `json:"removed"`
}
