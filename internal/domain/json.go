package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Layouts accepted when decoding timestamps. The zone-less forms come from
// job files written before the service stored UTC offsets.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a timestamp in any of the accepted layouts. Zone-less
// values are interpreted in local time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

type jobJSON struct {
	ID         string    `json:"id"`
	Type       JobType   `json:"type"`
	URL        string    `json:"url"`
	Metadata   Metadata  `json:"metadata"`
	Status     JobStatus `json:"status"`
	Created    string    `json:"created"`
	Updated    string    `json:"updated"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	ErrorCount int       `json:"error_count"`
	MaxRetries int       `json:"max_retries"`
	Error      string    `json:"error,omitempty"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	md := Metadata{}
	if j.Request != nil {
		md = j.Request.Metadata()
	}
	return json.Marshal(jobJSON{
		ID:         j.ID,
		Type:       j.Type,
		URL:        j.URL,
		Metadata:   md,
		Status:     j.Status,
		Created:    formatTime(j.CreatedAt),
		Updated:    formatTime(j.UpdatedAt),
		Progress:   j.Progress,
		Message:    j.Message,
		ErrorCount: j.ErrorCount,
		MaxRetries: j.MaxRetries,
		Error:      j.LastError,
	})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req, err := DecodeRequest(raw.Type, raw.Metadata)
	if err != nil {
		return err
	}
	created, err := ParseTime(raw.Created)
	if err != nil {
		return err
	}
	updated, err := ParseTime(raw.Updated)
	if err != nil {
		return err
	}

	*j = Job{
		ID:         raw.ID,
		Type:       raw.Type,
		URL:        raw.URL,
		Request:    req,
		Status:     raw.Status,
		Progress:   raw.Progress,
		Message:    raw.Message,
		ErrorCount: raw.ErrorCount,
		MaxRetries: raw.MaxRetries,
		LastError:  raw.Error,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
	return nil
}

type historyJSON struct {
	ID        string        `json:"id"`
	Type      JobType       `json:"type"`
	URL       string        `json:"url"`
	Status    HistoryStatus `json:"status"`
	Created   string        `json:"created"`
	Completed string        `json:"completed"`
	Metadata  Metadata      `json:"metadata"`
	Message   string        `json:"message"`
}

func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	md := Metadata{}
	if h.Request != nil {
		md = h.Request.Metadata()
	}
	return json.Marshal(historyJSON{
		ID:        h.JobID,
		Type:      h.Type,
		URL:       h.URL,
		Status:    h.Status,
		Created:   formatTime(h.Created),
		Completed: formatTime(h.Completed),
		Metadata:  md,
		Message:   h.Message,
	})
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var raw historyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req, err := DecodeRequest(raw.Type, raw.Metadata)
	if err != nil {
		return err
	}
	created, err := ParseTime(raw.Created)
	if err != nil {
		return err
	}
	completed, err := ParseTime(raw.Completed)
	if err != nil {
		return err
	}

	*h = HistoryEntry{
		JobID:     raw.ID,
		Type:      raw.Type,
		URL:       raw.URL,
		Status:    raw.Status,
		Created:   created,
		Completed: completed,
		Request:   req,
		Message:   raw.Message,
	}
	return nil
}
