package dto

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cesargomez89/tubedrop/internal/domain"
)

// ScanRequest is the body of POST /api/duplicates/scan. No directories means
// the configured defaults.
type ScanRequest struct {
	Directories []string `json:"directories"`
}

func (r *ScanRequest) Validate() []ValidationError {
	var errs []ValidationError
	for i, dir := range r.Directories {
		if dir == "" || !filepath.IsAbs(dir) {
			errs = append(errs, ValidationError{Field: "directories[" + strconv.Itoa(i) + "]", Message: "must be an absolute path"})
		}
	}
	return errs
}

// ScanResponse carries the groups, their summary and the suggested keeper
// per group hash.
type ScanResponse struct {
	Suggestions map[string]string       `json:"suggestions"`
	Groups      []domain.DuplicateGroup `json:"groups"`
	Stats       domain.DuplicateStats   `json:"stats"`
}

type RemoveRequest struct {
	Groups     []domain.DuplicateGroup `json:"groups"`
	AutoRemove bool                    `json:"auto_remove"`
}

func (r *RemoveRequest) Validate() []ValidationError {
	var errs []ValidationError
	if len(r.Groups) == 0 {
		errs = append(errs, ValidationError{Field: "groups", Message: "is required"})
	}
	for i, g := range r.Groups {
		if len(g.Files) == 0 {
			errs = append(errs, ValidationError{Field: "groups[" + strconv.Itoa(i) + "].files", Message: "must not be empty"})
		}
		if g.Hash == "" {
			errs = append(errs, ValidationError{Field: "groups[" + strconv.Itoa(i) + "].hash", Message: "is required"})
		}
	}
	return errs
}

// ValidateRoots rejects any file that does not sit below one of roots.
func (r *RemoveRequest) ValidateRoots(roots []string) []ValidationError {
	var errs []ValidationError
	for i, g := range r.Groups {
		for j, path := range g.Files {
			if !withinRoots(path, roots) {
				errs = append(errs, ValidationError{
					Field:   "groups[" + strconv.Itoa(i) + "].files[" + strconv.Itoa(j) + "]",
					Message: "must be inside a configured duplicate directory",
				})
			}
		}
	}
	return errs
}

func withinRoots(path string, roots []string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

type ClearCacheResponse struct {
	Cleared int64 `json:"cleared"`
}
