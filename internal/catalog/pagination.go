package catalog

import (
	"coursemarket/internal/apperr"
)

// DefaultPageSize is the listing page size when the caller does not pick one.
const DefaultPageSize = 5

var ErrPageNotFound = apperr.NotFound("invalid_page", "invalid page")

// PageRequest selects a 1-based page.
type PageRequest struct {
	Page int
	Size int
}

// Page is one window of the course listing plus its pagination metadata.
type Page struct {
	Items      []*Course
	TotalPages int
	Current    int
	PerPage    int
	Count      int
}

// normalize fills in defaults for a request built in code. An explicit page
// from a query string is checked by the handler before it gets here.
func (r PageRequest) normalize(maxSize int) PageRequest {
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Size <= 0 {
		r.Size = DefaultPageSize
	}
	if maxSize > 0 && r.Size > maxSize {
		r.Size = maxSize
	}
	return r
}

func (r PageRequest) offset() int {
	return (r.Page - 1) * r.Size
}

func totalPages(count, size int) int {
	if count == 0 {
		return 1
	}
	return (count + size - 1) / size
}
