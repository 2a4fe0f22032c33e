package helpers

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
)

// Page is one page of a listing.
type Page struct {
	Items      []string
	Page       int
	PageSize   int
	TotalCount int
}

// Paginate returns the items of the given zero based page. Out of range pages are empty.
func Paginate(items []string, page int, pageSize int) Page {
	result := Page{Items: []string{}, Page: page, PageSize: pageSize, TotalCount: len(items)}
	if page < 0 || pageSize <= 0 {
		return result
	}
	start := page * pageSize
	if start >= len(items) {
		return result
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	result.Items = items[start:end]
	return result
}

// PageParam reads the page query parameter. A missing page is the first one.
func PageParam(r *http.Request) (int, error) {
	value := r.URL.Query().Get("page")
	if value == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(value)
	if err != nil || page < 0 {
		return 0, errors.Errorf("invalid page %q", value)
	}
	return page, nil
}
