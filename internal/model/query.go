// internal/model/query.go
package model

import (
	"strconv"
	"strings"
)

const (
	DefaultPageSize        = 10  // Works, favorites, uploads, accounts
	DefaultCommentPageSize = 20  // Comments on a work
	MaxPageSize            = 100 // Upper clamp for any listing
)

// Page is a normalized 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage parses raw query values. Unparseable or non-positive values fall back
// to page 1 and defaultSize; sizes above MaxPageSize are clamped.
func NewPage(rawPage, rawSize string, defaultSize int) Page {
	p := Page{Number: 1, Size: defaultSize}
	if v, err := strconv.Atoi(strings.TrimSpace(rawPage)); err == nil && v > 0 {
		p.Number = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(rawSize)); err == nil && v > 0 {
		p.Size = v
	}
	return p.Normalize()
}

// Normalize applies the defaults and clamps to a Page built by hand.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Pagination is the metadata returned with every paged listing.
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	TotalItems   int64 `json:"totalItems"`
	ItemsPerPage int   `json:"itemsPerPage"`
}

// Paginate builds the metadata for total items split into p-sized pages.
func Paginate(p Page, total int64) Pagination {
	p = p.Normalize()
	pages := int((total + int64(p.Size) - 1) / int64(p.Size))
	return Pagination{
		CurrentPage:  p.Number,
		TotalPages:   pages,
		TotalItems:   total,
		ItemsPerPage: p.Size,
	}
}

// WorkOrder selects the sort order of a work listing.
type WorkOrder int

const (
	OrderRecent     WorkOrder = iota // created_at DESC, id DESC
	OrderPopularity                  // views DESC, created_at DESC, id DESC
)

// WorkQuery filters and pages a work listing. Zero-valued filters match everything.
type WorkQuery struct {
	Kind      Kind
	Category  string
	Search    string // Case-insensitive substring of title or description
	CreatedBy int64  // Restrict to one creator when non-zero
	Order     WorkOrder
	Page      Page
}

// EscapeLike escapes the LIKE wildcards in s so user input matches literally.
// The escape character is backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
