package dto

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageMeta accompanies every paginated listing.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type Page[T any] struct {
	Items []T      `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// Normalize clamps page and limit to sane values and returns them with the
// derived SQL offset. Page numbering is 1-based.
func (q *ListQuery) Normalize() (page, limit, offset int) {
	page = q.Page
	if page < 1 {
		page = 1
	}
	limit = q.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit, (page - 1) * limit
}

// NewPageMeta derives the listing metadata from the normalized inputs.
func NewPageMeta(page, limit, totalItems int) PageMeta {
	totalPages := 0
	if totalItems > 0 {
		totalPages = (totalItems + limit - 1) / limit
	}
	return PageMeta{
		Page:       page,
		Limit:      limit,
		TotalItems: totalItems,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && totalItems > 0,
	}
}
