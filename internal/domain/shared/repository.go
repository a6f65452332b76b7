package shared

// Page selects one page of a result set. Page numbers start at 1.
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps the page to sane values
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Paginated represents a paginated result
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginated creates a new paginated result
func NewPaginated[T any](items []T, total int64, page Page) Paginated[T] {
	totalPages := 0
	if page.PageSize > 0 {
		totalPages = int(total) / page.PageSize
		if int(total)%page.PageSize > 0 {
			totalPages++
		}
	}
	return Paginated[T]{
		Items:      items,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: totalPages,
	}
}
