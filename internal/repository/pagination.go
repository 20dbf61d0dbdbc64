package repository

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest selects one page of an audit or session listing. Zero values fall back to the defaults.
type PageRequest struct {
	Page     int
	PageSize int
}

func (p PageRequest) Offset() int {
	n := normalizePageRequest(p)
	return (n.Page - 1) * n.PageSize
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPageResult[T any](req PageRequest, items []T, total int64) PageResult[T] {
	n := normalizePageRequest(req)
	if items == nil {
		items = []T{}
	}
	return PageResult[T]{
		Items:      items,
		Page:       n.Page,
		PageSize:   n.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, n.PageSize),
	}
}

func normalizePageRequest(req PageRequest) PageRequest {
	if req.Page < 1 {
		req.Page = DefaultPage
	}
	switch {
	case req.PageSize < 1:
		req.PageSize = DefaultPageSize
	case req.PageSize > MaxPageSize:
		req.PageSize = MaxPageSize
	}
	return req
}

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
