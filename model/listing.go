package model

// ListQuery is the controller's query state. Page is 1-based.
type ListQuery struct {
	Search   string `json:"search"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// ListShape records which wire form a list response arrived in.
type ListShape int

const (
	// ShapeEnvelope is {"items": [...], "total": N}. Total is authoritative.
	ShapeEnvelope ListShape = iota
	// ShapeBare is a plain JSON array. Total is inferred as len(items), which
	// under-counts whenever the server paginated the result.
	ShapeBare
)

// String returns the shape name used in logs and metrics.
func (s ListShape) String() string {
	if s == ShapeBare {
		return "bare"
	}
	return "envelope"
}

// ListPage is one page of cases normalized from either response shape.
type ListPage struct {
	Items []Case    `json:"items"`
	Total int       `json:"total"`
	Shape ListShape `json:"-"`
}

// TotalAuthoritative reports whether Total came from the server rather than
// being inferred.
func (p ListPage) TotalAuthoritative() bool {
	return p.Shape == ShapeEnvelope
}

// TotalPages returns max(1, ceil(total/pageSize)).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// ClampPage bounds page to [1, TotalPages(total, pageSize)].
func ClampPage(page, total, pageSize int) int {
	if page < 1 {
		return 1
	}
	if last := TotalPages(total, pageSize); page > last {
		return last
	}
	return page
}
