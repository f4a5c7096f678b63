package pagination

import "math"

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page    int
	PerPage int
}

// Normalize clamps the request into range. A non-positive page becomes 1, a
// non-positive size becomes defaultPerPage and any size above maxPerPage is
// cut down to it.
func (p Params) Normalize(defaultPerPage, maxPerPage int) Params {
	if maxPerPage < 1 {
		maxPerPage = MaxPerPage
	}
	if defaultPerPage < 1 {
		defaultPerPage = DefaultPerPage
	}
	if defaultPerPage > maxPerPage {
		defaultPerPage = maxPerPage
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	// From and To are the 1-based positions of the first and last item on the
	// page; both are zero when the page is empty.
	From    int  `json:"from"`
	To      int  `json:"to"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// New describes page of a result set with total items. itemsOnPage is the
// number of items actually returned for the page.
func New(p Params, total int64, itemsOnPage int) Pagination {
	totalPages := 0
	if p.PerPage > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(p.PerPage)))
	}
	out := Pagination{
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     p.Page < totalPages,
		HasPrev:     p.Page > 1,
	}
	if itemsOnPage > 0 {
		out.From = p.Offset() + 1
		out.To = p.Offset() + itemsOnPage
	}
	return out
}
