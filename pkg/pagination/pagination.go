package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=, clamping to sane bounds.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset never goes below zero.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// LinkHeader builds an RFC 8288 Link value with next/prev relations for the
// request URL u. Other query parameters are preserved. Returns "" when there
// is only one page.
func (p Params) LinkHeader(u *url.URL, total int) string {
	var links []string
	if p.HasNext(total) {
		links = append(links, link(u, p.NextOffset(), p.Limit, "next"))
	}
	if p.HasPrevious() {
		links = append(links, link(u, p.PreviousOffset(), p.Limit, "prev"))
	}
	return strings.Join(links, ", ")
}

func link(u *url.URL, offset, limit int, rel string) string {
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return fmt.Sprintf("<%s?%s>; rel=%q", u.Path, q.Encode(), rel)
}

// Write sets the Link header and returns the response envelope.
func Write(c echo.Context, p Params, data interface{}, total int) *Response {
	if h := p.LinkHeader(c.Request().URL, total); h != "" {
		c.Response().Header().Set("Link", h)
	}
	return NewResponse(data, total, p.Limit, p.Offset)
}
