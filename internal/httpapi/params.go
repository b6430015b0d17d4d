package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/core"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

type pageParams struct {
	Page    int
	PerPage int
}

func (p pageParams) offset() int {
	return (p.Page - 1) * p.PerPage
}

type pageResponse[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func newPage[T any](items []T, total int, p pageParams) pageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{Items: items, Total: total, Page: p.Page, PerPage: p.PerPage}
}

// pagination reads page and per_page, defaulting to the first page of 50
func pagination(c echo.Context) (pageParams, error) {
	p := pageParams{Page: 1, PerPage: defaultPerPage}
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, core.Invalid("page", "must be a positive integer")
		}
		p.Page = n
	}
	if v := c.QueryParam("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPerPage {
			return p, core.Invalid("per_page", "must be between 1 and %d", maxPerPage)
		}
		p.PerPage = n
	}
	return p, nil
}

// optionalInt64 returns nil when the query parameter is absent
func optionalInt64(c echo.Context, name string) (*int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, core.Invalid(name, "must be an integer")
	}
	return &n, nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

// decodeJSON reads a request body strictly: unknown fields and trailing
// data are rejected
func decodeJSON(c echo.Context, dst any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Invalid("body", "request body is empty")
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return err
		}
		return core.Invalid("body", "malformed JSON: %v", err)
	}
	if dec.More() {
		return core.Invalid("body", "unexpected data after JSON object")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted
func decodeOptionalJSON(c echo.Context, dst any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	err := decodeJSON(c, dst)
	var validation *core.ValidationError
	if errors.As(err, &validation) && validation.Message == "request body is empty" {
		return nil
	}
	return err
}
