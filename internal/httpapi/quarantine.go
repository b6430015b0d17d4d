package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/quarantine"
)

type bulkReleaseRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) ingestQuarantine(c echo.Context) error {
	var req quarantine.IngestRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	msg, err := s.manager.Ingest(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, summary(msg))
}

func (s *Server) listQuarantine(c echo.Context) error {
	p, err := pagination(c)
	if err != nil {
		return err
	}
	tenantID, err := optionalInt64(c, "tenant_id")
	if err != nil {
		return err
	}

	msgs, total, err := s.manager.List(c.Request().Context(), core.QuarantineQuery{
		TenantID: tenantID,
		Status:   core.QuarantineStatus(c.QueryParam("status")),
		Search:   c.QueryParam("search"),
		Limit:    p.PerPage,
		Offset:   p.offset(),
	})
	if err != nil {
		return err
	}
	for i, m := range msgs {
		msgs[i] = summary(m)
	}
	return c.JSON(http.StatusOK, newPage(msgs, total, p))
}

func (s *Server) getQuarantine(c echo.Context) error {
	msg, err := s.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) previewQuarantine(c echo.Context) error {
	p, err := s.manager.Preview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) releaseQuarantine(c echo.Context) error {
	return s.transition(c, s.manager.Release)
}

func (s *Server) approveQuarantine(c echo.Context) error {
	return s.transition(c, s.manager.Approve)
}

func (s *Server) rejectQuarantine(c echo.Context) error {
	return s.transition(c, s.manager.Reject)
}

func (s *Server) deleteQuarantine(c echo.Context) error {
	return s.transition(c, s.manager.Delete)
}

func (s *Server) transition(c echo.Context, op func(ctx context.Context, id string) (*core.QuarantinedMessage, error)) error {
	msg, err := op(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary(msg))
}

func (s *Server) classifyQuarantine(c echo.Context) error {
	res, err := s.manager.Classify(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) bulkRelease(c echo.Context) error {
	var req bulkReleaseRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	res, err := s.manager.BulkRelease(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// summary drops the raw body and headers from listings and transition results
func summary(m *core.QuarantinedMessage) *core.QuarantinedMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.Body = ""
	out.Headers = nil
	return &out
}
