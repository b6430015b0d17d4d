package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/trustlist"
)

var listRoutes = map[string]core.ListKind{
	"/allowlist": core.AllowList,
	"/denylist":  core.DenyList,
}

type addTrustRequest struct {
	TenantID int64          `json:"tenant_id"`
	Type     core.EntryType `json:"type"`
	Value    string         `json:"value"`
	Comment  string         `json:"comment"`
}

func (s *Server) listTrust(list core.ListKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := pagination(c)
		if err != nil {
			return err
		}
		tenantID, err := optionalInt64(c, "tenant_id")
		if err != nil {
			return err
		}

		q := core.TrustQuery{
			List:     list,
			TenantID: tenantID,
			Type:     core.EntryType(c.QueryParam("type")),
			Search:   c.QueryParam("search"),
			Limit:    p.PerPage,
			Offset:   p.offset(),
		}
		entries, total, err := s.trust.List(c.Request().Context(), q)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newPage(entries, total, p))
	}
}

func (s *Server) addTrust(list core.ListKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req addTrustRequest
		if err := decodeJSON(c, &req); err != nil {
			return err
		}
		key := trustlist.Key{TenantID: req.TenantID, Type: req.Type, Value: req.Value}
		entry, err := s.trust.Add(c.Request().Context(), list, key, req.Comment)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, entry)
	}
}

func (s *Server) deleteTrust(list core.ListKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		entry, err := s.trust.RemoveByID(c.Request().Context(), list, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, entry)
	}
}

type lookupResponse struct {
	TenantID    int64            `json:"tenant_id"`
	Type        core.EntryType   `json:"type"`
	Value       string           `json:"value"`
	Disposition core.Disposition `json:"disposition"`
}

func (s *Server) lookup(c echo.Context) error {
	tenantID, err := optionalInt64(c, "tenant_id")
	if err != nil {
		return err
	}
	if tenantID == nil {
		return core.Invalid("tenant_id", "is required")
	}

	key := trustlist.Key{
		TenantID: *tenantID,
		Type:     core.EntryType(c.QueryParam("type")),
		Value:    c.QueryParam("value"),
	}
	disposition, err := s.trust.Lookup(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lookupResponse{
		TenantID:    key.TenantID,
		Type:        key.Type,
		Value:       key.Value,
		Disposition: disposition,
	})
}
