package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/cachesync"
)

type resyncRequest struct {
	TenantID *int64 `json:"tenant_id"`
}

type resyncResponse struct {
	TenantID *int64 `json:"tenant_id,omitempty"`
	cachesync.ResyncStats
}

// resync rebuilds the cache projection, for one tenant when tenant_id is given
func (s *Server) resync(c echo.Context) error {
	var req resyncRequest
	if err := decodeOptionalJSON(c, &req); err != nil {
		return err
	}
	if req.TenantID == nil {
		tenantID, err := optionalInt64(c, "tenant_id")
		if err != nil {
			return err
		}
		req.TenantID = tenantID
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.projector.ResyncTimeout())
	defer cancel()
	stats, err := s.projector.ResyncAll(ctx, req.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resyncResponse{TenantID: req.TenantID, ResyncStats: stats})
}

func (s *Server) purgeDeny(c echo.Context) error {
	purged, err := s.cleaner.PurgeDeny(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"purged": len(purged)})
}

func (s *Server) purgeQuarantine(c echo.Context) error {
	n, err := s.cleaner.PurgeQuarantine(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"purged": n})
}
