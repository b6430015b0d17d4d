package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/escalation"
)

type verdictResponse struct {
	Success bool              `json:"success"`
	Action  escalation.Action `json:"action"`
	Type    core.EntryType    `json:"type,omitempty"`
	Value   string            `json:"value,omitempty"`
	Source  core.Source       `json:"source,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// postVerdict receives the filtering pipeline's verdict for one message.
// The deny write is synchronous; cache projection and tenant resync are not.
func (s *Server) postVerdict(c echo.Context) error {
	var v escalation.Verdict
	if err := decodeJSON(c, &v); err != nil {
		return err
	}

	d, err := s.engine.Evaluate(c.Request().Context(), &v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, verdictResponse{
		Success: true,
		Action:  d.Action,
		Type:    d.Type,
		Value:   d.Value,
		Source:  d.Source,
		Reason:  d.Reason,
	})
}
