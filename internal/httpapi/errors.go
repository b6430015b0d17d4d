package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/quarantine"
	"go.uber.org/zap"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// statusFor translates a domain error into an HTTP status and client message
func statusFor(err error) (int, errorResponse) {
	var (
		validation *core.ValidationError
		delivery   *core.DeliveryError
		httpErr    *echo.HTTPError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorResponse{Error: validation.Error(), Field: validation.Field}
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.As(err, &delivery):
		return http.StatusBadGateway, errorResponse{Error: delivery.Error()}
	case errors.Is(err, quarantine.ErrNoClassifier):
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error()}
	case errors.As(err, &httpErr):
		return httpErr.Code, errorResponse{Error: fmt.Sprint(httpErr.Message)}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Error("Failed to write error response", zap.Error(err))
	}
}
