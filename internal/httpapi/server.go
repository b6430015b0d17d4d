// Package httpapi exposes the trust lists, the verdict webhook and the
// quarantine operations over a JSON REST API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/escalation"
	"github.com/mikey/mailguard/internal/jobs"
	"github.com/mikey/mailguard/internal/quarantine"
	"github.com/mikey/mailguard/internal/trustlist"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the HTTP server
type Options struct {
	ListenAddress string
	AdminToken    string
	WebhookToken  string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxBodySize   string
}

// Pinger is a dependency checked by /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the admin and webhook HTTP server
type Server struct {
	echo      *echo.Echo
	opts      Options
	trust     *trustlist.Service
	engine    *escalation.Engine
	manager   *quarantine.Manager
	projector *cachesync.Projector
	cleaner   *jobs.Cleaner
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewServer creates the server and registers its routes
func NewServer(
	opts Options,
	trust *trustlist.Service,
	engine *escalation.Engine,
	manager *quarantine.Manager,
	projector *cachesync.Projector,
	cleaner *jobs.Cleaner,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = opts.ReadTimeout
	e.Server.WriteTimeout = opts.WriteTimeout

	s := &Server{
		echo:      e,
		opts:      opts,
		trust:     trust,
		engine:    engine,
		manager:   manager,
		projector: projector,
		cleaner:   cleaner,
		checks:    make(map[string]Pinger),
		logger:    logger,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	if opts.MaxBodySize != "" {
		e.Use(middleware.BodyLimit(opts.MaxBodySize))
	}

	s.routes()
	return s
}

// AddHealthCheck registers a dependency probed by /healthz
func (s *Server) AddHealthCheck(name string, p Pinger) {
	s.checks[name] = p
}

// Handler returns the underlying http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.opts.ListenAddress))
	if err := s.echo.Start(s.opts.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	hook := e.Group("/api/v1/webhook", s.webhookAuth())
	hook.POST("/verdict", s.postVerdict)

	api := e.Group("/api/v1", s.adminAuth()...)

	for path, list := range listRoutes {
		api.GET(path, s.listTrust(list))
		api.POST(path, s.addTrust(list))
		api.DELETE(path+"/:id", s.deleteTrust(list))
	}
	api.GET("/lookup", s.lookup)

	api.POST("/quarantine", s.ingestQuarantine)
	api.GET("/quarantine", s.listQuarantine)
	api.POST("/quarantine/bulk-release", s.bulkRelease)
	api.GET("/quarantine/:id", s.getQuarantine)
	api.GET("/quarantine/:id/preview", s.previewQuarantine)
	api.POST("/quarantine/:id/release", s.releaseQuarantine)
	api.POST("/quarantine/:id/approve", s.approveQuarantine)
	api.POST("/quarantine/:id/reject", s.rejectQuarantine)
	api.POST("/quarantine/:id/classify", s.classifyQuarantine)
	api.DELETE("/quarantine/:id", s.deleteQuarantine)

	api.POST("/cache/resync", s.resync)
	api.POST("/maintenance/purge-deny", s.purgeDeny)
	api.POST("/maintenance/purge-quarantine", s.purgeQuarantine)
}

// adminAuth gates the admin routes behind a bearer token when one is configured
func (s *Server) adminAuth() []echo.MiddlewareFunc {
	if s.opts.AdminToken == "" {
		return nil
	}
	want := []byte(s.opts.AdminToken)
	return []echo.MiddlewareFunc{middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), want) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
		},
	})}
}

// webhookAuth checks the shared secret header when one is configured
func (s *Server) webhookAuth() echo.MiddlewareFunc {
	want := []byte(s.opts.WebhookToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(want) == 0 {
				return next(c)
			}
			got := []byte(c.Request().Header.Get("X-Webhook-Token"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing webhook token")
			}
			return next(c)
		}
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				s.logger.Warn("HTTP request", fields...)
			} else {
				s.logger.Debug("HTTP request", fields...)
			}
			return nil
		},
	})
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	return c.JSON(status, map[string]any{"status": http.StatusText(status), "checks": result})
}
