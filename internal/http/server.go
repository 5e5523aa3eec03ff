// Package http provides the HTTP control surface for seagent: assistants,
// threads and runs over JSON, with values-mode runs streamed as server-sent
// events.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// Server provides HTTP endpoints for seagent.
type Server struct {
	echo    *echo.Echo
	runs    *runtime.Service
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
	webhook *webhook
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the comment interval on idle event streams.
	Heartbeat time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(runs *runtime.Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if runs == nil {
		return nil, errors.New("run service cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runs:    runs,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/assistants", s.handleCreateAssistant)
	v1.GET("/assistants/:id", s.handleGetAssistant)
	v1.DELETE("/assistants/:id", s.handleDeleteAssistant)

	v1.POST("/threads", s.handleCreateThread)
	v1.GET("/threads/:id", s.handleGetThread)
	v1.DELETE("/threads/:id", s.handleDeleteThread)
	v1.GET("/threads/:id/state", s.handleGetState)

	v1.GET("/threads/:id/runs", s.handleListRuns)
	v1.POST("/threads/:id/runs", s.handleCreateRun)
	v1.GET("/threads/:id/runs/:run_id", s.handleGetRun)
	v1.POST("/threads/:id/runs/:run_id/cancel", s.handleCancelRun)
	v1.POST("/threads/:id/runs/:run_id/resume", s.handleResumeRun)
	v1.DELETE("/threads/:id/runs/:run_id", s.handleDeleteRun)
}

// Echo exposes the router for tests and extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StatusFor maps a runtime error to its HTTP status.
func StatusFor(err error) int {
	switch runtime.KindOf(err) {
	case runtime.KindNotFound:
		return http.StatusNotFound
	case runtime.KindAlreadyExists, runtime.KindThreadBusy, runtime.KindInvalidTransition:
		return http.StatusConflict
	case runtime.KindConfigIncomplete:
		return http.StatusUnprocessableEntity
	case runtime.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse.
func (s *Server) fail(c echo.Context, err error) error {
	status := StatusFor(err)
	kind := runtime.KindOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Kind: string(kind), Message: err.Error()})
}

func (s *Server) badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Kind: string(runtime.KindInvalidInput), Message: msg})
}
