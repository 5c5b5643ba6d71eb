// Package httpapi provides the HTTP control surface for pentestd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/playbook"
	"github.com/fulcrumsec/pentestd/internal/run"
	"github.com/fulcrumsec/pentestd/internal/session"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pentestd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by method, route, and status.",
	}, []string{"method", "path", "status"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pentestd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Server provides HTTP endpoints for pentestd.
type Server struct {
	echo      *echo.Echo
	sessions  *session.Manager
	playbooks playbook.Store
	orch      *run.Orchestrator
	bus       *events.Bus
	logger    *zap.Logger
	cfg       config.ServerConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, sessions *session.Manager, playbooks playbook.Store, orch *run.Orchestrator, bus *events.Bus, logger *zap.Logger) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if playbooks == nil {
		return nil, fmt.Errorf("playbook store is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			path := c.Path()
			httpRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(c.Response().Status)).Inc()
			httpDuration.WithLabelValues(c.Request().Method, path).Observe(duration.Seconds())

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		sessions:  sessions,
		playbooks: playbooks,
		orch:      orch,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.GET("/sessions/:id/findings", s.handleListFindings)
	v1.GET("/sessions/:id/log", s.handleSessionLog)
	v1.POST("/sessions/:id/chat", s.handleChat)
	v1.GET("/sessions/:id/chat", s.handleChatHistory)

	v1.GET("/playbooks", s.handleListPlaybooks)
	v1.GET("/playbooks/:id", s.handleGetPlaybook)

	v1.POST("/sessions/:id/runs", s.handleStartRun)
	v1.GET("/sessions/:id/runs", s.handleRunStatus)
	v1.DELETE("/sessions/:id/runs", s.handleStopRun)
	v1.POST("/sessions/:id/approvals/:step_id", s.handleResolveApproval)
	v1.POST("/sessions/:id/messages", s.handleInjectMessage)

	v1.GET("/sessions/:id/events", s.handleEventStream)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
