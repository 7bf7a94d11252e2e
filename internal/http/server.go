// Package http provides the roadmapd HTTP API: run submission and
// lookup, world model lookup, health and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/run"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

// RunService is what the API needs from the run layer.
type RunService interface {
	Execute(ctx context.Context, req run.Request) (*run.Outcome, error)
	Get(ctx context.Context, id string) (*run.Run, error)
	Events(ctx context.Context, id string) ([]events.Event, error)
	List(ctx context.Context, orgID int64, limit int) ([]*run.Run, error)
	WorldModel(ctx context.Context, orgID int64) (*worldmodel.Record, error)
	Forget(ctx context.Context, orgID int64, entityType string, value extraction.Value) error
}

// Server provides HTTP endpoints for roadmapd.
type Server struct {
	echo    *echo.Echo
	runs    RunService
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// BodyLimit caps request bodies, echo notation ("10M").
	BodyLimit string
	// MaxDocuments caps documents per run submission.
	MaxDocuments int
}

const (
	defaultBodyLimit    = "10M"
	defaultMaxDocuments = 100
	defaultListLimit    = 20
)

// NewServer creates a new HTTP server.
func NewServer(runs RunService, logger *logging.Logger, cfg *Config) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = defaultBodyLimit
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = defaultMaxDocuments
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runs:    runs,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request ID on the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/orgs/:org_id/runs", s.handleCreateRun)
	v1.GET("/orgs/:org_id/runs", s.handleListRuns)
	v1.GET("/orgs/:org_id/world-model", s.handleWorldModel)
	v1.DELETE("/orgs/:org_id/entities", s.handleForget)
	v1.GET("/runs/:run_id", s.handleGetRun)
	v1.GET("/runs/:run_id/events", s.handleRunEvents)
}

// Echo exposes the router so callers can mount extra handlers.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func orgID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("org_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "org_id must be a positive integer")
	}
	return id, nil
}

func (s *Server) handleCreateRun(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}
	if len(req.Documents) > s.config.MaxDocuments {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("at most %d documents per run", s.config.MaxDocuments))
	}

	docs := make([]extraction.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if d.Content == "" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("documents[%d].content is required", i))
		}
		docs = append(docs, extraction.Document{Content: d.Content, FilePath: d.FilePath, Origin: d.Origin})
	}

	out, err := s.runs.Execute(c.Request().Context(), run.Request{OrgID: org, Documents: docs})
	switch {
	case errors.Is(err, run.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil && (out == nil || out.Run == nil):
		s.logger.Error(c.Request().Context(), "run could not be created", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "run could not be created")
	case err != nil:
		// The stored message is already scrubbed.
		return c.JSON(http.StatusUnprocessableEntity, RunResponse{Run: out.Run, Error: out.Run.ErrorMessage})
	}

	return c.JSON(http.StatusCreated, RunResponse{
		Run:           out.Run,
		Entities:      out.Entities,
		Relationships: out.Relationships,
	})
}

func (s *Server) handleListRuns(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	runs, err := s.runs.List(c.Request().Context(), org, limit)
	if err != nil {
		return s.internal(c, "listing runs", err)
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: nonNil(runs)})
}

func (s *Server) handleGetRun(c echo.Context) error {
	r, err := s.runs.Get(c.Request().Context(), c.Param("run_id"))
	if errors.Is(err, run.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return s.internal(c, "loading run", err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleRunEvents(c echo.Context) error {
	evs, err := s.runs.Events(c.Request().Context(), c.Param("run_id"))
	if errors.Is(err, run.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return s.internal(c, "loading run events", err)
	}
	return c.JSON(http.StatusOK, RunEventsResponse{Events: nonNil(evs)})
}

func (s *Server) handleWorldModel(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	rec, err := s.runs.WorldModel(c.Request().Context(), org)
	if errors.Is(err, worldmodel.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "world model not found")
	}
	if err != nil {
		return s.internal(c, "loading world model", err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleForget(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req ForgetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	value, err := extraction.NewValue(req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	err = s.runs.Forget(c.Request().Context(), org, req.EntityType, value)
	if errors.Is(err, run.ErrInvalidRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return s.internal(c, "forgetting entity", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) internal(c echo.Context, what string, err error) error {
	s.logger.Error(c.Request().Context(), what+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, what+" failed")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Start starts the HTTP server.
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
