// Package http serves the truthd pipeline and review API over echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/conflicts"
	"github.com/fyrsmithlabs/truthd/internal/extraction"
	"github.com/fyrsmithlabs/truthd/internal/gateway"
	"github.com/fyrsmithlabs/truthd/internal/knowledge"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/prbuilder"
	"github.com/fyrsmithlabs/truthd/internal/review"
	"github.com/fyrsmithlabs/truthd/internal/router"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// HeaderInputTruncated is set on /analyze responses when the turn text was
// cut to the extraction input cap.
const HeaderInputTruncated = "X-Input-Truncated"

// TurnExtractor runs extraction over turn text.
type TurnExtractor interface {
	ExtractTurn(ctx context.Context, text string, turnID *int64) (extraction.Extraction, bool, error)
}

// PRBuilder builds a knowledge PR from a turn.
type PRBuilder interface {
	Build(ctx context.Context, turnID int64) (prbuilder.Result, error)
}

// ConflictRunner evaluates a PR's changes.
type ConflictRunner interface {
	Run(ctx context.Context, prID int64) (conflicts.Result, error)
}

// StakeholderRouter ranks a PR's stakeholders.
type StakeholderRouter interface {
	Route(ctx context.Context, prID int64) (router.Result, error)
}

// Merger applies a PR to the knowledge base.
type Merger interface {
	MergePR(ctx context.Context, prID int64) (knowledge.MergeResult, error)
}

// Reviewer serves the read-side views.
type Reviewer interface {
	PR(ctx context.Context, prID int64) (review.PRDetail, error)
	Stakeholders(ctx context.Context, prID int64) (review.Stakeholders, error)
	Trace(ctx context.Context, prID int64) (review.Trace, error)
	Comms(ctx context.Context) (review.CommsGraph, error)
	Knowledge(ctx context.Context) (review.KnowledgeGraph, error)
}

// Deps are the services behind the API.
type Deps struct {
	Store     store.Store
	Extractor TurnExtractor
	Builder   PRBuilder
	Conflicts ConflictRunner
	Router    StakeholderRouter
	Merger    Merger
	Review    Reviewer
	Logger    *logging.Logger
	// Meter receives request instruments; nil uses the global provider.
	Meter metric.Meter
	// Gatherer backs /metrics; nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("store is required")
	case d.Extractor == nil, d.Builder == nil, d.Conflicts == nil, d.Router == nil, d.Merger == nil, d.Review == nil:
		return errors.New("all pipeline services are required")
	case d.Logger == nil:
		return errors.New("logger is required for request tracking and debugging")
	}
	return nil
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the truthd HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a server. A nil cfg listens on localhost:9090.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: deps, logger: deps.Logger, config: cfg}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(deps.Meter, deps.Logger).MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	s.echo.POST("/analyze/turn/:id", s.handleAnalyzeTurn)

	kpr := s.echo.Group("/kpr")
	kpr.POST("/from_turn/:id", s.handleBuildPR)
	kpr.GET("/:id", s.handleGetPR)
	kpr.POST("/:id/run_conflicts", s.handleRunConflicts)
	kpr.POST("/:id/route", s.handleRoute)
	kpr.GET("/:id/stakeholders", s.handleStakeholders)
	kpr.GET("/:id/trace", s.handleTrace)
	kpr.POST("/:id/merge", s.handleMerge)

	graph := s.echo.Group("/graph")
	graph.GET("/comms", s.handleCommsGraph)
	graph.GET("/knowledge", s.handleKnowledgeGraph)
}

// ServeHTTP lets the server be mounted or exercised directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on the configured address until Shutdown.
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

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be an integer")
	}
	return id, nil
}

// fail maps a pipeline error to an HTTP error.
func (s *Server) fail(c echo.Context, err error) error {
	ctx := c.Request().Context()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, extraction.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, knowledge.ErrMergeBlocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case gateway.IsGatewayFailure(err):
		s.logger.Warn(ctx, "model gateway failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "model gateway failed")
	default:
		s.logger.Error(ctx, "request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
