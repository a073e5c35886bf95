// Package http provides the ragchat HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/query"
	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// DefaultUploadExtensions are the document types accepted by POST /v1/indexing.
var DefaultUploadExtensions = []string{".pdf", ".docx", ".csv"}

// Indexer indexes uploaded documents.
type Indexer interface {
	IndexUpload(ctx context.Context, name string, content io.Reader) (*indexing.Result, error)
}

// Asker answers chat turns.
type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

// Pinger reports vector store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxUploadSize is an echo body limit such as "32M".
	MaxUploadSize string

	// UploadExtensions overrides DefaultUploadExtensions.
	UploadExtensions []string
}

// Deps are the collaborators of a Server. Store and Metrics are optional.
type Deps struct {
	Indexer Indexer
	Asker   Asker
	Store   Pinger
	Metrics *HTTPMetrics
	Logger  *logging.Logger
}

// Server provides HTTP endpoints for ragchat.
type Server struct {
	echo    *echo.Echo
	indexer Indexer
	asker   Asker
	store   Pinger
	logger  *logging.Logger
	config  *Config
	allowed map[string]bool
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Indexer == nil || deps.Asker == nil {
		return nil, fmt.Errorf("indexer and asker cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if cfg.MaxUploadSize == "" {
		cfg.MaxUploadSize = "32M"
	}
	exts := cfg.UploadExtensions
	if len(exts) == 0 {
		exts = DefaultUploadExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		indexer: deps.Indexer,
		asker:   deps.Asker,
		store:   deps.Store,
		logger:  deps.Logger.Named("http"),
		config:  cfg,
		allowed: allowed,
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if deps.Metrics != nil {
		e.Use(deps.Metrics.MetricsMiddleware())
	}
	e.Use(s.requestLogger)

	s.registerRoutes()

	return s, nil
}

// requestLogger puts the request id on the request context and logs each
// request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), requestID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

const (
	routeHealth   = "/health"
	routeMetrics  = "/metrics"
	routeIndexing = "/v1/indexing"
	routeChatbot  = "/v1/chatbot"
)

func (s *Server) registerRoutes() {
	s.echo.GET(routeHealth, s.handleHealth)
	s.echo.GET(routeMetrics, echo.WrapHandler(promhttp.Handler()))
	s.echo.POST(routeIndexing, s.handleIndexing, middleware.BodyLimit(s.config.MaxUploadSize))
	s.echo.POST(routeChatbot, s.handleChatbot)
}

// handleHealth reports liveness and vector store reachability.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn(ctx, "vector store unreachable", zap.Error(err))
			resp.Status = "degraded"
			resp.VectorStore = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.VectorStore = "ok"
	}
	return c.JSON(http.StatusOK, resp)
}

// handleIndexing saves an uploaded document and indexes the raw folder.
func (s *Server) handleIndexing(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		s.logger.Warn(ctx, "missing upload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !s.allowed[ext] {
		s.logger.Warn(ctx, "unsupported file format", zap.String("file", fh.Filename))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("unsupported file format %q", ext))
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: opening upload: %v", rag.ErrIO, err)
	}
	defer f.Close()

	res, err := s.indexer.IndexUpload(ctx, fh.Filename, f)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, IndexingResponse{
		Message: http.StatusText(http.StatusOK),
		Info: IndexingInfo{
			Status: string(res.State),
			RunID:  res.RunID,
			Files:  res.Files,
			Stored: res.Stored,
		},
	})
}

// handleChatbot answers one chat turn.
func (s *Server) handleChatbot(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid chatbot request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	resp, err := s.asker.Ask(c.Request().Context(), query.Request{Query: req.Query, UserName: req.UserName})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Message: http.StatusText(http.StatusOK),
		Info: ChatInfo{
			Status:    true,
			Response:  resp.Response,
			Sources:   len(resp.Sources),
			NoContext: resp.NoContext,
		},
	})
}

// handleError renders every error as {message, detail}. Domain errors map to
// a status by kind; anything unrecognized is a 500 without internals.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}

	body := ErrorResponse{Message: http.StatusText(status), Detail: detail}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response failed", zap.Error(err))
	}
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	switch rag.KindOf(err) {
	case rag.KindValidation:
		return http.StatusBadRequest, err.Error()
	case rag.KindNotFound:
		return http.StatusNotFound, err.Error()
	case rag.KindUnsupported:
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, ""
	}
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
