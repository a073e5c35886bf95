package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/query"
)

// Asker answers chat turns.
type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

// Indexer runs incremental indexing.
type Indexer interface {
	Run(ctx context.Context) (*indexing.Result, error)
}

// Server is an MCP server over the query and indexing orchestrators.
type Server struct {
	mcp     *mcp.Server
	asker   Asker
	indexer Indexer
	metrics *Metrics
	logger  *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragchat")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragchat",
		Version: "1.0.0",
		Logger:  logging.Nop(),
	}
}

// NewServer creates a new MCP server.
func NewServer(cfg *Config, asker Asker, indexer Indexer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "ragchat"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if asker == nil {
		return nil, fmt.Errorf("query service is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexing orchestrator is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	logger := cfg.Logger.Named("mcp")
	s := &Server{
		mcp:     mcpServer,
		asker:   asker,
		indexer: indexer,
		metrics: NewMetrics(logger.Underlying()),
		logger:  logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.mcp.Connect(ctx, t, nil)
	if err != nil {
		s.logger.Error(ctx, "mcp connect failed", zap.Error(err))
		return nil, fmt.Errorf("connecting mcp session: %w", err)
	}
	return session, nil
}
