// Package query answers one chat turn: embed, retrieve, generate.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/chunker"
	"github.com/fyrsmithlabs/ragchat/internal/embeddings"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/rag"
	"github.com/fyrsmithlabs/ragchat/internal/vectorstore"
)

// NoContextResponse is returned when retrieval finds nothing.
const NoContextResponse = "Không tìm thấy thông tin liên quan. Bạn có muốn hỏi câu khác không?"

// ScopeLevels is how many header levels the user scope filter matches.
const ScopeLevels = 4

var tracer = otel.Tracer("ragchat.query")

// Embedder embeds a query.
type Embedder interface {
	Process(ctx context.Context, chunks []rag.Chunk, query string) (embeddings.ProcessResult, error)
}

// Retriever runs hybrid searches.
type Retriever interface {
	Query(ctx context.Context, q vectorstore.HybridQuery) ([]rag.ScoredPoint, error)
}

// Generator composes an answer. Failures come back as text, never as errors.
type Generator interface {
	Generate(ctx context.Context, query string, history []rag.Turn, retrieved []rag.Payload) string
}

// History keeps prior turns per user.
type History interface {
	Recent(user string, n int) ([]rag.Turn, error)
	Append(user string, turn rag.Turn) error
}

// Config tunes retrieval.
type Config struct {
	// TopK is how many chunks are retrieved per query.
	TopK int

	// CacheSize bounds the query embedding cache. Negative disables it.
	CacheSize int

	// HistoryTurns is how many prior turns are passed to generation.
	HistoryTurns int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.CacheSize == 0 {
		c.CacheSize = 256
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = 5
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", rag.ErrValidation, c.TopK)
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("%w: history turns must be >= 0, got %d", rag.ErrValidation, c.HistoryTurns)
	}
	return nil
}

// Request is one chat turn.
type Request struct {
	Query    string `json:"query"`
	UserName string `json:"user_name"`
}

// Response is the answer to a Request.
type Response struct {
	Response  string            `json:"response"`
	Sources   []rag.ScoredPoint `json:"sources,omitempty"`
	NoContext bool              `json:"no_context"`
}

// Deps are the collaborators of a Service. History is optional.
type Deps struct {
	Embedder  Embedder
	Retriever Retriever
	Generator Generator
	History   History
	Logger    *logging.Logger
}

type cachedQuery struct {
	dense  []float32
	sparse rag.SparseVector
}

// Service answers queries.
type Service struct {
	config    Config
	embedder  Embedder
	retriever Retriever
	generator Generator
	history   History
	cache     *lru.Cache[string, cachedQuery]
	logger    *logging.Logger
}

// New creates a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Embedder == nil || deps.Retriever == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: embedder, retriever and generator are required", rag.ErrValidation)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	s := &Service{
		config:    cfg,
		embedder:  deps.Embedder,
		retriever: deps.Retriever,
		generator: deps.Generator,
		history:   deps.History,
		logger:    deps.Logger.Named("query"),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, cachedQuery](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating query cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Ask answers one chat turn. Retrieval failures are returned; generation
// failures come back inside the response text.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", rag.ErrValidation)
	}
	user := strings.TrimSpace(req.UserName)
	ctx = logging.WithUser(ctx, user)

	ctx, span := tracer.Start(ctx, "Service.Ask")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", s.config.TopK), attribute.Bool("scoped", user != ""))

	q, err := s.embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hq := vectorstore.HybridQuery{
		Dense:  q.dense,
		Sparse: q.sparse,
		Filter: rag.Filter{Keys: rag.HeaderKeys(ScopeLevels), Value: user},
		TopK:   s.config.TopK,
	}
	points, err := s.retriever.Query(ctx, hq)
	if err != nil {
		s.logger.Error(ctx, "retrieval failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieved", len(points)))

	if len(points) == 0 {
		s.logger.Info(ctx, "no relevant context retrieved")
		span.SetStatus(codes.Ok, "no context")
		return &Response{Response: NoContextResponse, NoContext: true}, nil
	}

	history := s.recent(ctx, user)
	payloads := make([]rag.Payload, len(points))
	for i, p := range points {
		payloads[i] = p.Payload
	}
	answer := chunker.CleanText(s.generator.Generate(ctx, query, history, payloads))

	if s.history != nil {
		turn := rag.Turn{Query: query, Response: answer, At: time.Now().UTC()}
		if err := s.history.Append(user, turn); err != nil {
			s.logger.Warn(ctx, "saving chat history failed", zap.Error(err))
		}
	}

	span.SetStatus(codes.Ok, "success")
	return &Response{Response: answer, Sources: points}, nil
}

func (s *Service) embed(ctx context.Context, query string) (cachedQuery, error) {
	if s.cache != nil {
		if q, ok := s.cache.Get(query); ok {
			return q, nil
		}
	}

	res, err := s.embedder.Process(ctx, nil, query)
	if err != nil {
		return cachedQuery{}, err
	}
	if len(res.Dense) != 1 || len(res.Sparse) != 1 {
		return cachedQuery{}, fmt.Errorf("%w: query embedding missing", rag.ErrValidation)
	}

	q := cachedQuery{dense: res.Dense[0], sparse: res.Sparse[0]}
	// Degraded vectors are zero-filled stand-ins; caching one would pin it.
	if s.cache != nil && (len(res.Degraded) == 0 || !res.Degraded[0]) {
		s.cache.Add(query, q)
	}
	return q, nil
}

func (s *Service) recent(ctx context.Context, user string) []rag.Turn {
	if s.history == nil || s.config.HistoryTurns == 0 {
		return nil
	}
	turns, err := s.history.Recent(user, s.config.HistoryTurns)
	if err != nil {
		s.logger.Warn(ctx, "loading chat history failed", zap.Error(err))
		return nil
	}
	return turns
}
