// Package generation produces answers from retrieved context with an LLM.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var tracer = otel.Tracer("ragchat.generation")

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid generation configuration")

const (
	systemPrompt  = "You are an expert at AI. Your name is ChatAI. Use the retrieved information to answer accurately."
	userTemplate  = "Retrieved info: %s\n\nUser query: %s"
	noInfoMessage = "No relevant information found."
)

// Config configures the OpenAI-compatible chat model.
type Config struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int

	// RateLimit is requests per second; Burst the bucket size.
	RateLimit float64
	Burst     int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0, 2], got %v", ErrInvalidConfig, c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	}
	if c.RateLimit <= 0 || c.Burst <= 0 {
		return fmt.Errorf("%w: rate limit and burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// Result is a generated answer. Failed answers carry "Error: <msg>" text.
type Result struct {
	Response string
	Failed   bool
}

// Service generates answers.
type Service struct {
	llm     llms.Model
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Service over an OpenAI-compatible endpoint.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewWithModel(llm, cfg, logger)
}

// NewWithModel creates a Service over any langchaingo model.
func NewWithModel(llm llms.Model, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		llm:     llm,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
	}, nil
}

// Generate returns the answer text. Failures are folded into the text.
func (s *Service) Generate(ctx context.Context, query string, history []rag.Turn, retrieved []rag.Payload) string {
	return s.GenerateResult(ctx, query, history, retrieved).Response
}

// GenerateResult answers query from the retrieved payloads and prior turns.
// It never returns an error: a failed call yields Failed with "Error: <msg>".
func (s *Service) GenerateResult(ctx context.Context, query string, history []rag.Turn, retrieved []rag.Payload) Result {
	ctx, span := tracer.Start(ctx, "Service.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", s.config.Model),
		attribute.Int("history_turns", len(history)),
		attribute.Int("retrieved", len(retrieved)),
	)

	fail := func(err error) Result {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("generation failed", zap.Error(err))
		return Result{Response: "Error: " + err.Error(), Failed: true}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fail(fmt.Errorf("rate limiter: %w", err))
	}

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, BuildMessages(query, history, retrieved),
		llms.WithTemperature(s.config.Temperature),
		llms.WithMaxTokens(s.config.MaxTokens),
	)
	if err != nil {
		return fail(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return fail(errors.New("empty response from model"))
	}

	s.logger.Debug("generated response",
		zap.String("model", s.config.Model),
		zap.Duration("duration", time.Since(start)),
	)
	span.SetStatus(codes.Ok, "success")
	return Result{Response: resp.Choices[0].Content}
}

// BuildMessages lays out the system prompt, the history as alternating
// human/AI messages, and the final human message carrying the context.
func BuildMessages(query string, history []rag.Turn, retrieved []rag.Payload) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2+2*len(history))
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	for _, t := range history {
		msgs = append(msgs,
			llms.TextParts(llms.ChatMessageTypeHuman, t.Query),
			llms.TextParts(llms.ChatMessageTypeAI, t.Response),
		)
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman,
		fmt.Sprintf(userTemplate, FormatRetrieved(retrieved), query)))
	return msgs
}

// FormatRetrieved renders payloads as "Content: ...\nMetadata: ..." lines.
func FormatRetrieved(retrieved []rag.Payload) string {
	if len(retrieved) == 0 {
		return noInfoMessage
	}
	lines := make([]string, 0, len(retrieved))
	for _, p := range retrieved {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			meta = []byte("N/A")
		}
		lines = append(lines, fmt.Sprintf("Content: %s\nMetadata: %s", p.Content, meta))
	}
	return strings.Join(lines, "\n")
}
