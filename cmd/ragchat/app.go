package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragchat/internal/chunker"
	"github.com/fyrsmithlabs/ragchat/internal/config"
	"github.com/fyrsmithlabs/ragchat/internal/converter"
	"github.com/fyrsmithlabs/ragchat/internal/embeddings"
	"github.com/fyrsmithlabs/ragchat/internal/events"
	"github.com/fyrsmithlabs/ragchat/internal/generation"
	"github.com/fyrsmithlabs/ragchat/internal/history"
	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/query"
	"github.com/fyrsmithlabs/ragchat/internal/scrub"
	"github.com/fyrsmithlabs/ragchat/internal/telemetry"
	"github.com/fyrsmithlabs/ragchat/internal/vectorstore"
)

// appOptions tune buildApp for the command being run.
type appOptions struct {
	// logToStderr keeps stdout free for stdio protocols and the TUI.
	logToStderr bool

	// quiet raises the log level to at least warn.
	quiet bool

	// indexOnly skips the generation model, history and query service.
	indexOnly bool
}

// app holds every long-lived dependency. Resources are released in reverse
// order of acquisition by Close.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	store     vectorstore.Gateway
	indexer   *indexing.Orchestrator
	asker     *query.Service
	publisher events.Publisher
	history   *history.Store

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases resources in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildApp constructs every component once. On failure everything acquired
// so far is released.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, err
	}
	a.onClose("telemetry", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(shutdownCtx)
	})

	a.logger, err = newLogger(cfg, opts, a.telemetry)
	if err != nil {
		return nil, err
	}
	a.onClose("logger", a.logger.Sync)
	for _, reason := range a.telemetry.Health().Reasons {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}
	zl := a.logger.Underlying()

	dense, err := embeddings.NewDenseProvider(cfg.Embedding.Dense)
	if err != nil {
		return nil, fmt.Errorf("dense embeddings: %w", err)
	}
	a.onClose("dense provider", dense.Close)

	sparse, err := embeddings.NewSparseProvider(cfg.Embedding.Sparse)
	if err != nil {
		return nil, fmt.Errorf("sparse embeddings: %w", err)
	}
	a.onClose("sparse provider", sparse.Close)

	embedder, err := embeddings.NewEmbedder(dense, sparse, cfg.Embedding.MaxBatchSize,
		embeddings.WithLogger(zl.Named("embeddings")),
		embeddings.WithMetrics(embeddings.NewMetrics(zl)),
		embeddings.WithModelName(cfg.Embedding.Dense.Model),
	)
	if err != nil {
		return nil, err
	}

	storeCfg, err := vectorStoreConfig(cfg, embedder.Dimension())
	if err != nil {
		return nil, err
	}
	a.store, err = vectorstore.NewGateway(storeCfg, zl.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	a.onClose("vector store", a.store.Close)
	if err := a.store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	router, err := newRouter(cfg, zl)
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.New(cfg.Chunking, zl.Named("chunker"))
	if err != nil {
		return nil, err
	}

	var scrubber indexing.Scrubber
	if cfg.Scrub.Enabled {
		redactor, err := scrub.New(cfg.Scrub, zl.Named("scrub"))
		if err != nil {
			return nil, fmt.Errorf("secret scrubber: %w", err)
		}
		scrubber = redactor
	}

	a.publisher, err = events.New(events.Config{Enabled: cfg.Events.Enabled, URL: cfg.Events.URL}, zl.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	a.onClose("events", a.publisher.Close)

	a.indexer, err = indexing.New(indexing.Config{
		RawPath:            cfg.Indexing.RawPath,
		ConvertPath:        cfg.Indexing.ConvertPath,
		StatePath:          cfg.Indexing.StatePath,
		Extensions:         cfg.Indexing.Extensions,
		ConvertConcurrency: cfg.Converter.Concurrency,
	}, indexing.Deps{
		Converter: router,
		Chunker:   chunks,
		Scrubber:  scrubber,
		Embedder:  embedder,
		Store:     a.store,
		Publisher: a.publisher,
		Metrics:   indexing.NewMetrics(zl),
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	if !opts.indexOnly {
		if err := a.buildQuery(ctx, cfg, embedder, zl); err != nil {
			return nil, err
		}
	}

	a.logger.Info(ctx, "ragchat ready",
		zap.String("vectorstore", storeCfg.Provider),
		zap.String("collection", storeCfg.Collection),
		zap.Int("vector_size", storeCfg.VectorSize),
		zap.Strings("extensions", router.Extensions()),
		zap.Bool("query", a.asker != nil),
		zap.Bool("history", a.history != nil),
		zap.Bool("events", cfg.Events.Enabled),
	)
	return a, nil
}

func (a *app) buildQuery(ctx context.Context, cfg *config.Config, embedder query.Embedder, zl *zap.Logger) error {
	gen, err := generation.New(generation.Config{
		Model:       cfg.Generation.Model,
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey.Value(),
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		RateLimit:   cfg.Generation.RateLimit,
		Burst:       cfg.Generation.Burst,
	}, zl.Named("generation"))
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	a.logger.Debug(ctx, "generation configured",
		zap.String("model", cfg.Generation.Model),
		zap.String("base_url", cfg.Generation.BaseURL),
		logging.Secret("api_key", cfg.Generation.APIKey),
	)

	deps := query.Deps{
		Embedder:  embedder,
		Retriever: a.store,
		Generator: gen,
		Logger:    a.logger,
	}
	if cfg.History.Enabled {
		a.history, err = history.Open(cfg.History.Path, cfg.History.MaxTurns)
		if err != nil {
			return err
		}
		a.onClose("history", a.history.Close)
		deps.History = a.history
	}

	a.asker, err = query.New(query.Config{
		TopK:         cfg.Retrieval.TopK,
		CacheSize:    cfg.Retrieval.CacheSize,
		HistoryTurns: cfg.Retrieval.HistoryTurns,
	}, deps)
	return err
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.Insecure = cfg.Telemetry.Insecure
	tc.SampleRate = cfg.Telemetry.SampleRate
	if strings.HasPrefix(cfg.Telemetry.Endpoint, "http") {
		tc.Protocol = telemetry.ProtocolHTTP
	}
	return tc
}

func newLogger(cfg *config.Config, opts appOptions, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if opts.quiet {
		level = max(level, zapcore.WarnLevel)
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = cfg.Logging.OTEL
	lc.Output.Stderr = opts.logToStderr

	logger, err := logging.NewLogger(lc, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}

func vectorStoreConfig(cfg *config.Config, dim int) (vectorstore.Config, error) {
	vc := vectorstore.Config{
		Provider:      cfg.VectorStore.Provider,
		Collection:    cfg.VectorStore.Collection,
		VectorSize:    dim,
		PrefetchLimit: cfg.VectorStore.PrefetchLimit,
		SparseIDF:     cfg.Embedding.Sparse.NeedsIDF(),
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		},
	}
	if vc.Provider == vectorstore.ProviderQdrant {
		host, port, useTLS, err := cfg.Qdrant.Endpoint()
		if err != nil {
			return vc, err
		}
		vc.Qdrant = vectorstore.QdrantConfig{
			Host:           host,
			Port:           port,
			APIKey:         cfg.Qdrant.APIKey.Value(),
			UseTLS:         useTLS,
			MaxMessageSize: cfg.Qdrant.MaxMessageSize,
		}
	}
	return vc, nil
}

// newRouter registers Markdown and CSV always, and PDF and DOCX when a
// docling-serve URL is configured.
func newRouter(cfg *config.Config, logger *zap.Logger) (*converter.Router, error) {
	router := converter.NewRouter(logger.Named("converter"))
	router.Handle(".md", converter.Markdown{})
	router.Handle(".csv", converter.CSV{})

	if cfg.Converter.DoclingURL == "" {
		logger.Warn("no docling url configured, pdf and docx uploads will not convert")
		return router, nil
	}
	docling, err := converter.NewDocling(converter.DoclingConfig{
		BaseURL: cfg.Converter.DoclingURL,
		Timeout: cfg.Converter.Timeout.Duration(),
		OCR:     cfg.Converter.OCR,
	})
	if err != nil {
		return nil, fmt.Errorf("docling: %w", err)
	}
	router.Handle(".pdf", docling)
	router.Handle(".docx", docling)
	return router, nil
}
