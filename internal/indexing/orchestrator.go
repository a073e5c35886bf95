// Package indexing runs the convert, chunk, embed and store pipeline over
// the raw document folder, incrementally.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/embeddings"
	"github.com/fyrsmithlabs/ragchat/internal/events"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/rag"
	"github.com/fyrsmithlabs/ragchat/internal/state"
)

var tracer = otel.Tracer("ragchat.indexing")

// Converter converts named raw files into Markdown files in outDir.
type Converter interface {
	ConvertFolder(ctx context.Context, srcDir string, names []string, outDir string, concurrency int) ([]string, error)
}

// Chunker chunks named Markdown files in dir.
type Chunker interface {
	ChunkFiles(dir string, names []string) ([]rag.Chunk, error)
}

// Scrubber redacts secrets from chunk content.
type Scrubber interface {
	RedactChunks(chunks []rag.Chunk) ([]rag.Chunk, int)
}

// Embedder embeds chunks.
type Embedder interface {
	Process(ctx context.Context, chunks []rag.Chunk, query string) (embeddings.ProcessResult, error)
}

// Store persists embedded chunks.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Insert(ctx context.Context, points []rag.EmbeddedChunk) (int, error)
}

// Config locates the folders and state file.
type Config struct {
	// RawPath holds uploaded source documents.
	RawPath string

	// ConvertPath receives the converted Markdown.
	ConvertPath string

	// StatePath is the fingerprint JSON file.
	StatePath string

	// Extensions limits which raw files are tracked, e.g. ".pdf".
	Extensions []string

	// ConvertConcurrency bounds parallel conversions.
	ConvertConcurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.RawPath == "" {
		c.RawPath = "data/raw"
	}
	if c.ConvertPath == "" {
		c.ConvertPath = "data/converted"
	}
	if c.StatePath == "" {
		c.StatePath = "data/state/fingerprint.json"
	}
	if c.ConvertConcurrency == 0 {
		c.ConvertConcurrency = 4
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ConvertConcurrency < 1 {
		return fmt.Errorf("%w: convert concurrency must be >= 1, got %d", rag.ErrValidation, c.ConvertConcurrency)
	}
	if filepath.Clean(c.RawPath) == filepath.Clean(c.ConvertPath) {
		return fmt.Errorf("%w: raw and convert paths must differ", rag.ErrValidation)
	}
	return nil
}

// Result summarizes one run.
type Result struct {
	RunID    string
	State    State
	Files    []string
	Chunks   int
	Stored   int
	Degraded int
	NoOp     bool
	Duration time.Duration
}

// Deps are the collaborators of an Orchestrator. Scrubber, Publisher and
// Metrics are optional.
type Deps struct {
	Converter Converter
	Chunker   Chunker
	Scrubber  Scrubber
	Embedder  Embedder
	Store     Store
	Publisher events.Publisher
	Metrics   *Metrics
	Logger    *logging.Logger
}

// Orchestrator runs indexing.
type Orchestrator struct {
	config    Config
	tracker   *state.Tracker
	lock      *state.RunLock
	converter Converter
	chunker   Chunker
	scrubber  Scrubber
	embedder  Embedder
	store     Store
	publisher events.Publisher
	metrics   *Metrics
	logger    *logging.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Converter == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: converter, chunker, embedder and store are required", rag.ErrValidation)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}

	return &Orchestrator{
		config:    cfg,
		tracker:   state.NewTracker(deps.Logger.Underlying()),
		lock:      state.NewRunLock(cfg.StatePath),
		converter: deps.Converter,
		chunker:   deps.Chunker,
		scrubber:  deps.Scrubber,
		embedder:  deps.Embedder,
		store:     deps.Store,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("indexing"),
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// run tracks one execution's state.
type run struct {
	o      *Orchestrator
	id     string
	state  State
	result *Result
	span   trace.Span
}

func (r *run) transition(ctx context.Context, to State, count int, cause error) {
	from := r.state
	if err := checkTransition(from, to); err != nil {
		// Unreachable from Run; keep the run consistent by failing it.
		r.o.logger.Error(ctx, "state machine violation", zap.Error(err))
		to = StateFailed
	}
	r.state = to
	r.result.State = to
	r.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))

	fields := []zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
		r.o.logger.Error(ctx, "indexing run failed", fields...)
	} else {
		r.o.logger.Info(ctx, "indexing transition", fields...)
	}

	ev := events.RunEvent{
		RunID: r.id,
		State: string(to),
		From:  string(from),
		Files: r.result.Files,
		Count: count,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := r.o.publisher.Publish(ctx, ev); err != nil {
		r.o.logger.Warn(ctx, "publishing run event failed", zap.Error(err))
	}
}

func (r *run) fail(ctx context.Context, err error) (*Result, error) {
	// Publishing the failure must survive a cancelled run context.
	r.transition(context.WithoutCancel(ctx), StateFailed, 0, err)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	return r.result, err
}

// Run executes one incremental indexing run. Runs are serialized through
// the run lock. An unchanged folder yields a no-op DONE result without
// touching any collaborator.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	r := &run{
		o:      o,
		id:     runID,
		state:  StateIdle,
		result: &Result{RunID: runID, State: StateIdle},
		span:   span,
	}
	defer func() {
		r.result.Duration = time.Since(start)
		o.metrics.RecordRun(context.WithoutCancel(ctx), r.result)
	}()

	if err := o.lock.Lock(ctx); err != nil {
		return r.fail(ctx, err)
	}
	defer func() {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warn(ctx, "releasing run lock failed", zap.Error(err))
		}
	}()

	current, err := o.tracker.Compute(o.config.RawPath, o.config.Extensions...)
	if err != nil {
		return r.fail(ctx, err)
	}
	previous := o.tracker.LoadPrevious(o.config.StatePath)
	changed := state.Diff(current, previous)
	r.result.Files = changed

	if len(changed) == 0 {
		r.result.NoOp = true
		r.transition(ctx, StateDone, 0, nil)
		span.SetStatus(codes.Ok, "no changes")
		return r.result, nil
	}
	o.logger.Info(ctx, "changed files detected", zap.Strings("files", changed))

	r.transition(ctx, StateConverting, len(changed), nil)
	mdNames, err := o.converter.ConvertFolder(ctx, o.config.RawPath, changed, o.config.ConvertPath, o.config.ConvertConcurrency)
	if err != nil {
		return r.fail(ctx, err)
	}

	r.transition(ctx, StateChunking, len(mdNames), nil)
	chunks, err := o.chunker.ChunkFiles(o.config.ConvertPath, mdNames)
	if err != nil {
		return r.fail(ctx, err)
	}
	if o.scrubber != nil {
		var redacted int
		chunks, redacted = o.scrubber.RedactChunks(chunks)
		if redacted > 0 {
			o.logger.Warn(ctx, "redacted secrets from chunks", zap.Int("redactions", redacted))
		}
	}
	r.result.Chunks = len(chunks)

	r.transition(ctx, StateEmbedding, len(chunks), nil)
	embedded, err := o.embedder.Process(ctx, chunks, "")
	if err != nil {
		return r.fail(ctx, err)
	}
	points := embedded.Embedded()
	r.result.Degraded = embedded.DegradedCount()
	if r.result.Degraded > 0 {
		o.logger.Warn(ctx, "storing degraded embeddings", zap.Int("degraded", r.result.Degraded))
	}

	r.transition(ctx, StateStoring, len(points), nil)
	if err := o.store.EnsureCollection(ctx); err != nil {
		return r.fail(ctx, err)
	}
	stored, err := o.store.Insert(ctx, points)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.result.Stored = stored

	r.transition(ctx, StateDone, stored, nil)
	if err := o.tracker.Save(o.config.StatePath, current); err != nil {
		return r.fail(ctx, err)
	}

	span.SetAttributes(
		attribute.Int("files", len(changed)),
		attribute.Int("chunks", r.result.Chunks),
		attribute.Int("stored", stored),
	)
	span.SetStatus(codes.Ok, "success")
	return r.result, nil
}

// IndexUpload saves content as name in the raw folder and runs indexing.
func (o *Orchestrator) IndexUpload(ctx context.Context, name string, content io.Reader) (*Result, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: invalid file name", rag.ErrValidation)
	}
	if !o.Tracked(name) {
		return nil, fmt.Errorf("%w: %s", rag.ErrUnsupportedFormat, name)
	}

	if err := os.MkdirAll(o.config.RawPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", rag.ErrIO, o.config.RawPath, err)
	}
	dst := filepath.Join(o.config.RawPath, name)
	if err := writeFile(dst, content); err != nil {
		return nil, err
	}
	o.logger.Info(ctx, "saved upload", zap.String("path", dst))

	return o.Run(ctx)
}

// IndexFile copies the file at path into the raw folder and runs indexing.
func (o *Orchestrator) IndexFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", rag.ErrIO, path, err)
	}
	defer f.Close()
	return o.IndexUpload(ctx, filepath.Base(path), f)
}

// Tracked reports whether a raw file name has a tracked extension.
func (o *Orchestrator) Tracked(name string) bool {
	if len(o.config.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range o.config.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// writeFile writes content to a temp file beside dst and renames it over
// dst so a concurrent run never reads a partial upload.
func writeFile(dst string, content io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", rag.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing upload: %v", rag.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing upload: %v", rag.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("%w: saving upload: %v", rag.ErrIO, err)
	}
	return nil
}
