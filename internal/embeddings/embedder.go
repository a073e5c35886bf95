package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// Embedder owns one dense and one sparse provider and produces both vector
// kinds for chunks or a query. Failed batches never abort a call: their
// items get zero (dense) or empty (sparse) vectors and a degraded flag.
type Embedder struct {
	dense     DenseProvider
	sparse    SparseProvider
	batchSize int
	model     string
	metrics   *Metrics
	logger    *zap.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Embedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Embedder) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithModelName sets the model label used in metrics.
func WithModelName(model string) Option {
	return func(e *Embedder) { e.model = model }
}

// NewEmbedder wires the providers. The Embedder does not take ownership;
// callers close the providers.
func NewEmbedder(dense DenseProvider, sparse SparseProvider, maxBatchSize int, opts ...Option) (*Embedder, error) {
	if dense == nil || sparse == nil {
		return nil, fmt.Errorf("%w: dense and sparse providers are required", ErrInvalidConfig)
	}
	if maxBatchSize <= 0 {
		return nil, fmt.Errorf("%w: max batch size must be > 0", ErrInvalidConfig)
	}
	e := &Embedder{
		dense:     dense,
		sparse:    sparse,
		batchSize: maxBatchSize,
		model:     "unknown",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(e.logger)
	}
	return e, nil
}

// Dimension returns the dense vector size.
func (e *Embedder) Dimension() int {
	return e.dense.Dimension()
}

// DenseResult is positionally aligned with the non-empty input texts.
type DenseResult struct {
	Vectors  [][]float32
	Degraded []bool
}

// SparseResult is positionally aligned with the non-empty input texts.
type SparseResult struct {
	Vectors  []rag.SparseVector
	Degraded []bool
}

func nonEmpty(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

func batches(n, size int, fn func(lo, hi int)) {
	for lo := 0; lo < n; lo += size {
		fn(lo, min(lo+size, n))
	}
}

// EmbedDense embeds the non-empty texts in batches.
func (e *Embedder) EmbedDense(ctx context.Context, texts []string) DenseResult {
	filtered := nonEmpty(texts)
	res := DenseResult{
		Vectors:  make([][]float32, 0, len(filtered)),
		Degraded: make([]bool, 0, len(filtered)),
	}
	dim := e.dense.Dimension()

	batches(len(filtered), e.batchSize, func(lo, hi int) {
		batch := filtered[lo:hi]
		start := time.Now()
		vecs, err := e.dense.EmbedDocuments(ctx, batch)
		if err == nil {
			err = checkDense(vecs, len(batch), dim)
		}
		e.metrics.RecordGeneration(ctx, e.model, "embed_dense", time.Since(start), len(batch), err)

		if err != nil {
			e.logger.Warn("dense batch failed, substituting zero vectors",
				zap.Int("offset", lo), zap.Int("size", len(batch)), zap.Error(err))
			e.metrics.RecordDegraded(ctx, kindDense, len(batch))
			for range batch {
				res.Vectors = append(res.Vectors, make([]float32, dim))
				res.Degraded = append(res.Degraded, true)
			}
			return
		}
		for _, v := range vecs {
			res.Vectors = append(res.Vectors, v)
			res.Degraded = append(res.Degraded, false)
		}
	})
	return res
}

func checkDense(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), want)
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), dim)
		}
	}
	return nil
}

// EmbedSparse embeds the non-empty texts in batches.
func (e *Embedder) EmbedSparse(ctx context.Context, texts []string) SparseResult {
	filtered := nonEmpty(texts)
	res := SparseResult{
		Vectors:  make([]rag.SparseVector, 0, len(filtered)),
		Degraded: make([]bool, 0, len(filtered)),
	}

	batches(len(filtered), e.batchSize, func(lo, hi int) {
		batch := filtered[lo:hi]
		start := time.Now()
		vecs, err := e.sparse.EmbedSparse(ctx, batch)
		if err == nil {
			err = checkSparse(vecs, len(batch))
		}
		e.metrics.RecordGeneration(ctx, "sparse", "embed_sparse", time.Since(start), len(batch), err)

		if err != nil {
			e.logger.Warn("sparse batch failed, substituting empty vectors",
				zap.Int("offset", lo), zap.Int("size", len(batch)), zap.Error(err))
			e.metrics.RecordDegraded(ctx, kindSparse, len(batch))
			for range batch {
				res.Vectors = append(res.Vectors, rag.SparseVector{Indices: []uint32{}, Values: []float32{}})
				res.Degraded = append(res.Degraded, true)
			}
			return
		}
		res.Vectors = append(res.Vectors, vecs...)
		for range vecs {
			res.Degraded = append(res.Degraded, false)
		}
	})
	return res
}

// checkSparse rejects a batch the store would refuse: a count mismatch, or
// any vector with unequal lengths or repeated indices.
func checkSparse(vecs []rag.SparseVector, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d sparse vectors for %d texts", ErrEmbeddingFailed, len(vecs), want)
	}
	for i, v := range vecs {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: sparse vector %d: %v", ErrEmbeddingFailed, i, err)
		}
	}
	return nil
}

// ProcessResult holds aligned dense, sparse, payload and degraded slices.
// In query mode Payloads is empty and the vector slices hold one element.
type ProcessResult struct {
	Dense    [][]float32
	Sparse   []rag.SparseVector
	Payloads []rag.Payload
	Degraded []bool
}

// Embedded zips the chunk-mode slices into embedded chunks.
func (r ProcessResult) Embedded() []rag.EmbeddedChunk {
	out := make([]rag.EmbeddedChunk, len(r.Payloads))
	for i := range r.Payloads {
		out[i] = rag.EmbeddedChunk{
			Dense:    r.Dense[i],
			Sparse:   r.Sparse[i],
			Payload:  r.Payloads[i],
			Degraded: r.Degraded[i],
		}
	}
	return out
}

// DegradedCount returns how many items carry a substituted vector.
func (r ProcessResult) DegradedCount() int {
	n := 0
	for _, d := range r.Degraded {
		if d {
			n++
		}
	}
	return n
}

// Process embeds chunks when any are given, otherwise the query. Empty
// input of both kinds yields an empty result. Blank chunks are dropped
// before embedding. The only error is context cancellation.
func (e *Embedder) Process(ctx context.Context, chunks []rag.Chunk, query string) (ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return ProcessResult{}, err
	}

	var res ProcessResult
	switch {
	case len(chunks) > 0:
		res = e.processChunks(ctx, chunks)
	case strings.TrimSpace(query) != "":
		res = e.processQuery(ctx, query)
	default:
		return ProcessResult{}, nil
	}

	if err := ctx.Err(); err != nil {
		return ProcessResult{}, err
	}
	return res, nil
}

func (e *Embedder) processChunks(ctx context.Context, chunks []rag.Chunk) ProcessResult {
	texts := make([]string, 0, len(chunks))
	payloads := make([]rag.Payload, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Content) == "" {
			continue
		}
		texts = append(texts, ch.Content)
		payloads = append(payloads, rag.Payload{Content: ch.Content, Metadata: ch.Metadata})
	}
	if dropped := len(chunks) - len(texts); dropped > 0 {
		e.logger.Info("dropped blank chunks before embedding", zap.Int("dropped", dropped))
	}

	dense := e.EmbedDense(ctx, texts)
	sparse := e.EmbedSparse(ctx, texts)

	degraded := make([]bool, len(texts))
	for i := range degraded {
		degraded[i] = dense.Degraded[i] || sparse.Degraded[i]
	}
	return ProcessResult{
		Dense:    dense.Vectors,
		Sparse:   sparse.Vectors,
		Payloads: payloads,
		Degraded: degraded,
	}
}

func (e *Embedder) processQuery(ctx context.Context, query string) ProcessResult {
	dim := e.dense.Dimension()
	degraded := false

	start := time.Now()
	vec, err := e.dense.EmbedQuery(ctx, query)
	if err == nil && dim > 0 && len(vec) != dim {
		err = fmt.Errorf("%w: query vector has dimension %d, want %d", ErrEmbeddingFailed, len(vec), dim)
	}
	e.metrics.RecordGeneration(ctx, e.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		e.logger.Warn("query embedding failed, substituting zero vector", zap.Error(err))
		e.metrics.RecordDegraded(ctx, kindDense, 1)
		vec = make([]float32, dim)
		degraded = true
	}

	sparse := e.EmbedSparse(ctx, []string{query})
	return ProcessResult{
		Dense:    [][]float32{vec},
		Sparse:   sparse.Vectors,
		Degraded: []bool{degraded || sparse.Degraded[0]},
	}
}
