package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// DenseProvider produces fixed-length dense vectors.
type DenseProvider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the output dimensionality of the model.
	Dimension() int
	Close() error
}

// SparseProvider produces term-weighted sparse vectors.
type SparseProvider interface {
	EmbedSparse(ctx context.Context, texts []string) ([]rag.SparseVector, error)
	Close() error
}

// DenseConfig selects and configures the dense provider.
type DenseConfig struct {
	// Provider is "fastembed", "tei" or "hash".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`

	// BaseURL is the TEI URL (tei only).
	BaseURL string `koanf:"base_url"`

	// CacheDir is the model cache directory (fastembed only).
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`

	// Dimension overrides the dimension inferred from the model name.
	Dimension int `koanf:"dimension"`
}

// SparseConfig selects and configures the sparse provider.
type SparseConfig struct {
	// Provider is "bm25" or "tei".
	Provider string `koanf:"provider"`

	// BaseURL is the TEI URL serving a sparse model (tei only).
	BaseURL string `koanf:"base_url"`

	// K1 is the BM25 term-frequency saturation (bm25 only).
	K1 float64 `koanf:"k1"`
}

// NeedsIDF reports whether the provider emits raw term frequencies that the
// store must weight by IDF. Learned sparse models already carry term weights.
func (c SparseConfig) NeedsIDF() bool {
	return c.Provider == "bm25"
}

// Config holds the embedding section.
type Config struct {
	Dense        DenseConfig  `koanf:"dense"`
	Sparse       SparseConfig `koanf:"sparse"`
	MaxBatchSize int          `koanf:"max_batch_size"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Dense.Provider == "" {
		c.Dense.Provider = "fastembed"
	}
	if c.Dense.Model == "" {
		c.Dense.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Sparse.Provider == "" {
		c.Sparse.Provider = "bm25"
	}
	if c.Sparse.K1 == 0 {
		c.Sparse.K1 = DefaultBM25K1
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 32
	}
}

// Validate checks the embedding section.
func (c Config) Validate() error {
	switch c.Dense.Provider {
	case "fastembed", "hash":
	case "tei":
		if c.Dense.BaseURL == "" {
			return fmt.Errorf("%w: dense.base_url required for tei", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown dense provider %q", ErrInvalidConfig, c.Dense.Provider)
	}
	switch c.Sparse.Provider {
	case "bm25":
		if c.Sparse.K1 < 0 {
			return fmt.Errorf("%w: sparse.k1 must be >= 0", ErrInvalidConfig)
		}
	case "tei":
		if c.Sparse.BaseURL == "" {
			return fmt.Errorf("%w: sparse.base_url required for tei", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sparse provider %q", ErrInvalidConfig, c.Sparse.Provider)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max_batch_size must be > 0", ErrInvalidConfig)
	}
	return nil
}

// detectDimensionFromModel returns the embedding dimension for a model name,
// falling back to 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// NewDenseProvider creates the configured dense provider.
func NewDenseProvider(cfg DenseConfig) (DenseProvider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:     cfg.Model,
			CacheDir:  cfg.CacheDir,
			MaxLength: cfg.MaxLength,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		dim := cfg.Dimension
		if dim == 0 {
			dim = detectDimensionFromModel(cfg.Model)
		}
		svc, err := NewTEIService(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}, dim)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case "hash":
		p, err := NewHashProvider(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown dense provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// NewSparseProvider creates the configured sparse provider.
func NewSparseProvider(cfg SparseConfig) (SparseProvider, error) {
	switch cfg.Provider {
	case "bm25", "":
		enc, err := NewBM25Encoder(cfg.K1)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case "tei":
		svc, err := NewTEISparseService(TEIConfig{BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: unknown sparse provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
