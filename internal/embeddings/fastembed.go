//go:build cgo

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	defaultFastEmbedMaxLength = 512
	fastEmbedBatchSize        = 256
)

var errProviderClosed = errors.New("fastembed: provider closed")

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model is a hub name (BAAI/bge-small-en-v1.5) or a FastEmbed name
	// (fast-bge-small-en-v1.5).
	Model string

	// CacheDir holds downloaded model files. Defaults to ./local_cache.
	CacheDir string

	MaxLength int
}

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-small-en":      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-bge-base-en":       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5": fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// FastEmbedProvider runs a local ONNX model loaded once at construction.
// Embedding calls share the model; Close waits for them.
type FastEmbedProvider struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dimension int
}

// NewFastEmbedProvider downloads the model if needed and loads it.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	name, dimension, ok := resolveLocalModel(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q", ErrInvalidConfig, cfg.Model)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".", "local_cache")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultFastEmbedMaxLength
	}

	quiet := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastEmbedModels[name],
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.Model, err)
	}
	return &FastEmbedProvider{model: model, dimension: dimension}, nil
}

func (p *FastEmbedProvider) run(ctx context.Context, fn func(*fastembed.FlagEmbedding) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return errProviderClosed
	}
	if err := fn(p.model); err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return nil
}

// EmbedDocuments embeds passages.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	var out [][]float32
	err := p.run(ctx, func(m *fastembed.FlagEmbedding) (err error) {
		out, err = m.PassageEmbed(texts, fastEmbedBatchSize)
		return err
	})
	return out, err
}

// EmbedQuery embeds text with the model's query prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	var out []float32
	err := p.run(ctx, func(m *fastembed.FlagEmbedding) (err error) {
		out, err = m.QueryEmbed(text)
		return err
	})
	return out, err
}

func (p *FastEmbedProvider) Dimension() int { return p.dimension }

// Close releases the ONNX session. Later calls fail.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
