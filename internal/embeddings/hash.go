package embeddings

import (
	"context"
	"fmt"
	"math"

	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/cespare/xxhash/v2"
)

// DefaultHashDimension is the HashProvider output size when none is set.
const DefaultHashDimension = 384

// HashProvider is a dense provider that needs no model: analyzed terms are
// feature-hashed into a signed bag-of-words vector and L2-normalized. It is
// meant for offline development and tests, not for semantic quality.
type HashProvider struct {
	analyzer  tokenAnalyzer
	dimension int
}

// NewHashProvider creates a HashProvider producing vectors of dimension.
func NewHashProvider(dimension int) (*HashProvider, error) {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	analyzer, err := registry.NewCache().AnalyzerNamed(en.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("loading %s analyzer: %w", en.AnalyzerName, err)
	}
	return &HashProvider{analyzer: analyzer, dimension: dimension}, nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, tok := range p.analyzer.Analyze([]byte(text)) {
		if len(tok.Term) == 0 {
			continue
		}
		h := xxhash.Sum64(tok.Term)
		sign := float32(1)
		if h>>63 == 1 {
			sign = -1
		}
		vec[h%uint64(p.dimension)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// EmbedDocuments implements DenseProvider.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedQuery implements DenseProvider.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

// Dimension implements DenseProvider.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}
