package embeddings

import (
	"context"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// DefaultBM25K1 is the usual BM25 term-frequency saturation constant.
const DefaultBM25K1 = 1.2

type tokenAnalyzer interface {
	Analyze(input []byte) analysis.TokenStream
}

// BM25Encoder produces sparse vectors locally. Terms come from bleve's
// English analyzer (lowercase, stop words, stemming) and are hashed into
// the uint32 index space; weights are saturated term frequencies. The encoder
// keeps no corpus statistics: the vector store is configured to apply IDF at
// query time for this provider (see SparseConfig.NeedsIDF).
type BM25Encoder struct {
	analyzer tokenAnalyzer
	k1       float64
}

// NewBM25Encoder creates an encoder with the given saturation constant.
func NewBM25Encoder(k1 float64) (*BM25Encoder, error) {
	if k1 <= 0 {
		k1 = DefaultBM25K1
	}
	cache := registry.NewCache()
	analyzer, err := cache.AnalyzerNamed(en.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("loading %s analyzer: %w", en.AnalyzerName, err)
	}
	return &BM25Encoder{analyzer: analyzer, k1: k1}, nil
}

// Encode returns the sparse vector for one text, indices ascending.
func (e *BM25Encoder) Encode(text string) rag.SparseVector {
	counts := make(map[uint32]float64)
	for _, tok := range e.analyzer.Analyze([]byte(text)) {
		if len(tok.Term) == 0 {
			continue
		}
		counts[uint32(xxhash.Sum64(tok.Term))]++
	}

	sv := rag.SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		sv.Indices = append(sv.Indices, idx)
	}
	sort.Slice(sv.Indices, func(i, j int) bool { return sv.Indices[i] < sv.Indices[j] })
	for _, idx := range sv.Indices {
		tf := counts[idx]
		sv.Values = append(sv.Values, float32(tf*(e.k1+1)/(tf+e.k1)))
	}
	return sv
}

// EmbedSparse encodes every text.
func (e *BM25Encoder) EmbedSparse(ctx context.Context, texts []string) ([]rag.SparseVector, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([]rag.SparseVector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.Encode(text)
	}
	return out, nil
}

// Close is a no-op.
func (e *BM25Encoder) Close() error {
	return nil
}
