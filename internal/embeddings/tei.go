package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// TEIConfig addresses a text-embeddings-inference server.
type TEIConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

type teiClient struct {
	config TEIConfig
	client *http.Client
}

func newTEIClient(cfg TEIConfig) (*teiClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &teiClient{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

func (c *teiClient) post(ctx context.Context, path string, inputs interface{}, out interface{}) error {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// TEIService is a dense provider backed by TEI's /embed endpoint.
type TEIService struct {
	tei       *teiClient
	dimension int
	metrics   *Metrics
}

// NewTEIService creates a TEI dense provider producing vectors of dimension.
func NewTEIService(cfg TEIConfig, dimension int) (*TEIService, error) {
	tei, err := newTEIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &TEIService{
		tei:       tei,
		dimension: dimension,
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *TEIService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.tei.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	var vectors [][]float32
	if genErr = s.tei.post(ctx, "/embed", texts, &vectors); genErr != nil {
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *TEIService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.tei.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	var vectors [][]float32
	if genErr = s.tei.post(ctx, "/embed", text, &vectors); genErr != nil {
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension returns the configured dimension.
func (s *TEIService) Dimension() int {
	return s.dimension
}

// Close is a no-op since TEI is reached over HTTP.
func (s *TEIService) Close() error {
	return nil
}

// teiSparseValue is one entry of an /embed_sparse response.
type teiSparseValue struct {
	Index uint32  `json:"index"`
	Value float32 `json:"value"`
}

// TEISparseService is a sparse provider backed by TEI's /embed_sparse
// endpoint (SPLADE-style models).
type TEISparseService struct {
	tei *teiClient
}

// NewTEISparseService creates a TEI sparse provider.
func NewTEISparseService(cfg TEIConfig) (*TEISparseService, error) {
	tei, err := newTEIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &TEISparseService{tei: tei}, nil
}

// EmbedSparse generates one sparse vector per text.
func (s *TEISparseService) EmbedSparse(ctx context.Context, texts []string) ([]rag.SparseVector, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var raw [][]teiSparseValue
	if err := s.tei.post(ctx, "/embed_sparse", texts, &raw); err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: got %d sparse vectors for %d texts", ErrEmbeddingFailed, len(raw), len(texts))
	}

	out := make([]rag.SparseVector, len(raw))
	for i, entries := range raw {
		sv := rag.SparseVector{
			Indices: make([]uint32, 0, len(entries)),
			Values:  make([]float32, 0, len(entries)),
		}
		for _, e := range entries {
			sv.Indices = append(sv.Indices, e.Index)
			sv.Values = append(sv.Values, e.Value)
		}
		if err := sv.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		out[i] = sv
	}
	return out, nil
}

// Close is a no-op since TEI is reached over HTTP.
func (s *TEISparseService) Close() error {
	return nil
}
