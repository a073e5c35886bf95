package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Named vectors on every point.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// DefaultPrefetchLimit is how many candidates each modality contributes
// before fusion.
const DefaultPrefetchLimit = 20

// Gateway is the vector store contract used by the orchestrators.
type Gateway interface {
	// EnsureCollection creates the collection if absent. Safe to call
	// concurrently and repeatedly.
	EnsureCollection(ctx context.Context) error

	// Insert upserts every point in one batch under fresh ids and waits for
	// the write to be durable. It returns the number of points written.
	Insert(ctx context.Context, points []rag.EmbeddedChunk) (int, error)

	// Query runs a hybrid search and returns at most q.TopK points.
	Query(ctx context.Context, q HybridQuery) ([]rag.ScoredPoint, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// HybridQuery is one retrieval request.
type HybridQuery struct {
	Dense  []float32
	Sparse rag.SparseVector
	Filter rag.Filter
	TopK   int
}

// Validate checks the query against the collection's dense size.
func (q HybridQuery) Validate(vectorSize int) error {
	if q.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", rag.ErrValidation, q.TopK)
	}
	if len(q.Dense) != vectorSize {
		return fmt.Errorf("%w: query vector has dimension %d, collection expects %d", rag.ErrValidation, len(q.Dense), vectorSize)
	}
	return q.Sparse.Validate()
}

// candidateLimit is how many candidates each prefetch and the fusion stage
// keep. It never drops below TopK so a query can return every match.
func candidateLimit(prefetch, topK int) int {
	return max(prefetch, topK)
}

// validatePoints rejects a batch before anything is sent.
func validatePoints(points []rag.EmbeddedChunk, vectorSize int) error {
	for i, p := range points {
		if len(p.Dense) != vectorSize {
			return fmt.Errorf("%w: point %d has dense dimension %d, collection expects %d", rag.ErrValidation, i, len(p.Dense), vectorSize)
		}
		if err := p.Sparse.Validate(); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	return nil
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName accepts lowercase letters, digits and underscores,
// 1 to 64 characters.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
