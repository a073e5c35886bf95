package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// Metadata keys that hold non-scalar values as JSON.
const (
	metaHeaderPath = "_header_path"
	metaSparse     = "_sparse"
	metaZeroDense  = "_zero_dense"
)

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted data.
	Compress bool
}

// ChromemGateway is an embedded Gateway backed by chromem-go. Dense vectors
// live in chromem; sparse vectors ride along in document metadata, and
// fusion runs in-process.
type ChromemGateway struct {
	db            *chromem.DB
	collection    string
	vectorSize    int
	prefetchLimit int
	sparseIDF     bool
	logger        *zap.Logger

	mu   sync.Mutex
	coll *chromem.Collection
}

// NewChromemGateway opens or creates the embedded database.
func NewChromemGateway(cfg Config, logger *zap.Logger) (*ChromemGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Chromem.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: expanding path: %v", rag.ErrStorage, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating directory %s: %v", rag.ErrStorage, path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Chromem.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", rag.ErrStorage, err)
		}
		logger.Info("chromem store initialized", zap.String("path", path))
	}

	return &ChromemGateway{
		db:            db,
		collection:    cfg.Collection,
		vectorSize:    cfg.VectorSize,
		prefetchLimit: cfg.PrefetchLimit,
		sparseIDF:     cfg.SparseIDF,
		logger:        logger,
	}, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding is installed as the collection's embedding func. Every
// document arrives with its vector, so reaching it is a bug.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem gateway requires precomputed embeddings")
}

func (g *ChromemGateway) getCollection() (*chromem.Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.coll != nil {
		return g.coll, nil
	}
	coll, err := g.db.GetOrCreateCollection(g.collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", rag.ErrStorage, g.collection, err)
	}
	g.coll = coll
	return coll, nil
}

// EnsureCollection creates the collection if absent.
func (g *ChromemGateway) EnsureCollection(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe("chromem", "ensure_collection", start, err) }()
	_, err = g.getCollection()
	return err
}

// Insert stores every point under a fresh id.
func (g *ChromemGateway) Insert(ctx context.Context, points []rag.EmbeddedChunk) (n int, err error) {
	start := time.Now()
	defer func() { observe("chromem", "insert", start, err) }()

	if len(points) == 0 {
		return 0, nil
	}
	if err = validatePoints(points, g.vectorSize); err != nil {
		return 0, err
	}
	coll, err := g.getCollection()
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		meta, encErr := encodeMetadata(p)
		if encErr != nil {
			err = fmt.Errorf("%w: encoding point %d: %v", rag.ErrStorage, i, encErr)
			return 0, err
		}
		docs[i] = chromem.Document{
			ID:        uuid.New().String(),
			Metadata:  meta,
			Embedding: safeEmbedding(p.Dense),
			Content:   p.Payload.Content,
		}
	}

	if err = coll.AddDocuments(ctx, docs, 1); err != nil {
		err = fmt.Errorf("%w: adding %d documents: %v", rag.ErrStorage, len(docs), err)
		return 0, err
	}

	PointsInserted.WithLabelValues("chromem").Add(float64(len(points)))
	return len(points), nil
}

// Query scans the collection, ranks the filtered points by dense and sparse
// similarity, fuses the two top-N lists with RRF and orders the fused
// candidates by dense score.
func (g *ChromemGateway) Query(ctx context.Context, q HybridQuery) (results []rag.ScoredPoint, err error) {
	start := time.Now()
	defer func() { observe("chromem", "query", start, err) }()

	if err = q.Validate(g.vectorSize); err != nil {
		return nil, err
	}
	coll, err := g.getCollection()
	if err != nil {
		return nil, err
	}
	total := coll.Count()
	if total == 0 {
		return nil, nil
	}

	denseUsable := !isZero(q.Dense)
	scan := q.Dense
	if !denseUsable {
		// Any non-zero vector lists every document; scores are discarded.
		scan = unitVector(g.vectorSize)
	}

	all, err := coll.QueryEmbedding(ctx, scan, total, nil, nil)
	if err != nil {
		err = fmt.Errorf("%w: querying %s: %v", rag.ErrStorage, g.collection, err)
		return nil, err
	}

	type candidate struct {
		payload rag.Payload
		dense   float32
		sparse  float32
	}
	type decoded struct {
		payload rag.Payload
		sparse  rag.SparseVector
	}
	docs := make([]decoded, len(all))
	valid := make([]bool, len(all))
	var corpus []rag.SparseVector
	for i, r := range all {
		payload, sparse, decErr := decodeMetadata(r.Content, r.Metadata)
		if decErr != nil {
			g.logger.Warn("skipping undecodable document", zap.String("id", r.ID), zap.Error(decErr))
			continue
		}
		docs[i], valid[i] = decoded{payload: payload, sparse: sparse}, true
		corpus = append(corpus, sparse)
	}

	terms := q.Sparse
	if g.sparseIDF {
		terms = weightIDF(q.Sparse, corpus)
	}

	candidates := make(map[string]candidate, len(all))
	var denseRank, sparseRank []string

	for i, r := range all {
		if !valid[i] || !q.Filter.Matches(docs[i].payload) {
			continue
		}
		c := candidate{payload: docs[i].payload, sparse: sparseDot(terms, docs[i].sparse)}
		if denseUsable && r.Metadata[metaZeroDense] == "" && !isNaN(r.Similarity) {
			c.dense = r.Similarity
			denseRank = append(denseRank, r.ID)
		}
		if c.sparse > 0 {
			sparseRank = append(sparseRank, r.ID)
		}
		candidates[r.ID] = c
	}

	// chromem already orders by dense similarity.
	sort.SliceStable(sparseRank, func(i, j int) bool {
		return candidates[sparseRank[i]].sparse > candidates[sparseRank[j]].sparse
	})

	limit := candidateLimit(g.prefetchLimit, q.TopK)
	fused := RRF(truncate(denseRank, limit), truncate(sparseRank, limit))
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results = make([]rag.ScoredPoint, 0, len(fused))
	for _, f := range fused {
		c := candidates[f.ID]
		results = append(results, rag.ScoredPoint{ID: f.ID, Score: c.dense, Payload: c.payload})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// Count returns the number of stored documents.
func (g *ChromemGateway) Count(ctx context.Context) (int, error) {
	coll, err := g.getCollection()
	if err != nil {
		return 0, err
	}
	return coll.Count(), nil
}

// Ping always succeeds for the embedded store.
func (g *ChromemGateway) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op; persistent writes are flushed per insert.
func (g *ChromemGateway) Close() error {
	return nil
}

func encodeMetadata(p rag.EmbeddedChunk) (map[string]string, error) {
	meta := p.Payload.Fields()
	delete(meta, rag.PayloadContent)

	path, err := json.Marshal(p.Payload.Metadata.HeaderPath)
	if err != nil {
		return nil, err
	}
	sparse, err := json.Marshal(p.Sparse)
	if err != nil {
		return nil, err
	}
	meta[metaHeaderPath] = string(path)
	meta[metaSparse] = string(sparse)
	if isZero(p.Dense) {
		meta[metaZeroDense] = "1"
	}
	return meta, nil
}

func decodeMetadata(content string, meta map[string]string) (rag.Payload, rag.SparseVector, error) {
	var (
		path   []string
		sparse rag.SparseVector
	)
	if raw := meta[metaHeaderPath]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &path); err != nil {
			return rag.Payload{}, sparse, fmt.Errorf("header path: %w", err)
		}
	}
	if raw := meta[metaSparse]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sparse); err != nil {
			return rag.Payload{}, sparse, fmt.Errorf("sparse vector: %w", err)
		}
	}
	fields := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		if !strings.HasPrefix(k, "_") {
			fields[k] = v
		}
	}
	fields[rag.PayloadContent] = content
	p := rag.PayloadFromFields(fields, path)
	if len(p.Metadata.HeaderPath) == 0 {
		p.Metadata.HeaderPath = nil
	}
	return p, sparse, nil
}

// sparseDot is the dot product of two sparse vectors.
func sparseDot(a, b rag.SparseVector) float32 {
	if a.Len() == 0 || b.Len() == 0 {
		return 0
	}
	weights := make(map[uint32]float32, a.Len())
	for i, idx := range a.Indices {
		weights[idx] = a.Values[i]
	}
	var sum float32
	for i, idx := range b.Indices {
		sum += weights[idx] * b.Values[i]
	}
	return sum
}

// weightIDF scales each query term by its inverse document frequency over
// corpus, the same formula Qdrant's IDF modifier uses.
func weightIDF(q rag.SparseVector, corpus []rag.SparseVector) rag.SparseVector {
	if q.Len() == 0 {
		return q
	}
	df := make(map[uint32]int, q.Len())
	for _, idx := range q.Indices {
		df[idx] = 0
	}
	for _, doc := range corpus {
		for _, idx := range doc.Indices {
			if _, ok := df[idx]; ok {
				df[idx]++
			}
		}
	}
	n := float64(len(corpus))
	out := rag.SparseVector{
		Indices: append([]uint32(nil), q.Indices...),
		Values:  make([]float32, len(q.Values)),
	}
	for i, idx := range q.Indices {
		d := float64(df[idx])
		idf := math.Log((n-d+0.5)/(d+0.5) + 1)
		out.Values[i] = q.Values[i] * float32(idf)
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

// safeEmbedding returns a copy of v that chromem can normalize. A zero
// vector from a degraded batch would normalize to NaN, so it is stored as a
// placeholder unit vector and tagged with metaZeroDense.
func safeEmbedding(v []float32) []float32 {
	if isZero(v) {
		return unitVector(len(v))
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func unitVector(n int) []float32 {
	v := make([]float32, n)
	if n > 0 {
		v[0] = 1
	}
	return v
}

func truncate(ids []string, n int) []string {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}
