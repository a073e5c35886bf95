package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var tracer = otel.Tracer("ragchat.vectorstore.qdrant")

// QdrantConfig addresses a Qdrant server over gRPC.
type QdrantConfig struct {
	Host string

	// Port is the gRPC port (6334), not the REST port.
	Port int

	APIKey string
	UseTLS bool

	// MaxMessageSize caps gRPC messages in bytes. Defaults to 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantGateway is a Gateway over Qdrant's native gRPC client.
type QdrantGateway struct {
	client        *qdrant.Client
	collection    string
	vectorSize    int
	prefetchLimit int
	sparseIDF     bool
	logger        *zap.Logger

	// ensured caches collections known to exist.
	ensured sync.Map
}

// NewQdrantGateway connects to Qdrant. It does not create the collection.
func NewQdrantGateway(cfg Config, logger *zap.Logger) (*QdrantGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Qdrant.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Qdrant.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.Qdrant.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.Qdrant.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", rag.ErrStorage, err)
	}

	return &QdrantGateway{
		client:        client,
		collection:    cfg.Collection,
		vectorSize:    cfg.VectorSize,
		prefetchLimit: cfg.PrefetchLimit,
		sparseIDF:     cfg.SparseIDF,
		logger:        logger,
	}, nil
}

// sparseParams configures the sparse vector. With idf, Qdrant scales each
// matched term by its inverse document frequency in the collection. The
// modifier is fixed at creation; an existing collection keeps its own.
func sparseParams(idf bool) *qdrant.SparseVectorParams {
	if !idf {
		return &qdrant.SparseVectorParams{}
	}
	return &qdrant.SparseVectorParams{Modifier: qdrant.Modifier_Idf.Enum()}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EnsureCollection creates the collection with named dense and sparse
// vectors if it does not exist.
func (g *QdrantGateway) EnsureCollection(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantGateway.EnsureCollection")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "ensure_collection", start, err) }()

	span.SetAttributes(
		attribute.String("collection", g.collection),
		attribute.Int("vector_size", g.vectorSize),
	)

	if _, ok := g.ensured.Load(g.collection); ok {
		return nil
	}

	exists, err := g.client.CollectionExists(ctx, g.collection)
	if err != nil {
		err = fmt.Errorf("%w: checking collection %s: %v", rag.ErrStorage, g.collection, err)
		fail(span, err)
		return err
	}

	if !exists {
		err = g.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: g.collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				DenseVectorName: {
					Size:     uint64(g.vectorSize),
					Distance: qdrant.Distance_Cosine,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				SparseVectorName: sparseParams(g.sparseIDF),
			}),
		})
		if err != nil {
			// A concurrent creator may have won the race.
			if again, checkErr := g.client.CollectionExists(ctx, g.collection); checkErr != nil || !again {
				err = fmt.Errorf("%w: creating collection %s: %v", rag.ErrStorage, g.collection, err)
				fail(span, err)
				return err
			}
			err = nil
		} else {
			g.logger.Info("created collection", zap.String("collection", g.collection), zap.Int("vector_size", g.vectorSize))
		}
	}

	g.ensured.Store(g.collection, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Insert upserts every point in one call with wait=true.
func (g *QdrantGateway) Insert(ctx context.Context, points []rag.EmbeddedChunk) (n int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantGateway.Insert")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "insert", start, err) }()

	span.SetAttributes(
		attribute.String("collection", g.collection),
		attribute.Int("point_count", len(points)),
	)

	if len(points) == 0 {
		return 0, nil
	}
	if err = validatePoints(points, g.vectorSize); err != nil {
		fail(span, err)
		return 0, err
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				DenseVectorName:  qdrant.NewVectorDense(p.Dense),
				SparseVectorName: qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values),
			}),
			Payload: encodePayload(p.Payload),
		}
	}

	_, err = g.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: g.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		err = fmt.Errorf("%w: upserting %d points to %s: %v", rag.ErrStorage, len(points), g.collection, err)
		fail(span, err)
		return 0, err
	}

	PointsInserted.WithLabelValues("qdrant").Add(float64(len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Query fuses a dense and a sparse prefetch with RRF and re-scores the
// fused candidates by dense similarity. The filter applies to every stage.
func (g *QdrantGateway) Query(ctx context.Context, q HybridQuery) (results []rag.ScoredPoint, err error) {
	ctx, span := tracer.Start(ctx, "QdrantGateway.Query")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "query", start, err) }()

	span.SetAttributes(
		attribute.String("collection", g.collection),
		attribute.Int("top_k", q.TopK),
		attribute.Bool("filtered", !q.Filter.IsEmpty()),
	)

	if err = q.Validate(g.vectorSize); err != nil {
		fail(span, err)
		return nil, err
	}

	limit := uint64(candidateLimit(g.prefetchLimit, q.TopK))
	fusion := &qdrant.PrefetchQuery{
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query: qdrant.NewQueryDense(q.Dense),
				Using: qdrant.PtrOf(DenseVectorName),
				Limit: qdrant.PtrOf(limit),
			},
			{
				Query: qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values),
				Using: qdrant.PtrOf(SparseVectorName),
				Limit: qdrant.PtrOf(limit),
			},
		},
		Query: qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit: qdrant.PtrOf(limit),
	}

	scored, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.collection,
		Prefetch:       []*qdrant.PrefetchQuery{fusion},
		Query:          qdrant.NewQueryDense(q.Dense),
		Using:          qdrant.PtrOf(DenseVectorName),
		Filter:         buildFilter(q.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrant.PtrOf(uint64(q.TopK)),
	})
	if err != nil {
		err = fmt.Errorf("%w: querying %s: %v", rag.ErrStorage, g.collection, err)
		fail(span, err)
		return nil, err
	}

	results = make([]rag.ScoredPoint, 0, len(scored))
	for _, sp := range scored {
		results = append(results, rag.ScoredPoint{
			ID:      pointID(sp.GetId()),
			Score:   sp.GetScore(),
			Payload: decodePayload(sp.GetPayload()),
		})
	}

	span.SetAttributes(attribute.Int("result_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// Count returns the exact number of points.
func (g *QdrantGateway) Count(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantGateway.Count")
	defer span.End()
	start := time.Now()
	defer func() { observe("qdrant", "count", start, err) }()

	count, err := g.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: g.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		err = fmt.Errorf("%w: counting %s: %v", rag.ErrStorage, g.collection, err)
		fail(span, err)
		return 0, err
	}
	return int(count), nil
}

// Ping performs a health check.
func (g *QdrantGateway) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantGateway.Ping")
	defer span.End()

	if _, err := g.client.HealthCheck(ctx); err != nil {
		err = fmt.Errorf("%w: health check: %v", rag.ErrStorage, err)
		fail(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Close closes the gRPC connection.
func (g *QdrantGateway) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
