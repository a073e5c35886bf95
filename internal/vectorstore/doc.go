// Package vectorstore stores embedded chunks and answers hybrid queries.
//
// A Gateway owns one collection whose points carry a named dense vector
// ("dense", cosine) and a named sparse vector ("sparse"). Queries run a
// dense and a sparse prefetch, fuse the two rank orders with Reciprocal
// Rank Fusion, and re-score the fused candidates by dense similarity.
//
// Two implementations are provided: QdrantGateway over Qdrant's gRPC API,
// and ChromemGateway, an embedded store for local use and tests that runs
// the same prefetch, fusion and re-scoring in process.
package vectorstore
