// Package embeddings turns chunk text and queries into dense and sparse
// vectors.
//
// Dense vectors come from FastEmbed (local ONNX, cgo only) or a TEI service.
// Sparse vectors come from a TEI sparse model or the local BM25 encoder.
// The Embedder batches calls to both and substitutes zero or empty vectors
// for failed batches, flagging every substituted item as degraded.
package embeddings
