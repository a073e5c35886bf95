// Package rag holds the data model shared by the indexing and query pipelines.
package rag

import (
	"fmt"
	"time"
)

// FolderFingerprint maps a filename to its last-modified time in fractional
// Unix seconds.
type FolderFingerprint map[string]float64

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	// HeaderPath is the chain of enclosing section headers, outermost first.
	HeaderPath []string `json:"header_path"`

	// SourceFile is the base name of the converted document.
	SourceFile string `json:"source_file"`
}

// Header returns the header at the given 1-based level, or "".
func (m ChunkMetadata) Header(level int) string {
	if level < 1 || level > len(m.HeaderPath) {
		return ""
	}
	return m.HeaderPath[level-1]
}

// Chunk is a bounded span of document text tagged with its section headers.
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Payload is the stored body of a point.
type Payload struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SparseVector is a term-weighted vector as parallel index/value arrays.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Len returns the number of non-zero entries.
func (s SparseVector) Len() int {
	return len(s.Indices)
}

// Validate checks that indices and values are parallel and indices unique.
func (s SparseVector) Validate() error {
	if len(s.Indices) != len(s.Values) {
		return fmt.Errorf("%w: sparse vector has %d indices and %d values", ErrValidation, len(s.Indices), len(s.Values))
	}
	seen := make(map[uint32]struct{}, len(s.Indices))
	for _, idx := range s.Indices {
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("%w: duplicate sparse index %d", ErrValidation, idx)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

// EmbeddedChunk is a chunk with both vector representations attached.
type EmbeddedChunk struct {
	Dense   []float32
	Sparse  SparseVector
	Payload Payload

	// Degraded is set when either vector was substituted after a failed batch.
	Degraded bool
}

// ScoredPoint is a stored point returned by a query.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// Filter restricts a query to points where any of Keys equals Value.
// A Filter without keys matches every point. A Filter with keys and a blank
// Value matches none, since stored header values are never blank.
type Filter struct {
	Keys  []string
	Value string
}

// IsEmpty reports whether the filter has no keys and so matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Keys) == 0
}

// Payload keys used in the stored point layout.
const (
	PayloadContent    = "content"
	PayloadSourceFile = "source_file"
	PayloadHeaderPath = "header_path"
)

// MaxHeaderLevel is the deepest Markdown header level tracked.
const MaxHeaderLevel = 6

// HeaderKey returns the flattened payload key for a header level.
func HeaderKey(level int) string {
	return fmt.Sprintf("header_%d", level)
}

// HeaderKeys returns the payload keys for header levels 1 through n.
func HeaderKeys(n int) []string {
	if n > MaxHeaderLevel {
		n = MaxHeaderLevel
	}
	keys := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		keys = append(keys, HeaderKey(i))
	}
	return keys
}

// Fields flattens a payload into string-keyed scalar fields. header_path is
// returned separately by the caller since not every store supports lists.
func (p Payload) Fields() map[string]string {
	out := map[string]string{
		PayloadContent:    p.Content,
		PayloadSourceFile: p.Metadata.SourceFile,
	}
	for i, h := range p.Metadata.HeaderPath {
		if i >= MaxHeaderLevel {
			break
		}
		out[HeaderKey(i+1)] = h
	}
	return out
}

// PayloadFromFields is the inverse of Fields. headerPath wins over the
// flattened header keys when non-nil.
func PayloadFromFields(fields map[string]string, headerPath []string) Payload {
	p := Payload{
		Content: fields[PayloadContent],
		Metadata: ChunkMetadata{
			SourceFile: fields[PayloadSourceFile],
		},
	}
	if headerPath != nil {
		p.Metadata.HeaderPath = headerPath
		return p
	}
	for i := 1; i <= MaxHeaderLevel; i++ {
		h, ok := fields[HeaderKey(i)]
		if !ok {
			break
		}
		p.Metadata.HeaderPath = append(p.Metadata.HeaderPath, h)
	}
	return p
}

// Matches reports whether the payload satisfies the filter.
func (f Filter) Matches(p Payload) bool {
	if f.IsEmpty() {
		return true
	}
	if f.Value == "" {
		return false
	}
	fields := p.Fields()
	for _, k := range f.Keys {
		if v, ok := fields[k]; ok && v == f.Value {
			return true
		}
	}
	return false
}

// Turn is one exchange in a user's conversation.
type Turn struct {
	Query    string    `json:"query"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}
