// Package chunker splits converted Markdown documents into header-scoped,
// size-bounded chunks.
package chunker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// Separators are tried in order, largest first.
var Separators = []string{"\n\n", "\n", " ", ""}

// headerJoin joins a header chain in the chunk content prefix.
const headerJoin = " - "

// Config controls chunk sizing.
type Config struct {
	// ChunkSize is the maximum chunk length in runes before the header prefix.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is how many runes adjacent chunks share.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 500
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 50
	}
}

// Validate checks the sizing is usable.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	return nil
}

// Chunker turns Markdown files into chunks.
type Chunker struct {
	config   Config
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// New creates a Chunker.
func New(cfg Config, logger *zap.Logger) (*Chunker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrValidation, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSeparators(Separators),
	)

	return &Chunker{
		config:   cfg,
		splitter: splitter,
		logger:   logger,
	}, nil
}

// ChunkFile chunks one Markdown document.
func (c *Chunker) ChunkFile(path string) ([]rag.Chunk, error) {
	if !isMarkdown(path) {
		return nil, fmt.Errorf("%w: not a markdown document: %s", rag.ErrNotFound, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", rag.ErrIO, path, err)
	}
	return c.ChunkText(string(data), filepath.Base(path))
}

// ChunkFolder chunks every Markdown document directly inside dir, in name
// order.
func (c *Chunker) ChunkFolder(dir string) ([]rag.Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", rag.ErrIO, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isMarkdown(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return c.ChunkFiles(dir, names)
}

// ChunkFiles chunks the named Markdown documents in dir, in the given order.
func (c *Chunker) ChunkFiles(dir string, names []string) ([]rag.Chunk, error) {
	var all []rag.Chunk
	for _, name := range names {
		chunks, err := c.ChunkFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// ChunkText chunks Markdown text attributed to source.
func (c *Chunker) ChunkText(text, source string) ([]rag.Chunk, error) {
	var chunks []rag.Chunk
	dropped := 0

	for _, sec := range splitSections(text) {
		pieces, err := c.splitter.SplitText(sec.body)
		if err != nil {
			return nil, fmt.Errorf("splitting section of %s: %w", source, err)
		}

		prefix := ""
		if len(sec.headers) > 0 {
			prefix = strings.Join(sec.headers, headerJoin) + ": "
		}

		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				dropped++
				continue
			}
			cleaned := CleanText(piece)
			if cleaned == "" {
				dropped++
				continue
			}
			chunks = append(chunks, rag.Chunk{
				Content: prefix + cleaned,
				Metadata: rag.ChunkMetadata{
					HeaderPath: sec.headers,
					SourceFile: source,
				},
			})
		}
	}

	if dropped > 0 {
		c.logger.Debug("dropped empty chunks", zap.String("source", source), zap.Int("dropped", dropped))
	}
	return chunks, nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
