package chunker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

const sampleDoc = `# Profile

Intro paragraph.

## Skills

Go and Python.

### Databases

Postgres.

## Projects

Built a chatbot.
`

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"overlap equal to size", Config{ChunkSize: 10, ChunkOverlap: 10}, true},
		{"negative overlap", Config{ChunkSize: 10, ChunkOverlap: -1}, true},
		{"negative size", Config{ChunkSize: -5, ChunkOverlap: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, rag.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSplitSections(t *testing.T) {
	t.Run("header chain resets deeper levels", func(t *testing.T) {
		sections := splitSections(sampleDoc)
		require.Len(t, sections, 4)

		assert.Equal(t, []string{"Profile"}, sections[0].headers)
		assert.Equal(t, "Intro paragraph.", sections[0].body)
		assert.Equal(t, []string{"Profile", "Skills"}, sections[1].headers)
		assert.Equal(t, []string{"Profile", "Skills", "Databases"}, sections[2].headers)
		assert.Equal(t, []string{"Profile", "Projects"}, sections[3].headers)
	})

	t.Run("skipped levels collapse", func(t *testing.T) {
		sections := splitSections("# A\n### C\ntext")
		require.Len(t, sections, 1)
		assert.Equal(t, []string{"A", "C"}, sections[0].headers)
	})

	t.Run("closing hashes are stripped", func(t *testing.T) {
		sections := splitSections("## Title ##\nbody\n## Learn C#\nmore")
		require.Len(t, sections, 2)
		assert.Equal(t, []string{"Title"}, sections[0].headers)
		assert.Equal(t, []string{"Learn C#"}, sections[1].headers)
	})

	t.Run("fenced hashes are body text", func(t *testing.T) {
		sections := splitSections("# T\n\n```\n# not a header\n```\n")
		require.Len(t, sections, 1)
		assert.Equal(t, []string{"T"}, sections[0].headers)
		assert.Contains(t, sections[0].body, "# not a header")
	})

	t.Run("header-only sections are dropped", func(t *testing.T) {
		sections := splitSections("# Empty\n## Also empty\n")
		assert.Empty(t, sections)
	})

	t.Run("paragraphs are separated by blank lines", func(t *testing.T) {
		sections := splitSections("one\ntwo\n\n\nthree")
		require.Len(t, sections, 1)
		assert.Nil(t, sections[0].headers)
		assert.Equal(t, "one\ntwo\n\nthree", sections[0].body)
	})
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"- item one\n- item two", "item one item two"},
		{"* star bullet", "star bullet"},
		{"**bold** and *em*", "bold and em"},
		{"  spaced \t\n out  ", "spaced out"},
		{"***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestChunker_ChunkText(t *testing.T) {
	c := newTestChunker(t, Config{})

	t.Run("content is prefixed with the header chain", func(t *testing.T) {
		chunks, err := c.ChunkText(sampleDoc, "cv.md")
		require.NoError(t, err)
		require.Len(t, chunks, 4)

		assert.Equal(t, "Profile: Intro paragraph.", chunks[0].Content)
		assert.Equal(t, "Profile - Skills: Go and Python.", chunks[1].Content)
		assert.Equal(t, "Profile - Skills - Databases: Postgres.", chunks[2].Content)
		assert.Equal(t, "Profile - Projects: Built a chatbot.", chunks[3].Content)

		for _, ch := range chunks {
			assert.Equal(t, "cv.md", ch.Metadata.SourceFile)
		}
		assert.Equal(t, "Skills", chunks[2].Metadata.Header(2))
		assert.Equal(t, "Databases", chunks[2].Metadata.Header(3))
	})

	t.Run("headerless text has no prefix", func(t *testing.T) {
		chunks, err := c.ChunkText("just some text", "plain.md")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "just some text", chunks[0].Content)
		assert.Empty(t, chunks[0].Metadata.HeaderPath)
	})

	t.Run("empty input yields nothing", func(t *testing.T) {
		chunks, err := c.ChunkText("\n\n   \n", "empty.md")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestChunker_ChunkSizeBound(t *testing.T) {
	c := newTestChunker(t, Config{ChunkSize: 60, ChunkOverlap: 10})

	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	doc := "# Long\n\n" + strings.Join(words, " ")

	chunks, err := c.ChunkText(doc, "long.md")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		require.True(t, strings.HasPrefix(ch.Content, "Long: "))
		body := strings.TrimPrefix(ch.Content, "Long: ")
		assert.LessOrEqual(t, utf8.RuneCountInString(body), 60)
		assert.NotEmpty(t, body)
	}
}

func TestChunker_ChunkFile(t *testing.T) {
	dir := t.TempDir()
	c := newTestChunker(t, Config{})

	t.Run("non-markdown is not found", func(t *testing.T) {
		path := filepath.Join(dir, "cv.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
		_, err := c.ChunkFile(path)
		assert.ErrorIs(t, err, rag.ErrNotFound)
	})

	t.Run("missing file is not found", func(t *testing.T) {
		_, err := c.ChunkFile(filepath.Join(dir, "missing.md"))
		assert.ErrorIs(t, err, rag.ErrNotFound)
	})

	t.Run("source is the base name", func(t *testing.T) {
		path := filepath.Join(dir, "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("# N\nhello"), 0o644))
		chunks, err := c.ChunkFile(path)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "notes.md", chunks[0].Metadata.SourceFile)
	})
}

func TestChunker_ChunkFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pdf"), []byte("skip"), 0o644))

	c := newTestChunker(t, Config{})
	chunks, err := c.ChunkFolder(dir)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a.md", chunks[0].Metadata.SourceFile)
	assert.Equal(t, "b.md", chunks[1].Metadata.SourceFile)

	_, err = c.ChunkFolder(filepath.Join(dir, "absent"))
	assert.ErrorIs(t, err, rag.ErrNotFound)
}
