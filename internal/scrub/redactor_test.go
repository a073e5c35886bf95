package scrub

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

const openAIKey = "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"

func newRedactor(t *testing.T, cfg Config) *Redactor {
	t.Helper()
	r, err := New(cfg, nil)
	require.NoError(t, err)
	return r
}

func TestRedactor_NoSecrets(t *testing.T) {
	r := newRedactor(t, Config{Enabled: true})

	content := "Profile - Skills: Go, Python and distributed systems."
	out, n := r.Redact(content)
	assert.Equal(t, content, out)
	assert.Zero(t, n)

	out, n = r.Redact("   ")
	assert.Equal(t, "   ", out)
	assert.Zero(t, n)
}

func TestRedactor_Secret(t *testing.T) {
	r := newRedactor(t, Config{Enabled: true})

	out, n := r.Redact(`api key: "` + openAIKey + `"`)
	if n == 0 {
		t.Skip("gitleaks did not detect the sample key")
	}
	assert.NotContains(t, out, openAIKey)
	assert.Contains(t, out, "[REDACTED:")
}

func TestRedactor_RedactChunks(t *testing.T) {
	r := newRedactor(t, Config{Enabled: true})

	chunks := []rag.Chunk{
		{Content: "plain text", Metadata: rag.ChunkMetadata{SourceFile: "a.md"}},
		{Content: `token = "` + openAIKey + `"`, Metadata: rag.ChunkMetadata{SourceFile: "b.md", HeaderPath: []string{"Keys"}}},
	}

	out, n := r.RedactChunks(chunks)
	require.Len(t, out, len(chunks), "chunk count is unchanged")
	assert.Equal(t, "plain text", out[0].Content)
	assert.Equal(t, chunks[1].Metadata, out[1].Metadata)
	if n > 0 {
		assert.False(t, strings.Contains(out[1].Content, openAIKey))
	}
	assert.Contains(t, chunks[1].Content, openAIKey, "input chunks are not mutated")
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		al, err := LoadAllowlist(filepath.Join(dir, "absent.toml"))
		require.NoError(t, err)
		assert.Nil(t, al)
	})

	t.Run("empty path", func(t *testing.T) {
		al, err := LoadAllowlist("")
		require.NoError(t, err)
		assert.Nil(t, al)
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['''sk-proj-abc.*''']\n"), 0o644))
		al, err := LoadAllowlist(path)
		require.NoError(t, err)
		require.NotNil(t, al)
		assert.Equal(t, []string{"sk-proj-abc.*"}, al.Regexes)
	})

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist\n"), 0o644))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidAllowlist)
	})

	t.Run("bad regex", func(t *testing.T) {
		path := filepath.Join(dir, "regex.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['''([''']\n"), 0o644))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidAllowlist)
	})
}

func TestRedactor_Allowlisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.toml")
	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['''sk-proj-abcdefghij.*''']\n"), 0o644))

	r := newRedactor(t, Config{Enabled: true, AllowlistPath: path})
	out, n := r.Redact(`key = "` + openAIKey + `"`)
	assert.Zero(t, n)
	assert.Contains(t, out, openAIKey)
}
