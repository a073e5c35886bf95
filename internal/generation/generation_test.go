package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

type fakeModel struct {
	reply    string
	err      error
	received []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.received = msgs
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func text(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestFormatRetrieved(t *testing.T) {
	assert.Equal(t, "No relevant information found.", FormatRetrieved(nil))

	out := FormatRetrieved([]rag.Payload{
		{Content: "Alice: Go", Metadata: rag.ChunkMetadata{HeaderPath: []string{"Alice"}, SourceFile: "cv.md"}},
		{Content: "Bob: Rust"},
	})
	assert.Contains(t, out, "Content: Alice: Go\nMetadata: {")
	assert.Contains(t, out, `"source_file":"cv.md"`)
	assert.Contains(t, out, "\nContent: Bob: Rust")
}

func TestBuildMessages(t *testing.T) {
	history := []rag.Turn{{Query: "hi", Response: "hello"}}
	msgs := BuildMessages("what does Alice know?", history, nil)
	require.Len(t, msgs, 4)

	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, systemPrompt, text(t, msgs[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "hello", text(t, msgs[2]))
	assert.Equal(t,
		"Retrieved info: No relevant information found.\n\nUser query: what does Alice know?",
		text(t, msgs[3]))
}

func TestService_Generate(t *testing.T) {
	model := &fakeModel{reply: "Alice knows Go."}
	svc, err := NewWithModel(model, Config{Temperature: 0.2, MaxTokens: 64}, nil)
	require.NoError(t, err)

	res := svc.GenerateResult(context.Background(), "q", nil, []rag.Payload{{Content: "Alice: Go"}})
	assert.False(t, res.Failed)
	assert.Equal(t, "Alice knows Go.", res.Response)
	assert.Equal(t, 64, model.opts.MaxTokens)
	assert.InDelta(t, 0.2, model.opts.Temperature, 1e-9)
	assert.Len(t, model.received, 2)
}

func TestService_GenerateFailure(t *testing.T) {
	svc, err := NewWithModel(&fakeModel{err: errors.New("quota exceeded")}, Config{}, nil)
	require.NoError(t, err)

	res := svc.GenerateResult(context.Background(), "q", nil, nil)
	assert.True(t, res.Failed)
	assert.Equal(t, "Error: quota exceeded", res.Response)
	assert.Equal(t, "Error: quota exceeded", svc.Generate(context.Background(), "q", nil, nil))
}

func TestService_CancelledContext(t *testing.T) {
	svc, err := NewWithModel(&fakeModel{reply: "x"}, Config{RateLimit: 0.001, Burst: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, svc.GenerateResult(ctx, "q", nil, nil).Failed, "burst admits the first call")
	cancel()
	res := svc.GenerateResult(ctx, "q", nil, nil)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Response, "Error: rate limiter")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"temperature too high", Config{Temperature: 3}, true},
		{"negative max tokens", Config{MaxTokens: -1}, true},
		{"negative rate", Config{RateLimit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}

	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "api key required")
}
