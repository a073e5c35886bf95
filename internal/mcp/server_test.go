package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/query"
	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

type mockAsker struct {
	got  query.Request
	resp *query.Response
	err  error
}

func (m *mockAsker) Ask(_ context.Context, req query.Request) (*query.Response, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

type mockIndexer struct {
	calls int
	res   *indexing.Result
	err   error
}

func (m *mockIndexer) Run(context.Context) (*indexing.Result, error) {
	m.calls++
	return m.res, m.err
}

func newTestServer(t *testing.T) (*Server, *mockAsker, *mockIndexer) {
	t.Helper()
	asker := &mockAsker{resp: &query.Response{
		Response: "Alice knows Go",
		Sources: []rag.ScoredPoint{{
			ID:    "p1",
			Score: 0.8,
			Payload: rag.Payload{
				Content:  "Alice - Skills: Go",
				Metadata: rag.ChunkMetadata{HeaderPath: []string{"Alice", "Skills"}, SourceFile: "cv.md"},
			},
		}},
	}}
	indexer := &mockIndexer{res: &indexing.Result{
		RunID:  "run-1",
		State:  indexing.StateDone,
		Files:  []string{"cv.pdf"},
		Chunks: 4,
		Stored: 4,
	}}
	s, err := NewServer(nil, asker, indexer)
	require.NoError(t, err)
	return s, asker, indexer
}

func TestNewServer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, _, _ := newTestServer(t)
		assert.NotNil(t, s.mcp)
		assert.NotNil(t, s.metrics)
	})

	t.Run("requires collaborators", func(t *testing.T) {
		_, err := NewServer(nil, nil, &mockIndexer{})
		assert.Error(t, err)
		_, err = NewServer(&Config{}, &mockAsker{}, nil)
		assert.Error(t, err)
	})
}

func TestChatbotAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("maps the response", func(t *testing.T) {
		s, asker, _ := newTestServer(t)
		out, err := s.chatbotAsk(ctx, chatbotAskInput{Query: "What does Alice know?", UserName: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, "Alice knows Go", out.Response)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "cv.md", out.Sources[0].SourceFile)
		assert.Equal(t, []string{"Alice", "Skills"}, out.Sources[0].HeaderPath)
		assert.Equal(t, "Alice", asker.got.UserName)
	})

	t.Run("blank query", func(t *testing.T) {
		s, _, _ := newTestServer(t)
		_, err := s.chatbotAsk(ctx, chatbotAskInput{Query: " "})
		assert.Error(t, err)
	})

	t.Run("retrieval failure propagates", func(t *testing.T) {
		s, asker, _ := newTestServer(t)
		asker.err = rag.ErrStorage
		_, err := s.chatbotAsk(ctx, chatbotAskInput{Query: "q"})
		assert.ErrorIs(t, err, rag.ErrStorage)
	})
}

func TestIndexFolder(t *testing.T) {
	ctx := context.Background()

	s, _, indexer := newTestServer(t)
	out, err := s.indexFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DONE", out.Status)
	assert.Equal(t, []string{"cv.pdf"}, out.Files)
	assert.Equal(t, 4, out.Stored)
	assert.Equal(t, 1, indexer.calls)

	indexer.err = errors.New("lock held")
	indexer.res = &indexing.Result{State: indexing.StateFailed}
	_, err = s.indexFolder(ctx)
	assert.ErrorContains(t, err, "lock held")
}

func TestServer_InMemorySession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, _ := newTestServer(t)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolChatbotAsk, ToolIndexFolder}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolChatbotAsk,
		Arguments: map[string]any{"query": "What does Alice know?", "user_name": "Alice"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Alice knows Go", text.Text)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: ToolIndexFolder, Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text, ok = res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Indexed 1 files, stored 4 chunks", text.Text)
}
