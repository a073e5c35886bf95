package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/query"
)

// Tool names.
const (
	ToolChatbotAsk  = "chatbot_ask"
	ToolIndexFolder = "index_folder"
)

type chatbotAskInput struct {
	Query    string `json:"query" jsonschema:"Question to answer from the indexed documents"`
	UserName string `json:"user_name,omitempty" jsonschema:"Person or document the question is about; retrieval only sees sections under that header, so a blank name finds nothing"`
}

type chatbotAskSource struct {
	SourceFile string   `json:"source_file" jsonschema:"Document the chunk came from"`
	HeaderPath []string `json:"header_path,omitempty" jsonschema:"Section headers of the chunk"`
	Score      float32  `json:"score" jsonschema:"Retrieval score"`
}

type chatbotAskOutput struct {
	Response  string             `json:"response" jsonschema:"Answer text"`
	NoContext bool               `json:"no_context" jsonschema:"True when nothing relevant was retrieved"`
	Sources   []chatbotAskSource `json:"sources,omitempty" jsonschema:"Chunks the answer was grounded on"`
}

type indexFolderInput struct{}

type indexFolderOutput struct {
	RunID    string   `json:"run_id" jsonschema:"Indexing run ID"`
	Status   string   `json:"status" jsonschema:"Final run state"`
	Files    []string `json:"files,omitempty" jsonschema:"Changed files that were indexed"`
	Chunks   int      `json:"chunks" jsonschema:"Chunks produced"`
	Stored   int      `json:"stored" jsonschema:"Points stored"`
	Degraded int      `json:"degraded" jsonschema:"Points stored with substituted embeddings"`
	NoOp     bool     `json:"no_op" jsonschema:"True when nothing changed since the last run"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolChatbotAsk,
		Description: "Answer a question from the indexed documents, optionally scoped to one person or document",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args chatbotAskInput) (*mcp.CallToolResult, chatbotAskOutput, error) {
		out, err := s.chatbotAsk(ctx, args)
		if err != nil {
			return nil, chatbotAskOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Response}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexFolder,
		Description: "Index new or modified documents in the raw document folder",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args indexFolderInput) (*mcp.CallToolResult, indexFolderOutput, error) {
		out, err := s.indexFolder(ctx)
		if err != nil {
			return nil, indexFolderOutput{}, err
		}
		text := fmt.Sprintf("Indexed %d files, stored %d chunks", len(out.Files), out.Stored)
		if out.NoOp {
			text = "No changes since the last run"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})
}

func (s *Server) track(ctx context.Context, tool string) func(error) {
	record := s.metrics.Start(ctx, tool)
	return func(err error) {
		record(err)
		if err != nil {
			s.logger.Warn(ctx, "tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) chatbotAsk(ctx context.Context, args chatbotAskInput) (out chatbotAskOutput, err error) {
	done := s.track(ctx, ToolChatbotAsk)
	defer func() { done(err) }()

	if strings.TrimSpace(args.Query) == "" {
		return chatbotAskOutput{}, fmt.Errorf("query is required")
	}
	resp, err := s.asker.Ask(ctx, query.Request{Query: args.Query, UserName: args.UserName})
	if err != nil {
		return chatbotAskOutput{}, fmt.Errorf("chatbot ask failed: %w", err)
	}

	out = chatbotAskOutput{Response: resp.Response, NoContext: resp.NoContext}
	for _, p := range resp.Sources {
		out.Sources = append(out.Sources, chatbotAskSource{
			SourceFile: p.Payload.Metadata.SourceFile,
			HeaderPath: p.Payload.Metadata.HeaderPath,
			Score:      p.Score,
		})
	}
	return out, nil
}

func (s *Server) indexFolder(ctx context.Context) (out indexFolderOutput, err error) {
	done := s.track(ctx, ToolIndexFolder)
	defer func() { done(err) }()

	res, err := s.indexer.Run(logging.WithUser(ctx, "mcp"))
	if err != nil {
		return indexFolderOutput{}, fmt.Errorf("indexing run failed: %w", err)
	}
	return indexFolderOutput{
		RunID:    res.RunID,
		Status:   string(res.State),
		Files:    res.Files,
		Chunks:   res.Chunks,
		Stored:   res.Stored,
		Degraded: res.Degraded,
		NoOp:     res.NoOp,
	}, nil
}
