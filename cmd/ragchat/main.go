// Command ragchat indexes documents into a vector store and answers
// questions about them over HTTP, MCP, a terminal UI or the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragchat/internal/config"
)

// Set via ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ragchat",
		Short: "Chat with your documents",
		Long: `ragchat converts uploaded PDF, DOCX, CSV and Markdown documents to
Markdown, chunks and embeds them into a hybrid dense and sparse vector index,
and answers questions with a chat model grounded on the retrieved chunks.

Configuration comes from an optional YAML file, a .env file and RAGCHAT_
environment variables, e.g. RAGCHAT_QDRANT__URL=http://localhost:6334.`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newIndexCmd(opts),
		newAskCmd(opts),
		newWatchCmd(opts),
		newChatCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

// loadApp loads configuration and builds the app. Callers must Close it.
func (o *rootOptions) loadApp(cmd *cobra.Command, appOpts appOptions) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, appOpts)
}
