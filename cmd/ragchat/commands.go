package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragchat/internal/chatui"
	httpapi "github.com/fyrsmithlabs/ragchat/internal/http"
	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/mcp"
	"github.com/fyrsmithlabs/ragchat/internal/query"
	"github.com/fyrsmithlabs/ragchat/internal/watch"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var withWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve POST /v1/indexing, POST /v1/chatbot, GET /health and GET /metrics.

With --watch, or watch.enabled in the config, the raw folder is also watched
and re-indexed after changes settle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context(), withWatch || a.cfg.Watch.Enabled)
		},
	}
	cmd.Flags().BoolVar(&withWatch, "watch", false, "also watch the raw folder")
	return cmd
}

func (a *app) serve(ctx context.Context, withWatch bool) error {
	srv, err := httpapi.NewServer(httpapi.Deps{
		Indexer: a.indexer,
		Asker:   a.asker,
		Store:   a.store,
		Metrics: httpapi.NewHTTPMetrics(a.logger.Underlying()),
		Logger:  a.logger,
	}, &httpapi.Config{
		Host:             a.cfg.Server.Host,
		Port:             a.cfg.Server.Port,
		MaxUploadSize:    a.cfg.Server.MaxUploadSize,
		UploadExtensions: a.cfg.Server.UploadExtensions,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withWatch {
		w, err := a.newWatcher()
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

func (a *app) newWatcher() (*watch.Watcher, error) {
	return watch.New(watch.Config{
		Path:     a.cfg.Indexing.RawPath,
		Debounce: a.cfg.Watch.Debounce.Duration(),
		Match:    a.indexer.Tracked,
	}, a.indexer, a.logger)
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run one incremental indexing pass over the raw folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.loadApp(cmd, appOptions{indexOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.indexer.Run(cmd.Context())
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printResult(w io.Writer, res *indexing.Result) {
	if res.NoOp {
		fmt.Fprintln(w, "No changes since the last run.")
		return
	}
	fmt.Fprintf(w, "Run %s: %d files, %d chunks, %d stored", res.RunID, len(res.Files), res.Chunks, res.Stored)
	if res.Degraded > 0 {
		fmt.Fprintf(w, ", %d degraded embeddings", res.Degraded)
	}
	fmt.Fprintf(w, " (%s)\n", res.Duration.Round(time.Millisecond))
}

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		user    string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.loadApp(cmd, appOptions{logToStderr: true, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := a.asker.Ask(ctx, query.Request{Query: strings.Join(args, " "), UserName: user})
			if err != nil {
				return err
			}
			return printAnswer(cmd.OutOrStdout(), resp, asJSON)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "restrict retrieval to documents mentioning this user")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

func printAnswer(w io.Writer, resp *query.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(w, resp.Response)
	if !resp.NoContext {
		fmt.Fprintf(w, "\n%s\n", chatui.FormatSources(len(resp.Sources)))
	}
	return nil
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-index the raw folder whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.loadApp(cmd, appOptions{indexOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.indexer.Run(cmd.Context()); err != nil {
				a.logger.Warn(cmd.Context(), "initial indexing run failed", zap.Error(err))
			}
			w, err := a.newWatcher()
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
}

func newChatCmd(root *rootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.loadApp(cmd, appOptions{logToStderr: true, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return chatui.Run(cmd.Context(), a.asker, user)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "restrict retrieval to documents mentioning this user")
	return cmd
}

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the chatbot_ask and index_folder tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.loadApp(cmd, appOptions{logToStderr: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "ragchat",
				Version: version,
				Logger:  a.logger,
			}, a.asker, a.indexer)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
