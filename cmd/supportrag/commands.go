package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/api"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/tui"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "supportrag",
		Short:         "Retrieval-augmented customer support assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "supportrag.yaml", "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
	)
	return cmd
}

// setup loads the config, initializes logging and builds the client.
func setup(ctx context.Context, opts *rootOptions) (*config.Config, *supportrag.Client, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	client, err := supportrag.NewClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

func closeClient(client *supportrag.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		logger.Errorf("supportrag: close failed: %v", err)
	}
	logger.Sync()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, client, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer closeClient(client)

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      api.NewRouter(client),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Infof("supportrag: listening on %s", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server failed, err: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Infof("supportrag: shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("supportrag: shutdown error: %v", err)
			}
			logger.Infof("supportrag: server stopped")
			return nil
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeClient(client)
			return supportrag.ServeStdio(client)
		},
	}
}

type queryFlags struct {
	userID         string
	messageID      string
	language       string
	topK           int
	enableAPIQuery bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "user id, enables conversation memory")
	cmd.Flags().StringVar(&f.messageID, "message-id", "", "message id used for duplicate suppression")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "reply language (ISO 639-1)")
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of contexts to retrieve")
	cmd.Flags().BoolVar(&f.enableAPIQuery, "api", false, "also query the enrichment API")
}

func (f *queryFlags) options() schema.Options {
	return schema.Options{
		UserID:         f.userID,
		MessageID:      f.messageID,
		Language:       f.language,
		TopK:           f.topK,
		EnableAPIQuery: f.enableAPIQuery,
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Answer one message and print the response as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeClient(client)

			resp, err := client.Query(cmd.Context(), schema.Query{Text: strings.Join(args, " "), Options: flags.options()})
			if err != nil {
				return err
			}
			if resp == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "duplicate message ignored")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	flags.register(cmd)
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeClient(client)
			// keep log lines from tearing the screen
			logger.SetLevel(logger.LevelError)

			o := flags.options()
			if o.UserID == "" {
				o.UserID = "cli"
			}
			o.MessageID = ""
			// each turn may retry every stage
			timeout := cfg.Orchestrator.StageTimeout() * time.Duration(4*cfg.Retry.MaxAttempts)
			_, err = tea.NewProgram(tui.New(client, o, timeout), tea.WithAltScreen()).Run()
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
