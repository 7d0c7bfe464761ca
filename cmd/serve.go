package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalpath/enrich-cli/internal/config"
	"github.com/signalpath/enrich-cli/internal/enrich"
	"github.com/signalpath/enrich-cli/internal/orchestrator"
	"github.com/signalpath/enrich-cli/internal/resilience"
	"github.com/signalpath/enrich-cli/internal/server"
	"github.com/signalpath/enrich-cli/pkg/llm"
	"github.com/signalpath/enrich-cli/pkg/llm/anthropic"
	"github.com/signalpath/enrich-cli/pkg/llm/gemini"
	"github.com/signalpath/enrich-cli/pkg/mcp"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		provider, finalizer, err := buildProviders(cfg)
		if err != nil {
			return err
		}

		gateway := mcp.NewGateway(cfg.MCP.URL, mcp.WithHeaders(mcpHeaders(cfg)))
		defer func() {
			if cerr := gateway.Close(); cerr != nil {
				zap.L().Warn("close tool gateway", zap.Error(cerr))
			}
		}()

		retry := resilience.FromRetryConfig(cfg.Enrich.RetryMaxAttempts, 0, cfg.Enrich.RetryMaxWaitSecs*1000, 0, -1)

		orch := orchestrator.New(provider, gateway,
			orchestrator.WithFinalizer(finalizer),
			orchestrator.WithMaxIterations(cfg.Enrich.MaxIterations),
			orchestrator.WithToolDelay(time.Duration(cfg.Enrich.ToolDelayMs)*time.Millisecond),
			orchestrator.WithMinCallSpacing(time.Duration(cfg.Enrich.CallSpacingMs)*time.Millisecond),
			orchestrator.WithTruncateAt(cfg.Enrich.TruncateAt),
			orchestrator.WithRetryConfig(retry),
		)

		reconciler := enrich.NewReconciler(gateway, enrich.NewHTTPExportFetcher(),
			enrich.WithToolNames(cfg.Enrich.ResolveTool, cfg.Enrich.ProfileTool),
			enrich.WithProfileDomains(cfg.Enrich.ProfileDomains),
			enrich.WithBatchDelay(time.Duration(cfg.Enrich.ToolDelayMs)*time.Millisecond),
		)

		srv := server.New(orch, reconciler, gateway, cfg.Server)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})

		zap.L().Info("enrichment service started",
			zap.Int("port", cfg.Server.Port),
			zap.String("provider", provider.Name()),
			zap.String("model", provider.Model()))

		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "cmd: serve")
		}
		return nil
	},
}

// buildProviders creates the conversation provider plus the finalizer used
// for the summarization pass.
func buildProviders(cfg *config.Config) (llm.Provider, llm.Provider, error) {
	switch cfg.Enrich.Provider {
	case "anthropic":
		provider := anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithModel(cfg.Anthropic.Model))
		finalizer := anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithModel(cfg.Anthropic.DefaultModel))
		return provider, finalizer, nil
	case "gemini":
		provider := gemini.NewClient(cfg.Gemini.Key,
			gemini.WithModel(cfg.Gemini.Model),
			gemini.WithBaseURL(cfg.Gemini.BaseURL))
		// Finalization runs on the Anthropic default model when a key is
		// configured, matching the stronger-model intent.
		if cfg.Anthropic.Key != "" {
			return provider, anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithModel(cfg.Anthropic.DefaultModel)), nil
		}
		return provider, provider, nil
	default:
		return nil, nil, eris.Errorf("cmd: unknown provider %q", cfg.Enrich.Provider)
	}
}

func mcpHeaders(cfg *config.Config) map[string]string {
	headers := make(map[string]string, len(cfg.MCP.Headers)+1)
	for k, v := range cfg.MCP.Headers {
		headers[k] = v
	}
	if cfg.MCP.AuthToken != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", cfg.MCP.AuthToken)
	}
	return headers
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
