// Package server exposes the enrichment pipeline over HTTP: POST /enrich
// runs the conversational enrichment, POST /estimate-audience compiles the
// selected ICP attributes into a cluster expression and asks the tool
// service for a count.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/signalpath/enrich-cli/internal/config"
	"github.com/signalpath/enrich-cli/internal/enrich"
	"github.com/signalpath/enrich-cli/internal/orchestrator"
	"github.com/signalpath/enrich-cli/pkg/llm"
	"github.com/signalpath/enrich-cli/pkg/mcp"
)

// DefaultAudienceTool is the count-only audience estimation tool.
const DefaultAudienceTool = "estimate_audience"

// Runner drives one enrichment conversation.
type Runner interface {
	Run(ctx context.Context, system string, messages []llm.Message) (*orchestrator.Outcome, error)
}

// Reconciler merges tool outputs back onto uploaded rows.
type Reconciler interface {
	Reconcile(ctx context.Context, log []enrich.ToolCall, rows []enrich.Row, fields enrich.DetectedFields) (*enrich.Result, error)
}

// Gateway is the tool-service slice the estimate endpoint needs.
type Gateway interface {
	Execute(ctx context.Context, name string, input map[string]any) (*mcp.Result, error)
}

// Server wires the handlers to the pipeline components.
type Server struct {
	runner       Runner
	reconciler   Reconciler
	gateway      Gateway
	cfg          config.ServerConfig
	audienceTool string
}

// Option configures the server.
type Option func(*Server)

// WithAudienceTool overrides the estimation tool name.
func WithAudienceTool(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.audienceTool = name
		}
	}
}

// New creates a server over the given pipeline components.
func New(runner Runner, reconciler Reconciler, gateway Gateway, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		runner:       runner,
		reconciler:   reconciler,
		gateway:      gateway,
		cfg:          cfg,
		audienceTool: DefaultAudienceTool,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(s.requestTimeout()))

	r.Get("/health", s.handleHealth)
	r.Post("/enrich", s.handleEnrich)
	r.Post("/estimate-audience", s.handleEstimate)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.cfg.RequestTimeoutSecs) * time.Second
}
