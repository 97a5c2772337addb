package gwhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
)

// CredentialsResolver builds the model.ResolvedCredentials for one inbound
// request from the caller-supplied dynamic credential map (decoded from
// the request body's "credentials" field, or nil if absent). Credential
// storage backends are an external collaborator (out of scope per the
// gateway's own external-interfaces boundary); the default resolver only
// threads the caller-supplied map through as DynamicValues. Deployments
// that resolve credentials from a vault or secrets manager supply their
// own CredentialsResolver to Server.
type CredentialsResolver func(r *http.Request, dynamic map[string]string) (model.ResolvedCredentials, error)

func defaultCredentialsResolver(_ *http.Request, dynamic map[string]string) (model.ResolvedCredentials, error) {
	if len(dynamic) == 0 {
		return model.ResolvedCredentials{Credentials: model.NoneCredentials{}}, nil
	}
	return model.ResolvedCredentials{DynamicValues: dynamic}, nil
}

// Server is the gateway's HTTP surface: the neutral /inference API, the
// OpenAI-compatible façade, and liveness/readiness probes.
type Server struct {
	Gateway *orchestrator.Gateway
	Logger  gwtelemetry.Logger

	// Credentials resolves per-request credentials; defaults to
	// defaultCredentialsResolver when nil.
	Credentials CredentialsResolver

	// Ready reports whether /status should report the gateway as ready to
	// serve traffic (e.g. the config watcher has completed its initial
	// load). Defaults to always-ready when nil.
	Ready func() bool
}

func (s *Server) logger() gwtelemetry.Logger {
	if s.Logger == nil {
		return gwtelemetry.NoopLogger{}
	}
	return s.Logger
}

func (s *Server) credentials() CredentialsResolver {
	if s.Credentials == nil {
		return defaultCredentialsResolver
	}
	return s.Credentials
}

// Handler returns the composed net/http.Handler for the gateway's
// endpoints, suitable for mounting directly or wrapping in ListenAndServe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inference", s.handleInference)
	mux.HandleFunc("POST /batch_inference", s.handleBatchInference)
	mux.HandleFunc("POST /openai/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Run starts an HTTP server on addr and blocks until ctx is canceled, at
// which point it shuts the server down gracefully (30s budget), mirroring
// the context-driven shutdown idiom the rest of this gateway uses for its
// other long-lived goroutine (the config watcher).
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger().Info(ctx, "gwhttp: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger().Info(ctx, "gwhttp: shutting down", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger().Error(ctx, "gwhttp: shutdown failed", "error", err.Error())
		return err
	}
	return nil
}
