// Package modelchain implements the per-function Model: a named fallback
// list of provider adapters with per-provider retry/backoff, generalizing
// the middleware-onion composition pattern used across the provider layer
// to a multi-provider routing list instead of a single client.
package modelchain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/model"
)

type (
	// Chain is a Model: a named ordered list of provider adapters tried in
	// sequence. A provider is "exhausted" when every retry attempt against
	// it returns a server-class ProviderError; the Chain then falls through
	// to the next provider in Routing. A client-class error is treated as
	// the caller's request being malformed and aborts the chain immediately
	// without trying later providers.
	Chain struct {
		name      string
		routing   []string
		providers map[string]model.Adapter
		retry     RetryPolicy
		log       gwtelemetry.Logger
	}

	// RetryPolicy controls per-provider retry behavior. Attempts is the
	// total number of tries against a single provider (1 means no retry).
	// Backoff is exponential starting at BaseDelay, doubling each attempt,
	// capped at MaxDelay, with +/-20% jitter to avoid synchronized retries
	// across concurrent callers.
	RetryPolicy struct {
		Attempts  int
		BaseDelay time.Duration
		MaxDelay  time.Duration
	}

	// Option configures a Chain during construction.
	Option func(*chainConfig)

	chainConfig struct {
		name      string
		routing   []string
		providers map[string]model.Adapter
		retry     RetryPolicy
		log       gwtelemetry.Logger
	}
)

// DefaultRetryPolicy is a handful of attempts with sub-second-to-several-
// second exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 250 * time.Millisecond,
	MaxDelay:  8 * time.Second,
}

// ErrNoProviders is returned by New when no providers are registered.
var ErrNoProviders = errors.New("modelchain: at least one provider is required")

// ErrRoutingEmpty is returned by Infer/InferStream when the chain has no
// routing entries left to try (should not happen if New validated routing
// against providers, but guards against a zero-value Chain).
var ErrRoutingEmpty = errors.New("modelchain: routing list is empty")

// WithName sets the function/model name used in error messages and logs.
func WithName(name string) Option {
	return func(c *chainConfig) { c.name = name }
}

// WithRouting sets the ordered list of provider names to try. Every name
// must have a corresponding entry registered via WithProvider.
func WithRouting(names ...string) Option {
	return func(c *chainConfig) { c.routing = append(c.routing, names...) }
}

// WithProvider registers a provider adapter under the given name so it can
// be referenced from WithRouting.
func WithProvider(name string, adapter model.Adapter) Option {
	return func(c *chainConfig) {
		if c.providers == nil {
			c.providers = make(map[string]model.Adapter)
		}
		c.providers[name] = adapter
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *chainConfig) { c.retry = p }
}

// WithLogger attaches a structured logger. Defaults to gwtelemetry.NoopLogger.
func WithLogger(log gwtelemetry.Logger) Option {
	return func(c *chainConfig) { c.log = log }
}

// New constructs a Chain. It returns ErrNoProviders if no provider was
// registered, and an error if the routing list references an unregistered
// provider name.
func New(opts ...Option) (*Chain, error) {
	cfg := chainConfig{retry: DefaultRetryPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	if len(cfg.providers) == 0 {
		return nil, ErrNoProviders
	}
	routing := cfg.routing
	if len(routing) == 0 {
		// No explicit routing: fall back to map iteration order being
		// unacceptable (non-deterministic), so require an explicit list
		// unless there's exactly one provider.
		if len(cfg.providers) != 1 {
			return nil, fmt.Errorf("modelchain: routing is required when more than one provider is registered")
		}
		for name := range cfg.providers {
			routing = []string{name}
		}
	}
	for _, name := range routing {
		if _, ok := cfg.providers[name]; !ok {
			return nil, fmt.Errorf("modelchain: routing references unregistered provider %q", name)
		}
	}
	log := cfg.log
	if log == nil {
		log = gwtelemetry.NoopLogger{}
	}
	if cfg.retry.Attempts <= 0 {
		cfg.retry = DefaultRetryPolicy
	}
	return &Chain{
		name:      cfg.name,
		routing:   routing,
		providers: cfg.providers,
		retry:     cfg.retry,
		log:       log,
	}, nil
}

// Infer tries each provider in routing order, retrying server-class errors
// per RetryPolicy before falling through to the next provider. A client-
// class error from any provider aborts the chain immediately.
func (c *Chain) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	if len(c.routing) == 0 {
		return nil, ErrRoutingEmpty
	}
	var lastErr error
	for _, name := range c.routing {
		adapter := c.providers[name]
		resp, err := c.inferWithRetry(ctx, adapter, req, creds)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isExhaustible(err) {
			return nil, err
		}
		c.log.Warn(ctx, "modelchain: provider exhausted, trying next", "chain", c.name, "provider", name, "error", err.Error())
	}
	return nil, fmt.Errorf("modelchain: all providers in routing exhausted for %q: %w", c.name, lastErr)
}

func (c *Chain) inferWithRetry(ctx context.Context, adapter model.Adapter, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	var err error
	var resp *model.ProviderInferenceResponse
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		resp, err = adapter.Infer(ctx, req, creds)
		if err == nil {
			return resp, nil
		}
		if !isExhaustible(err) {
			return nil, err
		}
		if attempt == c.retry.Attempts-1 {
			break
		}
		if sleepErr := c.sleepBackoff(ctx, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, err
}

// InferStream selects exactly one provider per stream: no mid-stream
// failover. If the first-chunk peek of provider k fails, InferStream falls
// through to provider k+1. Once InferStream has returned a streamer to the
// caller, later failures propagate as stream errors rather than retrying
// here.
func (c *Chain) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	if len(c.routing) == 0 {
		return nil, ErrRoutingEmpty
	}
	var lastErr error
	for _, name := range c.routing {
		adapter := c.providers[name]
		st, err := adapter.InferStream(ctx, req, creds)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !isExhaustible(err) {
			return nil, err
		}
		c.log.Warn(ctx, "modelchain: provider stream peek failed, trying next", "chain", c.name, "provider", name, "error", err.Error())
	}
	return nil, fmt.Errorf("modelchain: all providers in routing exhausted for stream %q: %w", c.name, lastErr)
}

// isExhaustible reports whether an error should cause the chain to retry
// the same provider or fall through to the next one, as opposed to
// propagating immediately. Non-ProviderError errors (context cancellation,
// programming errors) are treated as fatal.
func isExhaustible(err error) bool {
	pe, ok := model.AsProviderError(err)
	if !ok {
		return false
	}
	return pe.Retryable()
}

func (c *Chain) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.retry.BaseDelay << attempt
	if delay > c.retry.MaxDelay || delay <= 0 {
		delay = c.retry.MaxDelay
	}
	jitterFrac := 0.8 + 0.4*rand.Float64()
	delay = time.Duration(float64(delay) * jitterFrac)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
