// Package ratelimit implements an adaptive token-bucket rate limiter for
// modelchain providers, with optional cluster-wide coordination backed by
// Redis instead of a process-local budget.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket in
	// front of a model.Adapter. It estimates the token cost of each
	// request, blocks callers until capacity is available, and adjusts its
	// effective tokens-per-minute budget in response to rate-limit signals
	// observed on the wrapped adapter's responses.
	//
	// The limiter is process-local by default. Construct it with
	// NewCluster to additionally synchronize the effective budget across
	// processes via a shared Redis key.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		onBackoff func(newTPM float64)
		onProbe   func(newTPM float64)
	}

	limitedAdapter struct {
		next    model.Adapter
		limiter *AdaptiveRateLimiter
	}

	// clusterStore is the subset of Redis-backed coordination this limiter
	// needs: read the shared budget, seed it if absent, compare-and-swap
	// it, and be notified when another process changes it.
	clusterStore interface {
		Get(ctx context.Context, key string) (string, bool, error)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		CompareAndSwap(ctx context.Context, key, old, new string) (swapped bool, err error)
		Subscribe(ctx context.Context, key string) (<-chan struct{}, func())
	}
)

// NewAdaptiveRateLimiter constructs a process-local AdaptiveRateLimiter
// with a tokens-per-minute budget. initialTPM and maxTPM are expressed in
// tokens per minute; when maxTPM is zero or less than initialTPM, it is
// clamped to initialTPM.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		// Default to a conservative budget when callers do not provide one.
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))

	return &AdaptiveRateLimiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// NewCluster constructs an AdaptiveRateLimiter whose effective budget is
// coordinated across processes through the given clusterStore and key.
// When store is nil or key is empty it behaves exactly like
// NewAdaptiveRateLimiter.
func NewCluster(ctx context.Context, store clusterStore, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if store == nil || key == "" {
		return NewAdaptiveRateLimiter(initialTPM, maxTPM)
	}

	// Best-effort initialization: if the key does not exist yet, seed it
	// with the initial value. A concurrent writer may still win; the read
	// below picks up whatever value ends up stored.
	if _, ok, err := store.Get(ctx, key); err != nil || !ok {
		if _, err := store.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			// When seeding the shared budget fails, fall back to a
			// process-local limiter so callers still make progress instead
			// of treating the cluster store as partially initialized.
			return NewAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}

	sharedTPM := initialTPM
	if cur, ok, err := store.Get(ctx, key); err == nil && ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedTPM = v
		}
	}

	l := NewAdaptiveRateLimiter(sharedTPM, maxTPM)

	min := l.minTPM
	max := l.maxTPM
	step := l.recoveryRate

	l.setClusterCallbacks(
		func(_ float64) {
			go clusterBackoff(context.Background(), store, key, min)
		},
		func(_ float64) {
			go clusterProbe(context.Background(), store, key, step, max)
		},
	)

	ch, cancel := store.Subscribe(ctx, key)
	go func() {
		defer cancel()
		for range ch {
			cur, ok, err := store.Get(context.Background(), key)
			if err != nil || !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceTPM(v)
		}
	}()

	return l
}

// Middleware returns a function that wraps a model.Adapter with the
// limiter, enforcing the adaptive tokens-per-minute budget before every
// Infer/InferStream call and adjusting the budget based on whether the
// call returned model.ErrRateLimited.
func (l *AdaptiveRateLimiter) Middleware() func(model.Adapter) model.Adapter {
	return func(next model.Adapter) model.Adapter {
		if next == nil {
			return nil
		}
		return &limitedAdapter{next: next, limiter: l}
	}
}

func (a *limitedAdapter) Name() string { return a.next.Name() }

func (a *limitedAdapter) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	if err := a.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := a.next.Infer(ctx, req, creds)
	a.limiter.observe(err)
	return resp, err
}

func (a *limitedAdapter) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	if err := a.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	st, err := a.next.InferStream(ctx, req, creds)
	a.limiter.observe(err)
	return st, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req *model.Request) error {
	tokens := estimateTokens(req)
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, model.ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onBackoff
	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onProbe
	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request transcript: characters in text parts converted to tokens using a
// fixed ratio, plus a fixed buffer for system prompts and provider
// framing overhead.
func estimateTokens(req *model.Request) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				charCount += len(v.Text)
			case model.RawTextPart:
				charCount += len(v.Text)
			case model.ToolResultPart:
				charCount += len(v.Result)
			}
		}
	}
	if charCount <= 0 {
		// Minimal non-zero estimate so callers still incur limiter costs
		// even when messages are extremely small.
		return 500
	}
	tokens := charCount/3 + 500
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// replaceTPM updates the limiter's effective budget to the given value,
// clamped to the configured [minTPM, maxTPM] range.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	l.mu.Unlock()
}

func (l *AdaptiveRateLimiter) setClusterCallbacks(onBackoff, onProbe func(newTPM float64)) {
	l.mu.Lock()
	l.onBackoff = onBackoff
	l.onProbe = onProbe
	l.mu.Unlock()
}

func clusterBackoff(ctx context.Context, store clusterStore, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		swapped, err := store.CompareAndSwap(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || swapped {
			return
		}
	}
}

func clusterProbe(ctx context.Context, store clusterStore, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		swapped, err := store.CompareAndSwap(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || swapped {
			return
		}
	}
}
