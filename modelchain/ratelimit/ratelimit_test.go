package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type fakeAdapter struct {
	inferErr error
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Infer(context.Context, *model.Request, model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	return &model.ProviderInferenceResponse{}, f.inferErr
}

func (f *fakeAdapter) InferStream(context.Context, *model.Request, model.ResolvedCredentials) (model.Streamer, error) {
	return nil, f.inferErr
}

func textReq() *model.Request {
	return &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		},
	}
}

func TestBackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.currentTPM

	adapter := &fakeAdapter{inferErr: model.ErrRateLimited}
	wrapped := limiter.Middleware()(adapter)

	_, err := wrapped.Infer(context.Background(), textReq(), model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.True(t, errors.Is(err, model.ErrRateLimited))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Less(t, limiter.currentTPM, initialTPM)
}

func TestProbeOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	adapter := &fakeAdapter{}
	wrapped := limiter.Middleware()(adapter)

	_, err := wrapped.Infer(context.Background(), textReq(), model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Greater(t, limiter.currentTPM, initialTPM)
}

func TestBackoffNeverDropsBelowMinimum(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(100, 100)
	adapter := &fakeAdapter{inferErr: model.ErrRateLimited}
	wrapped := limiter.Middleware()(adapter)

	for i := 0; i < 20; i++ {
		_, _ = wrapped.Infer(context.Background(), textReq(), model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.GreaterOrEqual(t, limiter.currentTPM, limiter.minTPM)
}

// memStore is an in-process clusterStore double exercising the same
// compare-and-swap/subscribe contract the Redis-backed implementation
// fulfills, without requiring a live Redis instance in tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
	subs map[string][]chan struct{}
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string), subs: make(map[string][]chan struct{})}
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memStore) CompareAndSwap(ctx context.Context, key, old, newVal string) (bool, error) {
	m.mu.Lock()
	cur, ok := m.data[key]
	if !ok || cur != old {
		m.mu.Unlock()
		return false, nil
	}
	m.data[key] = newVal
	subs := append([]chan struct{}{}, m.subs[key]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true, nil
}

func (m *memStore) Subscribe(ctx context.Context, key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 4)
	m.mu.Lock()
	m.subs[key] = append(m.subs[key], ch)
	m.mu.Unlock()
	return ch, func() {}
}

func TestClusterSeedsSharedBudget(t *testing.T) {
	store := newMemStore()
	l := NewCluster(context.Background(), store, "tpm:gpt4", 1000, 2000)

	v, ok, err := store.Get(context.Background(), "tpm:gpt4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000", v)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Equal(t, float64(1000), l.currentTPM)
}

func TestClusterReconcilesOnExternalChange(t *testing.T) {
	store := newMemStore()
	l := NewCluster(context.Background(), store, "tpm:gpt4", 1000, 2000)

	ok, err := store.CompareAndSwap(context.Background(), "tpm:gpt4", "1000", "1500")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.currentTPM == 1500
	}, time.Second, time.Millisecond)
}

func TestClusterFallsBackWithoutStore(t *testing.T) {
	l := NewCluster(context.Background(), nil, "", 1000, 2000)
	require.NotNil(t, l)
}
