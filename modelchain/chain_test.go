package modelchain

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type stubAdapter struct {
	name        string
	inferErrs   []error
	inferResp   *model.ProviderInferenceResponse
	inferCalls  int
	streamErr   error
	streamValue model.Streamer
	streamCalls int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	idx := s.inferCalls
	s.inferCalls++
	if idx < len(s.inferErrs) && s.inferErrs[idx] != nil {
		return nil, s.inferErrs[idx]
	}
	return s.inferResp, nil
}

func (s *stubAdapter) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	s.streamCalls++
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.streamValue, nil
}

type emptyStreamer struct{}

func (emptyStreamer) Next(context.Context) (model.ProviderInferenceResponseChunk, error) {
	return model.ProviderInferenceResponseChunk{}, io.EOF
}
func (emptyStreamer) Close() error { return nil }

func serverErr(provider string) error {
	return model.NewProviderError(provider, "infer", 503, model.ProviderErrorKindServer, "overloaded", nil)
}

func clientErr(provider string) error {
	return model.NewProviderError(provider, "infer", 400, model.ProviderErrorKindClient, "bad request", nil)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestInferFallsThroughOnServerError(t *testing.T) {
	primary := &stubAdapter{name: "primary", inferErrs: []error{serverErr("primary"), serverErr("primary")}}
	secondary := &stubAdapter{name: "secondary", inferResp: &model.ProviderInferenceResponse{FinishReason: model.FinishReasonStop}}

	c, err := New(
		WithName("fn"),
		WithRouting("primary", "secondary"),
		WithProvider("primary", primary),
		WithProvider("secondary", secondary),
		WithRetryPolicy(fastRetry()),
	)
	require.NoError(t, err)

	resp, err := c.Infer(context.Background(), &model.Request{}, model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.NoError(t, err)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.Equal(t, 2, primary.inferCalls)
	require.Equal(t, 1, secondary.inferCalls)
}

func TestInferAbortsImmediatelyOnClientError(t *testing.T) {
	primary := &stubAdapter{name: "primary", inferErrs: []error{clientErr("primary")}}
	secondary := &stubAdapter{name: "secondary", inferResp: &model.ProviderInferenceResponse{}}

	c, err := New(
		WithRouting("primary", "secondary"),
		WithProvider("primary", primary),
		WithProvider("secondary", secondary),
		WithRetryPolicy(fastRetry()),
	)
	require.NoError(t, err)

	_, err = c.Infer(context.Background(), &model.Request{}, model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.Error(t, err)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindClient, pe.Kind)
	require.Equal(t, 0, secondary.inferCalls)
}

func TestInferAllExhaustedReturnsWrappedError(t *testing.T) {
	primary := &stubAdapter{name: "primary", inferErrs: []error{serverErr("primary"), serverErr("primary")}}
	secondary := &stubAdapter{name: "secondary", inferErrs: []error{serverErr("secondary"), serverErr("secondary")}}

	c, err := New(
		WithRouting("primary", "secondary"),
		WithProvider("primary", primary),
		WithProvider("secondary", secondary),
		WithRetryPolicy(fastRetry()),
	)
	require.NoError(t, err)

	_, err = c.Infer(context.Background(), &model.Request{}, model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.Error(t, err)
	require.Equal(t, 2, primary.inferCalls)
	require.Equal(t, 2, secondary.inferCalls)
}

func TestInferStreamNoMidStreamFailover(t *testing.T) {
	primary := &stubAdapter{name: "primary", streamErr: serverErr("primary")}
	secondary := &stubAdapter{name: "secondary", streamValue: emptyStreamer{}}

	c, err := New(
		WithRouting("primary", "secondary"),
		WithProvider("primary", primary),
		WithProvider("secondary", secondary),
	)
	require.NoError(t, err)

	st, err := c.InferStream(context.Background(), &model.Request{}, model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, 1, primary.streamCalls)
	require.Equal(t, 1, secondary.streamCalls)
}

func TestNewRequiresProviders(t *testing.T) {
	_, err := New(WithRouting("a"))
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestNewRejectsUnregisteredRouting(t *testing.T) {
	_, err := New(WithProvider("a", &stubAdapter{name: "a"}), WithRouting("b"))
	require.Error(t, err)
}

func TestNewSingleProviderDefaultsRouting(t *testing.T) {
	a := &stubAdapter{name: "only", inferResp: &model.ProviderInferenceResponse{}}
	c, err := New(WithProvider("only", a))
	require.NoError(t, err)
	_, err = c.Infer(context.Background(), &model.Request{}, model.ResolvedCredentials{Credentials: model.NoneCredentials{}})
	require.NoError(t, err)
}
