package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

type stubStrategy struct {
	output []model.ContentBlockOutput
	err    error
	delay  time.Duration
}

func textOutput(s string) []model.ContentBlockOutput {
	return []model.ContentBlockOutput{{Text: &s}}
}

func (s *stubStrategy) Infer(ctx context.Context, in *variant.Input, models variant.Models, creds model.ResolvedCredentials, params variant.Params) (*variant.InferenceResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &variant.InferenceResult{
		Output:                s.output,
		Usage:                 model.TokenUsage{InputTokens: 1, OutputTokens: 1, Reported: true},
		ModelInferenceResults: []variant.ModelInferenceRecord{{ModelName: "stub-model", ProviderName: "stub"}},
	}, nil
}

func (s *stubStrategy) InferStream(ctx context.Context, in *variant.Input, models variant.Models, creds model.ResolvedCredentials, params variant.Params, send variant.Sender) (*variant.InferenceResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	for _, o := range s.output {
		text := ""
		if o.Text != nil {
			text = *o.Text
		}
		if err := send(model.ProviderInferenceResponseChunk{Content: []model.ContentBlockChunk{{BlockID: "0", Text: text}}}); err != nil {
			return nil, err
		}
	}
	return &variant.InferenceResult{Output: s.output}, nil
}

func newTestGateway(fn *function.Function) (*Gateway, *eventstore.MemoryStore) {
	store := eventstore.NewMemoryStore()
	g := &Gateway{
		Dispatcher: &function.Dispatcher{Functions: map[string]*function.Function{fn.Name: fn}},
		Models:     stubModels{},
		Store:      store,
		Logger:     gwtelemetry.NewNoopLogger(),
		Metrics:    gwtelemetry.NewNoopMetrics(),
		Tracer:     gwtelemetry.NewNoopTracer(),
	}
	return g, store
}

type stubModels struct{}

func (stubModels) Model(name string) (variant.ModelCaller, bool) { return nil, false }

func TestInferModelNameSynthesizesEphemeralFunction(t *testing.T) {
	g, store := newTestGateway(&function.Function{Name: "unused"})

	resp, err := g.Infer(context.Background(), &Request{
		ModelName: "gpt-4o",
		Params:    variant.Params{},
	})
	require.Error(t, err)
	// ephemeral function's variant is a real ChatCompletion, which will
	// fail without a resolvable model; assert it surfaces as a classified
	// orchestrator error rather than panicking.
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Nil(t, resp)
	require.Empty(t, store.Inferences())
}

func TestInferBothFunctionAndModelNameErrors(t *testing.T) {
	g, _ := newTestGateway(&function.Function{Name: "greet"})

	_, err := g.Infer(context.Background(), &Request{FunctionName: "greet", ModelName: "gpt-4o"})
	require.Error(t, err)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindInvalidRequest, oerr.Kind)
}

func TestInferUnknownFunctionIsInvalidRequest(t *testing.T) {
	g, _ := newTestGateway(&function.Function{Name: "greet"})

	_, err := g.Infer(context.Background(), &Request{FunctionName: "missing"})
	require.Error(t, err)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindInvalidRequest, oerr.Kind)
}

func TestInferSucceedsAndPersists(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Strategy: &stubStrategy{output: textOutput("hi")}},
		},
	}
	g, store := newTestGateway(fn)

	resp, err := g.Infer(context.Background(), &Request{
		FunctionName: "greet",
		EpisodeID:    "ep-1",
	})
	require.NoError(t, err)
	require.Equal(t, "v1", resp.VariantName)
	require.Equal(t, "ep-1", resp.EpisodeID)

	require.Eventually(t, func() bool { return len(store.Inferences()) == 1 }, time.Second, time.Millisecond)
	row, ok := store.InferenceByID(resp.InferenceID)
	require.True(t, ok)
	require.Equal(t, "greet", row.FunctionName)
	require.Len(t, store.ModelInferences(), 1)
}

func TestInferDryrunSkipsPersistence(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Strategy: &stubStrategy{output: textOutput("hi")}},
		},
	}
	g, store := newTestGateway(fn)

	_, err := g.Infer(context.Background(), &Request{FunctionName: "greet", Dryrun: true})
	require.NoError(t, err)
	require.Empty(t, store.Inferences())
}

func TestInferAllVariantsExhaustedReportsPerVariantErrors(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Strategy: &stubStrategy{err: errors.New("boom-1")}},
			"v2": {Weight: 1, Strategy: &stubStrategy{err: errors.New("boom-2")}},
		},
	}
	g, _ := newTestGateway(fn)

	_, err := g.Infer(context.Background(), &Request{FunctionName: "greet"})
	require.Error(t, err)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindAllVariantsExhausted, oerr.Kind)
	detail, ok := oerr.Detail.(map[string]string)
	require.True(t, ok)
	require.Len(t, detail, 2)
}

func TestInferAsyncWritesAwaitsPersistence(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Strategy: &stubStrategy{output: textOutput("hi")}},
		},
	}
	g, store := newTestGateway(fn)

	resp, err := g.Infer(context.Background(), &Request{FunctionName: "greet", AsyncWrites: true})
	require.NoError(t, err)
	_, ok := store.InferenceByID(resp.InferenceID)
	require.True(t, ok)
}

func TestInferVariantTimeoutIsClassifiedAsInferenceTimeout(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Timeout: 10 * time.Millisecond, Strategy: &stubStrategy{delay: 200 * time.Millisecond}},
		},
	}
	g, _ := newTestGateway(fn)

	_, err := g.Infer(context.Background(), &Request{FunctionName: "greet"})
	require.Error(t, err)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindAllVariantsExhausted, oerr.Kind)
	detail, ok := oerr.Detail.(map[string]string)
	require.True(t, ok)
	require.Contains(t, detail["v1"], string(KindInferenceTimeout))
}

func TestInferStreamRelaysChunksAndRecordsTTFT(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, Strategy: &stubStrategy{output: textOutput("hi")}},
		},
	}
	g, store := newTestGateway(fn)

	var received []model.ProviderInferenceResponseChunk
	resp, err := g.InferStream(context.Background(), &Request{FunctionName: "greet"}, func(c model.ProviderInferenceResponseChunk) error {
		received = append(received, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.Eventually(t, func() bool {
		row, ok := store.InferenceByID(resp.InferenceID)
		return ok && row.TTFTMS != nil
	}, time.Second, time.Millisecond)
}

func TestInferStreamTTFTTimeoutExpiresBeforeFirstChunk(t *testing.T) {
	fn := &function.Function{
		Name: "greet",
		Variants: map[string]*function.VariantConfig{
			"v1": {Weight: 1, TTFTTimeout: 10 * time.Millisecond, Strategy: &stubStrategy{delay: 200 * time.Millisecond, output: textOutput("hi")}},
		},
	}
	g, _ := newTestGateway(fn)

	_, err := g.InferStream(context.Background(), &Request{FunctionName: "greet"}, func(model.ProviderInferenceResponseChunk) error { return nil })
	require.Error(t, err)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindAllVariantsExhausted, oerr.Kind)
}
