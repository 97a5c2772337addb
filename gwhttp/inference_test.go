package gwhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// stubStrategy is modeled directly on orchestrator_test.go's fixture of the
// same name: a variant.Strategy that returns a canned result or error
// without talking to any provider.
type stubStrategy struct {
	output []model.ContentBlockOutput
	err    error
}

func (s *stubStrategy) Infer(ctx context.Context, in *variant.Input, models variant.Models, creds model.ResolvedCredentials, params variant.Params) (*variant.InferenceResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &variant.InferenceResult{
		Output: s.output,
		Usage:  model.TokenUsage{InputTokens: 1, OutputTokens: 1, Reported: true},
	}, nil
}

func (s *stubStrategy) InferStream(ctx context.Context, in *variant.Input, models variant.Models, creds model.ResolvedCredentials, params variant.Params, send variant.Sender) (*variant.InferenceResult, error) {
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

type stubModels struct{}

func (stubModels) Model(name string) (variant.ModelCaller, bool) { return nil, false }

func textOutput(s string) []model.ContentBlockOutput {
	return []model.ContentBlockOutput{{Text: &s}}
}

func newTestServer(strategy variant.Strategy) *Server {
	fn := &function.Function{
		Name: "greet",
		Type: variant.FunctionTypeChat,
		Variants: map[string]*function.VariantConfig{
			"default": {Strategy: strategy, Weight: 1},
		},
	}
	gw := &orchestrator.Gateway{
		Dispatcher: &function.Dispatcher{Functions: map[string]*function.Function{fn.Name: fn}},
		Models:     stubModels{},
		Store:      eventstore.NewMemoryStore(),
		Logger:     gwtelemetry.NewNoopLogger(),
		Metrics:    gwtelemetry.NewNoopMetrics(),
		Tracer:     gwtelemetry.NewNoopTracer(),
	}
	return &Server{Gateway: gw}
}

func TestHandleInferenceUnarySuccess(t *testing.T) {
	s := newTestServer(&stubStrategy{output: textOutput("hi there")})

	body := `{"function_name":"greet","input":{"messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}}`
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out inferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "greet", out.FunctionName)
	require.Len(t, out.Output, 1)
	assert.JSONEq(t, `{"type":"text","text":"hi there"}`, string(out.Output[0]))
}

func TestHandleInferenceMalformedBodyIsInvalidRequest(t *testing.T) {
	s := newTestServer(&stubStrategy{})
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orchestrator.KindInvalidRequest, body.ErrorJSON.Kind)
}

func TestHandleInferenceUnknownFunctionIsInvalidRequest(t *testing.T) {
	s := newTestServer(&stubStrategy{})
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(`{"function_name":"missing","input":{"messages":[]}}`))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orchestrator.KindInvalidRequest, body.ErrorJSON.Kind)
}

func TestHandleInferenceAllVariantsExhaustedIsBadGateway(t *testing.T) {
	s := newTestServer(&stubStrategy{err: assertErr{"upstream exploded"}})
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(`{"function_name":"greet","input":{"messages":[]}}`))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orchestrator.KindAllVariantsExhausted, body.ErrorJSON.Kind)
}

func TestHandleInferenceStreamEmitsChunksAndDone(t *testing.T) {
	s := newTestServer(&stubStrategy{output: []model.ContentBlockOutput{{Text: strPtr("a")}, {Text: strPtr("b")}}})
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(`{"function_name":"greet","stream":true,"input":{"messages":[]}}`))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"text":"a"`)
	assert.Contains(t, body, `"text":"b"`)
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestHandleInferenceStreamErrorDoesNotDropDone(t *testing.T) {
	s := newTestServer(&stubStrategy{err: assertErr{"boom"}})
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewBufferString(`{"function_name":"greet","stream":true,"input":{"messages":[]}}`))
	rec := httptest.NewRecorder()

	s.handleInference(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"error"`)
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStatusReportsReadiness(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(&stubStrategy{})
	rec = httptest.NewRecorder()
	s.handleStatus(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatusHonorsReadyHook(t *testing.T) {
	s := newTestServer(&stubStrategy{})
	s.Ready = func() bool { return false }
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleBatchInferenceIsNotImplemented(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/batch_inference", nil)
	rec := httptest.NewRecorder()

	s.handleBatchInference(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// assertErr is a minimal error type distinct from *orchestrator.Error, so
// the Dispatch/classification path (rather than a caller-supplied Error)
// is what's under test.
type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func strPtr(s string) *string { return &s }
