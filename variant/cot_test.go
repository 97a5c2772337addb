package variant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func TestChainOfThoughtWrapsSchemaAndUnwrapsResponse(t *testing.T) {
	wrappedResponse := `{"thought":"I should say hi","response":"hello"}`
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput(wrappedResponse)}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	c := &ChainOfThought{Chat: &ChatCompletion{Name: "cot", ModelName: "gpt"}}
	res, err := c.Infer(context.Background(), &Input{}, models, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, `"hello"`, *res.Output[0].Text)

	require.NotNil(t, caller.inferReq.OutputSchema)
	require.Contains(t, string(caller.inferReq.OutputSchema), `"thought"`)
	require.Equal(t, model.JSONModeOn, caller.inferReq.JSONMode)
}

func TestChainOfThoughtPreservesConfiguredSchemaInsideEnvelope(t *testing.T) {
	wrappedResponse := `{"thought":"t","response":{"answer":42}}`
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput(wrappedResponse)}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	c := &ChainOfThought{Chat: &ChatCompletion{Name: "cot", ModelName: "gpt"}}
	schema := []byte(`{"type":"object","properties":{"answer":{"type":"integer"}}}`)
	res, err := c.Infer(context.Background(), &Input{}, models, model.NoneCredentials{}, Params{OutputSchema: schema})
	require.NoError(t, err)
	require.JSONEq(t, `{"answer":42}`, *res.Output[0].Text)
	require.Contains(t, string(caller.inferReq.OutputSchema), `"answer"`)
}

func TestChainOfThoughtRejectsMalformedEnvelope(t *testing.T) {
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput("not json")}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	c := &ChainOfThought{Chat: &ChatCompletion{Name: "cot", ModelName: "gpt"}}
	_, err := c.Infer(context.Background(), &Input{}, models, model.NoneCredentials{}, Params{})
	require.Error(t, err)
}
