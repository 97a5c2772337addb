package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestTranslateRequestFunctionNamePrefix(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:    "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{{Role: "user", Content: rawString("hi")}},
	}
	out, warnings, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "basic_test", out.FunctionName)
	require.Empty(t, out.ModelName)
}

func TestTranslateRequestModelNamePrefix(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:    "tensorzero::model_name::gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: rawString("hi")}},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", out.ModelName)
}

func TestTranslateRequestDeprecatedPrefixWarns(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:    "tensorzero::basic_test",
		Messages: []ChatMessage{{Role: "user", Content: rawString("hi")}},
	}
	out, warnings, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Equal(t, "basic_test", out.FunctionName)
	require.Len(t, warnings, 1)
}

func TestTranslateRequestRejectsUnprefixedModel(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: rawString("hi")}},
	}
	_, _, err := TranslateRequest(req)
	require.Error(t, err)
	var oerr *orchestrator.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, orchestrator.KindInvalidOpenAICompatibleRequest, oerr.Kind)
}

func TestTranslateRequestMaxTokensTakesMinimum(t *testing.T) {
	mt, mct := 100, 50
	req := &ChatCompletionRequest{
		Model:               "tensorzero::function_name::basic_test",
		Messages:            []ChatMessage{{Role: "user", Content: rawString("hi")}},
		MaxTokens:           &mt,
		MaxCompletionTokens: &mct,
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Equal(t, 50, *out.Params.MaxTokens)
}

func TestTranslateRequestResponseFormatJSONSchema(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:    "tensorzero::function_name::dynamic_json",
		Messages: []ChatMessage{{Role: "user", Content: rawString("hi")}},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchemaWire{Name: "out", Schema: json.RawMessage(`{"type":"object"}`)},
		},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Equal(t, model.JSONModeStrict, out.Params.JSONMode)
	require.JSONEq(t, `{"type":"object"}`, string(out.Params.OutputSchema))
}

func TestTranslateRequestLeadingSystemMessagesConcatenate(t *testing.T) {
	req := &ChatCompletionRequest{
		Model: "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{
			{Role: "system", Content: rawString("part one")},
			{Role: "system", Content: rawString("part two")},
			{Role: "user", Content: rawString("hi")},
		},
	}
	out, warnings, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Empty(t, warnings)
	var system string
	require.NoError(t, json.Unmarshal(out.Input.System, &system))
	require.Equal(t, "part one\npart two", system)
	require.Len(t, out.Input.Messages, 1)
}

func TestTranslateRequestNonLeadingSystemMessageRelocatedWithWarning(t *testing.T) {
	req := &ChatCompletionRequest{
		Model: "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{
			{Role: "user", Content: rawString("hi")},
			{Role: "system", Content: rawString("late instructions")},
		},
	}
	out, warnings, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	var system string
	require.NoError(t, json.Unmarshal(out.Input.System, &system))
	require.Equal(t, "late instructions", system)
	require.Len(t, out.Input.Messages, 1)
}

func TestTranslateRequestToolMessageRewritesToToolResult(t *testing.T) {
	req := &ChatCompletionRequest{
		Model: "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{
			{Role: "user", Content: rawString("what's the temperature?")},
			{
				Role: "assistant",
				ToolCalls: []ToolCallWire{
					{ID: "call_1", Type: "function", Function: FunctionCallWire{Name: "get_temperature", Arguments: `{"city":"Tokyo"}`}},
				},
			},
			{Role: "tool", ToolCallID: "call_1", Content: rawString("70")},
		},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Input.Messages, 3)

	assistant := out.Input.Messages[1]
	require.Equal(t, variant.RoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 1)
	tc, ok := assistant.Content[0].(variant.ToolCall)
	require.True(t, ok)
	require.Equal(t, "get_temperature", tc.Name)

	toolResultTurn := out.Input.Messages[2]
	require.Equal(t, variant.RoleUser, toolResultTurn.Role)
	require.Len(t, toolResultTurn.Content, 1)
	tr, ok := toolResultTurn.Content[0].(variant.ToolResult)
	require.True(t, ok)
	require.Equal(t, "get_temperature", tr.Name)
	require.Equal(t, "70", tr.Result)
}

func TestTranslateRequestToolMessageWithUnknownCallIDErrors(t *testing.T) {
	req := &ChatCompletionRequest{
		Model: "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{
			{Role: "tool", ToolCallID: "missing", Content: rawString("70")},
		},
	}
	_, _, err := TranslateRequest(req)
	require.Error(t, err)
	var oerr *orchestrator.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, orchestrator.KindInvalidOpenAICompatibleRequest, oerr.Kind)
}

func TestTranslateRequestTensorZeroArgumentsContentBlock(t *testing.T) {
	block := json.RawMessage(`[{"type":"text","tensorzero::arguments":{"country":"Japan"}}]`)
	req := &ChatCompletionRequest{
		Model:    "tensorzero::function_name::dynamic_json",
		Messages: []ChatMessage{{Role: "user", Content: block}},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	text, ok := out.Input.Messages[0].Content[0].(variant.Text)
	require.True(t, ok)
	require.JSONEq(t, `{"country":"Japan"}`, string(text.Arguments))
}

func TestTranslateRequestBase64ImageBecomesFile(t *testing.T) {
	block := json.RawMessage(`[{"type":"image_url","image_url":{"url":"data:image/png;base64,QUFB"}}]`)
	req := &ChatCompletionRequest{
		Model:    "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{{Role: "user", Content: block}},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	file, ok := out.Input.Messages[0].Content[0].(variant.File)
	require.True(t, ok)
	require.Equal(t, "image/png", file.MIMEType)
	require.Equal(t, "QUFB", file.Base64Data)
}

func TestTranslateRequestRemoteImageURLBecomesFile(t *testing.T) {
	block := json.RawMessage(`[{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}]`)
	req := &ChatCompletionRequest{
		Model:    "tensorzero::function_name::basic_test",
		Messages: []ChatMessage{{Role: "user", Content: block}},
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	file, ok := out.Input.Messages[0].Content[0].(variant.File)
	require.True(t, ok)
	require.Equal(t, "https://example.com/cat.png", file.URL)
}

func TestTranslateRequestToolChoiceSpecific(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:      "tensorzero::function_name::basic_test",
		Messages:   []ChatMessage{{Role: "user", Content: rawString("hi")}},
		Tools:      []ChatTool{{Type: "function", Function: ToolFunctionWire{Name: "self_destruct"}}},
		ToolChoice: json.RawMessage(`{"type":"function","function":{"name":"self_destruct"}}`),
	}
	out, _, err := TranslateRequest(req)
	require.NoError(t, err)
	require.NotNil(t, out.DynamicTools)
	require.NotNil(t, out.DynamicTools.ToolChoice)
	require.Equal(t, model.ToolChoiceModeSpecific, out.DynamicTools.ToolChoice.Mode)
	require.Equal(t, "self_destruct", out.DynamicTools.ToolChoice.Name)
}
