package openaicompat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
)

func textBlock(s string) model.ContentBlockOutput {
	return model.ContentBlockOutput{Text: &s}
}

func TestTranslateResponseTextOnly(t *testing.T) {
	resp := &orchestrator.Response{
		InferenceID:  "inf-1",
		FunctionName: "basic_test",
		VariantName:  "v1",
		Output:       []model.ContentBlockOutput{textBlock("Tokyo")},
		Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 2, Reported: true},
		FinishReason: model.FinishReasonStop,
	}
	out := TranslateResponse(resp, 1234)
	require.Equal(t, "chat.completion", out.Object)
	require.Equal(t, "tensorzero::function_name::basic_test::variant_name::v1", out.Model)
	require.Len(t, out.Choices, 1)
	require.Equal(t, "assistant", out.Choices[0].Message.Role)
	require.Equal(t, "Tokyo", *out.Choices[0].Message.Content)
	require.Equal(t, "stop", out.Choices[0].FinishReason)
	require.Equal(t, 10, out.Usage.PromptTokens)
	require.Equal(t, 2, out.Usage.CompletionTokens)
	require.Equal(t, 12, out.Usage.TotalTokens)
}

func TestTranslateResponseToolCall(t *testing.T) {
	resp := &orchestrator.Response{
		InferenceID:  "inf-2",
		FunctionName: "tool_test",
		VariantName:  "v1",
		Output: []model.ContentBlockOutput{
			{ToolCall: &model.ToolCallPart{ID: "call_1", Name: "self_destruct", Arguments: "{}"}},
		},
		FinishReason: model.FinishReasonToolCall,
	}
	out := TranslateResponse(resp, 1234)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	require.Equal(t, "self_destruct", out.Choices[0].Message.ToolCalls[0].Function.Name)
	require.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	require.Nil(t, out.Choices[0].Message.Content)
}
