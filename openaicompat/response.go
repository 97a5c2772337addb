package openaicompat

import (
	"fmt"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
)

type (
	// ChatCompletionResponse is the OpenAI chat.completion response object
	// shape this translator produces for a unary inference.
	ChatCompletionResponse struct {
		ID      string   `json:"id"`
		Object  string   `json:"object"`
		Created int64    `json:"created"`
		Model   string   `json:"model"`
		Choices []Choice `json:"choices"`
		Usage   Usage    `json:"usage"`
	}

	// Choice is a single chat.completion choice; this translator always
	// produces exactly one.
	Choice struct {
		Index        int           `json:"index"`
		Message      ChoiceMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	}

	// ChoiceMessage is a completed choice's message body.
	ChoiceMessage struct {
		Role      string         `json:"role"`
		Content   *string        `json:"content"`
		ToolCalls []ToolCallWire `json:"tool_calls,omitempty"`
	}

	// Usage is the OpenAI token usage accounting block.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}
)

// wireModelName formats the model identifier this translator reports back
// to the caller: "tensorzero::function_name::<fn>::variant_name::<variant>".
func wireModelName(functionName, variantName string) string {
	return fmt.Sprintf("tensorzero::function_name::%s::variant_name::%s", functionName, variantName)
}

// TranslateResponse converts a completed orchestrator.Response into the
// OpenAI chat.completion response shape. created is the unix timestamp the
// caller stamps the response with (passed in rather than read from the
// clock here, so this package stays pure and testable).
func TranslateResponse(resp *orchestrator.Response, created int64) *ChatCompletionResponse {
	var text strings.Builder
	var toolCalls []ToolCallWire
	for _, block := range resp.Output {
		if block.Text != nil {
			text.WriteString(*block.Text)
		}
		if block.ToolCall != nil {
			toolCalls = append(toolCalls, ToolCallWire{
				ID:   block.ToolCall.ID,
				Type: "function",
				Function: FunctionCallWire{
					Name:      block.ToolCall.Name,
					Arguments: block.ToolCall.Arguments,
				},
			})
		}
	}

	var content *string
	if text.Len() > 0 || len(toolCalls) == 0 {
		s := text.String()
		content = &s
	}

	return &ChatCompletionResponse{
		ID:      resp.InferenceID,
		Object:  "chat.completion",
		Created: created,
		Model:   wireModelName(resp.FunctionName, resp.VariantName),
		Choices: []Choice{{
			Index: 0,
			Message: ChoiceMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: translateFinishReason(resp.FinishReason),
		}},
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func translateFinishReason(r model.FinishReason) string {
	switch r {
	case model.FinishReasonStop:
		return "stop"
	case model.FinishReasonLength:
		return "length"
	case model.FinishReasonContentFilter:
		return "content_filter"
	case model.FinishReasonToolCall:
		return "tool_calls"
	default:
		return "stop"
	}
}
