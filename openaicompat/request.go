// Package openaicompat translates between the OpenAI Chat Completions wire
// format and the gateway's neutral orchestrator.Request/Response shape, so
// callers using an OpenAI client library can point it at this gateway
// instead. It owns only translation: the HTTP transport, SSE framing, and
// routing live in gwhttp.
package openaicompat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

const (
	functionNamePrefix = "tensorzero::function_name::"
	modelNamePrefix    = "tensorzero::model_name::"
	deprecatedPrefix   = "tensorzero::"
)

type (
	// ChatCompletionRequest is the subset of the OpenAI Chat Completions
	// request body this gateway accepts, plus the tensorzero:: extension
	// fields.
	ChatCompletionRequest struct {
		Model               string          `json:"model"`
		Messages            []ChatMessage   `json:"messages"`
		MaxTokens           *int            `json:"max_tokens,omitempty"`
		MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
		Temperature         *float64        `json:"temperature,omitempty"`
		TopP                *float64        `json:"top_p,omitempty"`
		PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
		FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
		Seed                *int64          `json:"seed,omitempty"`
		Stop                json.RawMessage `json:"stop,omitempty"`
		Stream              bool            `json:"stream,omitempty"`
		ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
		Tools               []ChatTool      `json:"tools,omitempty"`
		ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
		ParallelToolCalls   *bool           `json:"parallel_tool_calls,omitempty"`

		TensorZeroVariantName string          `json:"tensorzero::variant_name,omitempty"`
		TensorZeroEpisodeID   string          `json:"tensorzero::episode_id,omitempty"`
		TensorZeroDryrun      *bool           `json:"tensorzero::dryrun,omitempty"`
		TensorZeroTags        map[string]string `json:"tensorzero::tags,omitempty"`
	}

	// ChatMessage is one OpenAI-shaped conversation message.
	ChatMessage struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content,omitempty"`
		ToolCalls  []ToolCallWire  `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
		Name       string          `json:"name,omitempty"`
	}

	// ToolCallWire is an assistant-emitted tool invocation on the wire.
	ToolCallWire struct {
		ID       string           `json:"id"`
		Type     string           `json:"type"`
		Function FunctionCallWire `json:"function"`
	}

	// FunctionCallWire carries a tool call's name and JSON argument string.
	FunctionCallWire struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// ContentBlockWire is one element of a multi-part message content
	// array.
	ContentBlockWire struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		ImageURL  *ImageURLWire   `json:"image_url,omitempty"`
		Arguments json.RawMessage `json:"tensorzero::arguments,omitempty"`
	}

	// ImageURLWire carries an image_url content block's url, which is
	// either a remote URL or a base64 data URL.
	ImageURLWire struct {
		URL string `json:"url"`
	}

	// ResponseFormat mirrors OpenAI's response_format request field.
	ResponseFormat struct {
		Type       string          `json:"type"`
		JSONSchema *JSONSchemaWire `json:"json_schema,omitempty"`
	}

	// JSONSchemaWire carries a response_format:"json_schema" payload.
	JSONSchemaWire struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema,omitempty"`
		Strict bool            `json:"strict,omitempty"`
	}

	// ChatTool is an OpenAI-shaped tool declaration.
	ChatTool struct {
		Type     string           `json:"type"`
		Function ToolFunctionWire `json:"function"`
	}

	// ToolFunctionWire is a tool declaration's function body.
	ToolFunctionWire struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
		Strict      bool            `json:"strict,omitempty"`
	}
)

// wireToolChoice is the shape tool_choice takes when it is an object rather
// than one of the bare strings "none"/"auto"/"required".
type wireToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func invalidRequest(format string, args ...any) error {
	return &orchestrator.Error{Kind: orchestrator.KindInvalidOpenAICompatibleRequest, Message: fmt.Sprintf(format, args...)}
}

// TranslateRequest converts an OpenAI-shaped chat completion request into
// the gateway's neutral Request. Non-fatal shape issues (a deprecated model
// prefix, a relocated system message) are returned as warnings rather than
// errors. The caller (gwhttp) still populates Credentials and
// APIKeyPublicID from the inbound HTTP request before dispatching.
func TranslateRequest(req *ChatCompletionRequest) (*orchestrator.Request, []string, error) {
	var warnings []string

	functionName, modelName, err := parseModelField(req.Model, &warnings)
	if err != nil {
		return nil, warnings, err
	}

	maxTokens := minMaxTokens(req.MaxTokens, req.MaxCompletionTokens)

	jsonMode, outputSchema, err := translateResponseFormat(req.ResponseFormat)
	if err != nil {
		return nil, warnings, err
	}

	stopSequences, err := translateStop(req.Stop)
	if err != nil {
		return nil, warnings, err
	}

	input, err := translateMessages(req.Messages, &warnings)
	if err != nil {
		return nil, warnings, err
	}

	dynamicTools, err := translateTools(req.Tools, req.ToolChoice, req.ParallelToolCalls)
	if err != nil {
		return nil, warnings, err
	}

	var dryrun bool
	if req.TensorZeroDryrun != nil {
		dryrun = *req.TensorZeroDryrun
	}

	out := &orchestrator.Request{
		FunctionName: functionName,
		ModelName:    modelName,
		VariantName:  req.TensorZeroVariantName,
		EpisodeID:    req.TensorZeroEpisodeID,
		Input:        *input,
		Params: variant.Params{
			MaxTokens:        maxTokens,
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			PresencePenalty:  req.PresencePenalty,
			FrequencyPenalty: req.FrequencyPenalty,
			Seed:             req.Seed,
			StopSequences:    stopSequences,
			JSONMode:         jsonMode,
			OutputSchema:     outputSchema,
			Stream:           req.Stream,
		},
		DynamicTools: dynamicTools,
		Tags:         req.TensorZeroTags,
		Dryrun:       dryrun,
	}
	return out, warnings, nil
}

func parseModelField(raw string, warnings *[]string) (functionName, modelName string, err error) {
	switch {
	case strings.HasPrefix(raw, functionNamePrefix):
		return strings.TrimPrefix(raw, functionNamePrefix), "", nil
	case strings.HasPrefix(raw, modelNamePrefix):
		return "", strings.TrimPrefix(raw, modelNamePrefix), nil
	case strings.HasPrefix(raw, deprecatedPrefix):
		name := strings.TrimPrefix(raw, deprecatedPrefix)
		*warnings = append(*warnings, fmt.Sprintf(
			"model %q uses the deprecated bare tensorzero:: prefix; use tensorzero::function_name:: instead", raw))
		return name, "", nil
	default:
		return "", "", invalidRequest(
			"model must begin with %q or %q, got %q", functionNamePrefix, modelNamePrefix, raw)
	}
}

func minMaxTokens(maxTokens, maxCompletionTokens *int) *int {
	switch {
	case maxTokens == nil:
		return maxCompletionTokens
	case maxCompletionTokens == nil:
		return maxTokens
	case *maxCompletionTokens < *maxTokens:
		return maxCompletionTokens
	default:
		return maxTokens
	}
}

func translateResponseFormat(rf *ResponseFormat) (model.JSONMode, json.RawMessage, error) {
	if rf == nil {
		return model.JSONModeOff, nil, nil
	}
	switch rf.Type {
	case "", "text":
		return model.JSONModeOff, nil, nil
	case "json_object":
		return model.JSONModeOn, nil, nil
	case "json_schema":
		if rf.JSONSchema == nil {
			return "", nil, invalidRequest("response_format:json_schema requires a json_schema object")
		}
		return model.JSONModeStrict, rf.JSONSchema.Schema, nil
	default:
		return "", nil, invalidRequest("unrecognized response_format type %q", rf.Type)
	}
}

func translateStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	return nil, invalidRequest("stop must be a string or an array of strings")
}

func translateTools(tools []ChatTool, toolChoiceRaw json.RawMessage, parallel *bool) (*variant.DynamicToolOverlay, error) {
	if len(tools) == 0 && len(toolChoiceRaw) == 0 && parallel == nil {
		return nil, nil
	}
	overlay := &variant.DynamicToolOverlay{ParallelToolCalls: parallel}
	for _, t := range tools {
		overlay.AdditionalTools = append(overlay.AdditionalTools, variant.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
			Strict:      t.Function.Strict,
		})
	}
	if len(toolChoiceRaw) > 0 {
		choice, err := translateToolChoice(toolChoiceRaw)
		if err != nil {
			return nil, err
		}
		overlay.ToolChoice = choice
	}
	return overlay, nil
}

func translateToolChoice(raw json.RawMessage) (*variant.ToolChoice, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		switch bare {
		case "none":
			return &variant.ToolChoice{Mode: model.ToolChoiceModeNone}, nil
		case "auto":
			return &variant.ToolChoice{Mode: model.ToolChoiceModeAuto}, nil
		case "required":
			return &variant.ToolChoice{Mode: model.ToolChoiceModeRequired}, nil
		default:
			return nil, invalidRequest("unrecognized tool_choice %q", bare)
		}
	}
	var wire wireToolChoice
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, invalidRequest("tool_choice is neither a recognized string nor an object: %s", err)
	}
	if wire.Type != "function" || wire.Function.Name == "" {
		return nil, invalidRequest("tool_choice object must be {\"type\":\"function\",\"function\":{\"name\":...}}")
	}
	return &variant.ToolChoice{Mode: model.ToolChoiceModeSpecific, Name: wire.Function.Name}, nil
}
