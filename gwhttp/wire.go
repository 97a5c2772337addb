// Package gwhttp implements the gateway's HTTP surface: the neutral
// /inference API, the OpenAI-compatible façade, and liveness/readiness
// probes, on top of net/http. Transport and framing only; request
// dispatch lives in orchestrator, wire translation for the OpenAI surface
// lives in openaicompat.
package gwhttp

import (
	"encoding/json"
	"fmt"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// inferenceRequest is the wire shape of POST /inference, the neutral API
// described by the gateway's own data model rather than any vendor's.
type inferenceRequest struct {
	FunctionName string `json:"function_name,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	VariantName  string `json:"variant_name,omitempty"`
	EpisodeID    string `json:"episode_id,omitempty"`

	Input       inputWire        `json:"input"`
	Params      *paramsWire      `json:"params,omitempty"`
	ToolConfig  *toolOverlayWire `json:"tool_config,omitempty"`

	Tags        map[string]string `json:"tags,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`

	Dryrun      bool `json:"dryrun,omitempty"`
	Stream      bool `json:"stream,omitempty"`
	AsyncWrites bool `json:"async_writes,omitempty"`
}

type inputWire struct {
	System   json.RawMessage `json:"system,omitempty"`
	Messages []messageWire   `json:"messages"`
}

type messageWire struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

type paramsWire struct {
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	Seed             *int64            `json:"seed,omitempty"`
	StopSequences    []string          `json:"stop_sequences,omitempty"`
	JSONMode         string            `json:"json_mode,omitempty"`
	OutputSchema     json.RawMessage   `json:"output_schema,omitempty"`
	ExtraBody        json.RawMessage   `json:"extra_body,omitempty"`
	ExtraHeaders     map[string]string `json:"extra_headers,omitempty"`
	ExtraCacheKey    string            `json:"extra_cache_key,omitempty"`
}

type toolOverlayWire struct {
	AllowedTools      []string        `json:"allowed_tools,omitempty"`
	AdditionalTools   []toolWire      `json:"additional_tools,omitempty"`
	ToolChoice        *toolChoiceWire `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
}

type toolWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

type toolChoiceWire struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// translateRequest converts the wire request into an orchestrator.Request,
// decoding the tagged content-block sum via its "type" discriminator, the
// same pattern model.Message's MarshalJSON/UnmarshalJSON use for Parts.
func translateRequest(w *inferenceRequest) (*orchestrator.Request, error) {
	messages := make([]variant.Message, 0, len(w.Input.Messages))
	for i, m := range w.Input.Messages {
		content := make([]variant.ContentBlock, 0, len(m.Content))
		for j, raw := range m.Content {
			block, err := decodeContentBlock(raw)
			if err != nil {
				return nil, fmt.Errorf("messages[%d].content[%d]: %w", i, j, err)
			}
			content = append(content, block)
		}
		messages = append(messages, variant.Message{Role: variant.Role(m.Role), Content: content})
	}

	req := &orchestrator.Request{
		FunctionName: w.FunctionName,
		ModelName:    w.ModelName,
		VariantName:  w.VariantName,
		EpisodeID:    w.EpisodeID,
		Input:        variant.Input{System: w.Input.System, Messages: messages},
		Tags:         w.Tags,
		Dryrun:       w.Dryrun,
		AsyncWrites:  w.AsyncWrites,
	}
	if len(w.Credentials) > 0 {
		req.Credentials = model.ResolvedCredentials{DynamicValues: w.Credentials}
	}
	if w.Params != nil {
		params, err := translateParams(w.Params)
		if err != nil {
			return nil, err
		}
		params.Stream = w.Stream
		req.Params = params
	} else {
		req.Params = variant.Params{Stream: w.Stream}
	}
	if w.ToolConfig != nil {
		overlay, err := translateToolOverlay(w.ToolConfig)
		if err != nil {
			return nil, err
		}
		req.DynamicTools = overlay
	}
	return req, nil
}

func decodeContentBlock(raw json.RawMessage) (variant.ContentBlock, error) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	switch disc.Type {
	case "text":
		var v struct {
			Text      string          `json:"text"`
			Arguments json.RawMessage `json:"arguments,omitempty"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return variant.Text{Text: v.Text, Arguments: v.Arguments}, nil
	case "raw_text":
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return variant.RawText{Text: v.Text}, nil
	case "tool_call":
		var v struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return variant.ToolCall{ID: v.ID, Name: v.Name, Arguments: v.Arguments}, nil
	case "tool_result":
		var v struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return variant.ToolResult{ID: v.ID, Name: v.Name, Result: v.Result}, nil
	case "file":
		var v struct {
			URL              string `json:"url"`
			Base64Data       string `json:"base64_data"`
			MIMEType         string `json:"mime_type"`
			ObjectStorageRef string `json:"object_storage_ref"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return variant.File{URL: v.URL, Base64Data: v.Base64Data, MIMEType: v.MIMEType, ObjectStorageRef: v.ObjectStorageRef}, nil
	default:
		return nil, fmt.Errorf("unrecognized content block type %q", disc.Type)
	}
}

func translateParams(w *paramsWire) (variant.Params, error) {
	var jsonMode model.JSONMode
	switch w.JSONMode {
	case "":
		jsonMode = model.JSONModeOff
	case string(model.JSONModeOff), string(model.JSONModeOn), string(model.JSONModeStrict), string(model.JSONModeTool):
		jsonMode = model.JSONMode(w.JSONMode)
	default:
		return variant.Params{}, fmt.Errorf("unrecognized json_mode %q", w.JSONMode)
	}
	return variant.Params{
		Temperature:      w.Temperature,
		TopP:             w.TopP,
		MaxTokens:        w.MaxTokens,
		PresencePenalty:  w.PresencePenalty,
		FrequencyPenalty: w.FrequencyPenalty,
		Seed:             w.Seed,
		StopSequences:    w.StopSequences,
		JSONMode:         jsonMode,
		OutputSchema:     w.OutputSchema,
		ExtraBody:        w.ExtraBody,
		ExtraHeaders:     w.ExtraHeaders,
		ExtraCacheKey:    w.ExtraCacheKey,
	}, nil
}

func translateToolChoice(w *toolChoiceWire) (variant.ToolChoice, error) {
	switch w.Mode {
	case string(model.ToolChoiceModeNone):
		return variant.ToolChoice{Mode: model.ToolChoiceModeNone}, nil
	case string(model.ToolChoiceModeAuto):
		return variant.ToolChoice{Mode: model.ToolChoiceModeAuto}, nil
	case string(model.ToolChoiceModeRequired):
		return variant.ToolChoice{Mode: model.ToolChoiceModeRequired}, nil
	case string(model.ToolChoiceModeSpecific):
		if w.Name == "" {
			return variant.ToolChoice{}, fmt.Errorf("tool_choice mode %q requires a name", w.Mode)
		}
		return variant.ToolChoice{Mode: model.ToolChoiceModeSpecific, Name: w.Name}, nil
	default:
		return variant.ToolChoice{}, fmt.Errorf("unrecognized tool_choice mode %q", w.Mode)
	}
}

func translateToolOverlay(w *toolOverlayWire) (*variant.DynamicToolOverlay, error) {
	overlay := &variant.DynamicToolOverlay{
		AllowedTools:      w.AllowedTools,
		ParallelToolCalls: w.ParallelToolCalls,
	}
	for _, t := range w.AdditionalTools {
		overlay.AdditionalTools = append(overlay.AdditionalTools, variant.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
			Strict:      t.Strict,
		})
	}
	if w.ToolChoice != nil {
		choice, err := translateToolChoice(w.ToolChoice)
		if err != nil {
			return nil, err
		}
		overlay.ToolChoice = &choice
	}
	return overlay, nil
}

// inferenceResponse is the wire shape of a unary /inference response.
type inferenceResponse struct {
	InferenceID  string               `json:"inference_id"`
	EpisodeID    string               `json:"episode_id"`
	VariantName  string               `json:"variant_name"`
	FunctionName string               `json:"function_name"`
	FunctionType model.FunctionType   `json:"function_type"`
	Output       []json.RawMessage    `json:"output"`
	Usage        usageWire            `json:"usage"`
	FinishReason model.FinishReason   `json:"finish_reason"`
}

type usageWire struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func translateResponse(resp *orchestrator.Response) (*inferenceResponse, error) {
	output := make([]json.RawMessage, 0, len(resp.Output))
	for i, block := range resp.Output {
		enc, err := encodeContentBlockOutput(block)
		if err != nil {
			return nil, fmt.Errorf("output[%d]: %w", i, err)
		}
		output = append(output, enc)
	}
	return &inferenceResponse{
		InferenceID:  resp.InferenceID,
		EpisodeID:    resp.EpisodeID,
		VariantName:  resp.VariantName,
		FunctionName: resp.FunctionName,
		FunctionType: resp.FunctionType,
		Output:       output,
		Usage:        usageWire{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		FinishReason: resp.FinishReason,
	}, nil
}

func encodeContentBlockOutput(b model.ContentBlockOutput) (json.RawMessage, error) {
	switch {
	case b.ToolCall != nil:
		return json.Marshal(struct {
			Type      string `json:"type"`
			ID        string `json:"id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{Type: "tool_call", ID: b.ToolCall.ID, Name: b.ToolCall.Name, Arguments: b.ToolCall.Arguments})
	case b.Text != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: "text", Text: *b.Text})
	default:
		return nil, fmt.Errorf("content block has neither text nor tool_call set")
	}
}

// chunkWire is the wire shape of one /inference SSE event.
type chunkWire struct {
	Content      []chunkContentWire `json:"content,omitempty"`
	Usage        *usageWire         `json:"usage,omitempty"`
	FinishReason *model.FinishReason `json:"finish_reason,omitempty"`
}

type chunkContentWire struct {
	BlockID           string `json:"block_id"`
	Text              string `json:"text,omitempty"`
	ToolCallID        string `json:"tool_call_id,omitempty"`
	ToolCallName      string `json:"tool_call_name,omitempty"`
	ToolCallArgDelta  string `json:"tool_call_arg_delta,omitempty"`
	ToolCallFinal     bool   `json:"tool_call_final,omitempty"`
	ToolCallArguments string `json:"tool_call_arguments,omitempty"`
}

func translateChunk(c variant.StreamChunk) chunkWire {
	out := chunkWire{FinishReason: c.FinishReason}
	if c.Usage != nil {
		out.Usage = &usageWire{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
	}
	for _, part := range c.Content {
		out.Content = append(out.Content, chunkContentWire{
			BlockID:           part.BlockID,
			Text:              part.Text,
			ToolCallID:        part.ToolCallID,
			ToolCallName:      part.ToolCallName,
			ToolCallArgDelta:  part.ToolCallArgDelta,
			ToolCallFinal:     part.ToolCallFinal,
			ToolCallArguments: part.ToolCallArguments,
		})
	}
	return out
}
