// Package openai implements model.Adapter against the OpenAI Chat
// Completions API using github.com/openai/openai-go, upgrading the JSON/tool
// coercion and streaming support beyond a bare chat-completion call.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/toolcoerce"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	// Model is the concrete OpenAI model identifier this adapter calls.
	Model string

	// BaseURL overrides the API endpoint for OpenAI-compatible services.
	// The azureopenai package does not set it; it supplies its deployment
	// URL through NewChatClient.
	BaseURL string

	MaxTokens   int
	Temperature float64

	Credentials model.Credentials
	HTTPClient  *http.Client

	// VendorName overrides the adapter's Name()/error-taxonomy identifier,
	// used by the azureopenai package to report "azureopenai" while reusing
	// this package's wire format.
	VendorName string

	// NewChatClient builds the SDK chat-completions client for a resolved
	// API key. Defaults to a real *sdk.Client pointed at BaseURL using
	// bearer auth; azureopenai overrides this to authenticate with an
	// "api-key" header and an api-version query parameter instead.
	NewChatClient func(apiKey string) ChatClient
}

// Client implements model.Adapter on top of OpenAI Chat Completions.
type Client struct {
	opts Options
	caps toolcoerce.VendorCapabilities
}

// New constructs an OpenAI adapter.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.NewChatClient == nil {
		httpClient := opts.HTTPClient
		baseURL := opts.BaseURL
		opts.NewChatClient = func(apiKey string) ChatClient {
			reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
			if baseURL != "" {
				reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
			}
			cl := sdk.NewClient(reqOpts...)
			return &cl.Chat.Completions
		}
	}
	if opts.VendorName == "" {
		opts.VendorName = "openai"
	}
	return &Client{
		opts: opts,
		caps: toolcoerce.VendorCapabilities{
			Name:                     opts.VendorName,
			SupportsJSONSchema:       func(string) bool { return true },
			SupportsStrictJSONMode:   func(string) bool { return true },
			SupportsForcedToolChoice: func(string) bool { return true },
			NoneOmitsToolsField:      false,
		},
	}, nil
}

// Name identifies the adapter.
func (c *Client) Name() string { return c.opts.VendorName }

func (c *Client) chatClient(creds model.ResolvedCredentials) (ChatClient, error) {
	key, err := model.ResolveAPIKey(creds)
	if err != nil {
		return nil, model.NewProviderError(c.opts.VendorName, "auth", 0, model.ProviderErrorKindCredentials, err.Error(), err)
	}
	return c.opts.NewChatClient(key), nil
}

// Infer issues a non-streaming Chat Completions request.
func (c *Client) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	cl, err := c.chatClient(creds)
	if err != nil {
		return nil, err
	}
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	completion, err := cl.New(ctx, *params)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyError(c.opts.VendorName, "chat.completions.new", err)
	}
	resp, err := translateResponse(completion)
	if err != nil {
		return nil, model.NewProviderError(c.opts.VendorName, "chat.completions.new", 0, model.ProviderErrorKindServer, err.Error(), err)
	}
	resp.Latency = latency
	return resp, nil
}

// InferStream invokes Chat Completions streaming mode.
func (c *Client) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	cl, err := c.chatClient(creds)
	if err != nil {
		return nil, err
	}
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}
	stream := cl.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError(c.opts.VendorName, "chat.completions.new_streaming", err)
	}
	st := newStreamer(ctx, stream)
	if err := st.peekFirst(); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.Model
	}

	plan, err := toolcoerce.Coerce(req, c.caps)
	if err != nil {
		return nil, err
	}

	tools := req.ToolConfig
	if plan.ImplicitTool != nil {
		merged := model.ToolConfig{}
		if tools != nil {
			merged = *tools
		}
		merged.Tools = append(append([]model.Tool{}, merged.Tools...), *plan.ImplicitTool)
		merged.ToolChoice = plan.EffectiveToolChoice
		tools = &merged
	} else if tools != nil {
		overridden := *tools
		overridden.ToolChoice = plan.EffectiveToolChoice
		tools = &overridden
	}

	msgs, err := encodeMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	if t := req.Temperature; t != nil {
		params.Temperature = sdk.Float(*t)
	} else if c.opts.Temperature > 0 {
		params.Temperature = sdk.Float(c.opts.Temperature)
	}
	if t := req.TopP; t != nil {
		params.TopP = sdk.Float(*t)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if req.Seed != nil {
		params.Seed = sdk.Int(*req.Seed)
	}

	if plan.SendJSONMode {
		if plan.SendOutputSchema && len(req.OutputSchema) > 0 {
			schema, err := toolcoerce.SanitizeOutputSchema(req.OutputSchema)
			if err != nil {
				return nil, err
			}
			var schemaMap map[string]any
			if err := json.Unmarshal(schema, &schemaMap); err != nil {
				return nil, fmt.Errorf("openai: output schema: %w", err)
			}
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   "response",
						Schema: schemaMap,
						Strict: sdk.Bool(true),
					},
				},
			}
		} else {
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	if tools != nil && len(tools.Tools) > 0 {
		sdkTools := make([]sdk.ChatCompletionToolParam, 0, len(tools.Tools))
		for _, t := range tools.Tools {
			var schema map[string]any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return nil, fmt.Errorf("openai: tool %q schema: %w", t.Name, err)
				}
			}
			sdkTools = append(sdkTools, sdk.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					Parameters:  shared.FunctionParameters(schema),
					Strict:      sdk.Bool(t.Strict),
				},
			})
		}
		params.Tools = sdkTools
		if tc, ok := encodeToolChoice(tools.ToolChoice); ok {
			params.ToolChoice = tc
		}
	}

	if len(req.ExtraBody) > 0 {
		if params.ExtraFields == nil {
			params.ExtraFields = map[string]any{}
		}
		for k, v := range req.ExtraBody {
			params.ExtraFields[k] = v
		}
	}

	return &params, nil
}

func encodeToolChoice(tc model.ToolChoice) (sdk.ChatCompletionToolChoiceOptionUnionParam, bool) {
	switch tc.Mode {
	case model.ToolChoiceModeNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, true
	case model.ToolChoiceModeAuto, "":
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("auto")}, true
	case model.ToolChoiceModeRequired:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, true
	case model.ToolChoiceModeSpecific:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}, true
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
}

func encodeMessages(system string, msgs []model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		var text strings.Builder
		var toolCalls []sdk.ChatCompletionMessageToolCallParam
		var toolResults []sdk.ChatCompletionMessageParamUnion

		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.RawTextPart:
				text.WriteString(v.Text)
			case model.ToolCallPart:
				toolCalls = append(toolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID:   v.ID,
					Type: "function",
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      v.Name,
						Arguments: v.Arguments,
					},
				})
			case model.ToolResultPart:
				toolResults = append(toolResults, sdk.ToolMessage(v.Result, v.ID))
			}
		}

		switch m.Role {
		case model.RoleUser:
			if text.Len() > 0 {
				out = append(out, sdk.UserMessage(text.String()))
			}
			out = append(out, toolResults...)
		case model.RoleAssistant:
			if text.Len() > 0 || len(toolCalls) > 0 {
				asst := sdk.ChatCompletionAssistantMessageParam{}
				if text.Len() > 0 {
					asst.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(text.String())}
				}
				if len(toolCalls) > 0 {
					asst.ToolCalls = toolCalls
				}
				out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			}
			out = append(out, toolResults...)
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func classifyError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch status {
		case 401, 400, 413, 429:
			if status == 429 {
				return fmt.Errorf("%w: %w", model.ErrRateLimited, model.NewProviderError(provider, op, status, model.ProviderErrorKindClient, apiErr.Error(), err))
			}
			return model.NewProviderError(provider, op, status, model.ProviderErrorKindClient, apiErr.Error(), err)
		default:
			return model.NewProviderError(provider, op, status, model.ProviderErrorKindServer, apiErr.Error(), err)
		}
	}
	return model.NewProviderError(provider, op, 0, model.ProviderErrorKindServer, err.Error(), err)
}

func translateResponse(completion *sdk.ChatCompletion) (*model.ProviderInferenceResponse, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := completion.Choices[0]
	resp := &model.ProviderInferenceResponse{}

	if text := choice.Message.Content; text != "" {
		resp.Output = append(resp.Output, model.ContentBlockOutput{Text: &text})
	}
	for _, tc := range choice.Message.ToolCalls {
		fn := tc.Function
		resp.Output = append(resp.Output, model.ContentBlockOutput{
			ToolCall: &model.ToolCallPart{ID: tc.ID, Name: fn.Name, Arguments: fn.Arguments},
		})
	}

	resp.Usage = model.TokenUsage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Reported:     completion.Usage.PromptTokens != 0 || completion.Usage.CompletionTokens != 0,
	}
	resp.FinishReason = mapFinishReason(string(choice.FinishReason))
	raw, _ := json.Marshal(completion)
	resp.RawResponse = raw
	return resp, nil
}

func mapFinishReason(s string) model.FinishReason {
	switch s {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "content_filter":
		return model.FinishReasonContentFilter
	case "tool_calls", "function_call":
		return model.FinishReasonToolCall
	default:
		return model.FinishReasonUnknown
	}
}
