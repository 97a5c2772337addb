// Package anthropic implements model.Adapter against the Anthropic Claude
// Messages API using github.com/anthropics/anthropic-sdk-go. It translates
// neutral requests into sdk.MessageNewParams calls and maps responses (text,
// tool use, usage) back into model.ProviderInferenceResponse; thinking
// blocks are not mapped.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/toolcoerce"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, satisfied by *sdk.MessageService so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter.
type Options struct {
	// Model is the concrete Claude model identifier this adapter calls
	// (e.g. "claude-sonnet-4-5-20250929"). The Model fallback chain (C2)
	// is expected to configure one adapter instance per concrete model.
	Model string

	// MaxTokens is the default completion cap used when a request does
	// not specify one.
	MaxTokens int

	// Temperature is used when a request does not specify one.
	Temperature float64

	// ThinkingBudget is the default thinking token budget.
	ThinkingBudget int64

	// Credentials selects how the adapter authenticates. Only
	// StaticCredentials and DynamicCredentials are meaningful for
	// Anthropic.
	Credentials model.Credentials

	// HTTPClient is the shared process-wide HTTP client. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// newMessagesClient builds the SDK messages client for a resolved API
	// key. Defaults to a real *sdk.Client; tests override it with a stub.
	newMessagesClient func(apiKey string) MessagesClient
}

// Client implements model.Adapter on top of Anthropic Claude Messages.
type Client struct {
	opts Options
	caps toolcoerce.VendorCapabilities
}

// New constructs an Anthropic adapter.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.newMessagesClient == nil {
		httpClient := opts.HTTPClient
		opts.newMessagesClient = func(apiKey string) MessagesClient {
			cl := sdk.NewClient(option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
			return &cl.Messages
		}
	}
	return &Client{
		opts: opts,
		caps: toolcoerce.VendorCapabilities{
			Name:                         "anthropic",
			SupportsJSONSchema:           func(string) bool { return false },
			SupportsStrictJSONMode:       func(string) bool { return false },
			SupportsForcedToolChoice:     func(string) bool { return true },
			RequiresAssistantJSONPriming: true,
			NoneOmitsToolsField:          true,
		},
	}, nil
}

// Name identifies the adapter.
func (c *Client) Name() string { return "anthropic" }

func (c *Client) messagesClient(creds model.ResolvedCredentials) (MessagesClient, error) {
	key, err := model.ResolveAPIKey(creds)
	if err != nil {
		return nil, model.NewProviderError("anthropic", "auth", 0, model.ProviderErrorKindCredentials, err.Error(), err)
	}
	return c.opts.newMessagesClient(key), nil
}

// Infer issues a non-streaming Messages.New request.
func (c *Client) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	cl, err := c.messagesClient(creds)
	if err != nil {
		return nil, err
	}
	params, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	msg, err := cl.New(ctx, *params)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyError("anthropic", "messages.new", err)
	}
	resp, err := translateResponse(msg, toolNames)
	if err != nil {
		return nil, model.NewProviderError("anthropic", "messages.new", 0, model.ProviderErrorKindServer, err.Error(), err)
	}
	resp.Latency = latency
	return resp, nil
}

// InferStream invokes Messages.NewStreaming and peeks the first chunk before
// returning, so a provider-level failure on the opening event surfaces as an
// error from InferStream rather than from the first call to Next.
func (c *Client) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	cl, err := c.messagesClient(creds)
	if err != nil {
		return nil, err
	}
	params, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := cl.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("anthropic", "messages.new_streaming", err)
	}
	st := newStreamer(ctx, stream, toolNames)
	if err := st.peekFirst(); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.Model
	}

	plan, err := toolcoerce.Coerce(req, c.caps)
	if err != nil {
		return nil, nil, err
	}

	tools := req.ToolConfig
	if plan.ImplicitTool != nil {
		merged := model.ToolConfig{ParallelToolCalls: false}
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

	sdkTools, canonToSan, sanToCanon, err := encodeTools(tools)
	if err != nil {
		return nil, nil, err
	}

	msgs, system, err := encodeMessages(req.Messages, canonToSan, plan.PrimeAssistantJSON)
	if err != nil {
		return nil, nil, err
	}
	if req.System != "" {
		system = append([]sdk.TextBlockParam{{Text: req.System}}, system...)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens <= 0 {
		return nil, nil, model.NewProviderError("anthropic", "prepare_request", 400, model.ProviderErrorKindClient,
			"max_tokens must be positive and no per-prefix default is configured for this model", nil)
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(sdkTools) > 0 {
		params.Tools = sdkTools
	}
	if t := req.Temperature; t != nil && *t > 0 {
		params.Temperature = sdk.Float(*t)
	} else if c.opts.Temperature > 0 {
		params.Temperature = sdk.Float(c.opts.Temperature)
	}

	if tools != nil {
		tc, err := encodeToolChoice(tools.ToolChoice, canonToSan, tools.Tools, c.caps)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}

	if err := applyExtras(&params, req.ExtraBody); err != nil {
		return nil, nil, err
	}

	return &params, sanToCanon, nil
}

func encodeMessages(msgs []model.Message, nameMap map[string]string, primeJSON bool) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.RawTextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolCallPart:
				sanitized, ok := nameMap[v.Name]
				if !ok || sanitized == "" {
					sanitized = sanitizeToolName(v.Name)
				}
				var input any
				if v.Arguments != "" {
					if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: tool call %q arguments are not valid JSON: %w", v.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, sanitized))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ID, v.Result, false))
			case model.FilePart:
				// Anthropic image/document blocks are out of scope for this
				// adapter's minimal wire mapping; unsupported sources are
				// dropped rather than failing the whole request.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if primeJSON {
		conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(toolcoerce.JSONPrimingFragment)))
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(tc *model.ToolConfig) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if tc == nil || len(tc.Tools) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(tc.Tools))
	canonToSan := make(map[string]string, len(tc.Tools))
	sanToCanon := make(map[string]string, len(tc.Tools))

	for _, def := range tc.Tools {
		canonical := def.Name
		if canonical == "" {
			continue
		}
		sanitized := sanitizeToolName(canonical)
		if prev, ok := sanToCanon[sanitized]; ok && prev != canonical {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", canonical, sanitized, prev)
		}
		sanToCanon[sanitized] = canonical
		canonToSan[canonical] = sanitized

		schema, err := toolInputSchema(def.Parameters)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", canonical, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice model.ToolChoice, canonToProv map[string]string, defs []model.Tool, caps toolcoerce.VendorCapabilities) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case model.ToolChoiceModeNone:
		if caps.NoneOmitsToolsField {
			return sdk.ToolChoiceUnionParam{}, nil
		}
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceModeRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceModeSpecific:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice mode %q requires a tool name", choice.Mode)
		}
		if !hasToolDefinition(defs, choice.Name) {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		sanitized, ok := canonToProv[choice.Name]
		if !ok || sanitized == "" {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

func hasToolDefinition(defs []model.Tool, name string) bool {
	for _, d := range defs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// sanitizeToolName maps a canonical tool identifier to characters allowed by
// Anthropic's tool naming constraints, replacing any disallowed rune with
// '_'.
func sanitizeToolName(in string) string {
	if in == "" {
		return in
	}
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func applyExtras(params *sdk.MessageNewParams, extraBody map[string]any) error {
	// Provider defaults and model-provider config are already reflected in
	// params; inference-time extras are merged last so they win on
	// conflicting keys, without reserializing the whole body.
	if len(extraBody) == 0 {
		return nil
	}
	if params.ExtraFields == nil {
		params.ExtraFields = map[string]any{}
	}
	for k, v := range extraBody {
		params.ExtraFields[k] = v
	}
	return nil
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

func translateResponse(msg *sdk.Message, toolNames map[string]string) (*model.ProviderInferenceResponse, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &model.ProviderInferenceResponse{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			text := block.Text
			resp.Output = append(resp.Output, model.ContentBlockOutput{Text: &text})
		case "tool_use":
			name := block.Name
			if canonical, ok := toolNames[name]; ok {
				name = canonical
			}
			payload, err := json.Marshal(block.Input)
			if err != nil {
				payload = []byte("{}")
			}
			resp.Output = append(resp.Output, model.ContentBlockOutput{
				ToolCall: &model.ToolCallPart{ID: block.ID, Name: name, Arguments: string(payload)},
			})
		}
	}
	u := msg.Usage
	resp.Usage = model.TokenUsage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		Reported:     u.InputTokens != 0 || u.OutputTokens != 0,
	}
	resp.FinishReason = mapStopReason(string(msg.StopReason))
	raw, _ := json.Marshal(msg)
	resp.RawResponse = raw
	return resp, nil
}

func mapStopReason(s string) model.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return model.FinishReasonStop
	case "max_tokens":
		return model.FinishReasonLength
	case "tool_use":
		return model.FinishReasonToolCall
	default:
		return model.FinishReasonUnknown
	}
}
