// Package bedrock implements model.Adapter against the AWS Bedrock Converse
// API using github.com/aws/aws-sdk-go-v2's bedrockruntime service client. It
// translates neutral requests into ConverseInput/ConverseStreamInput calls
// and maps Converse responses (text, tool_use blocks, usage) back into
// model.ProviderInferenceResponse.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/toolcoerce"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// this adapter, satisfied by *bedrockruntime.Client so tests can substitute
// a stub.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
}

// StreamOutput is the subset of *bedrockruntime.ConverseStreamOutput this
// adapter needs, letting tests substitute a fake event stream without
// standing up a real SDK HTTP round trip.
type StreamOutput interface {
	GetStream() *bedrockruntime.ConverseStreamEventStream
}

// maxTokensDefaultByPrefix maps a Bedrock model id prefix to the completion
// cap used when a request does not specify MaxTokens. Anthropic-on-Bedrock
// and Nova models reject requests with no maxTokens at all. A model id that
// matches no prefix, with no request-level or Options override, is sent
// without maxTokens and Bedrock applies its own default.
var maxTokensDefaultByPrefix = []struct {
	prefix string
	tokens int
}{
	{"anthropic.", 4096},
	{"us.anthropic.", 4096},
	{"amazon.nova-micro", 4096},
	{"amazon.nova-lite", 4096},
	{"amazon.nova-pro", 4096},
}

// Options configures the Bedrock adapter.
type Options struct {
	// SDK is the real Bedrock runtime client this adapter wraps. Required
	// unless Runtime is set directly (tests only). Credential resolution
	// (SigV4, the default AWS credential chain, or assumed roles) is
	// configured on the aws.Config used to build SDK, not by this package:
	// Credentials on a request is expected to be model.SDKCredentials or
	// model.NoneCredentials, both of which this adapter treats as "defer
	// to the client's own auth".
	SDK *bedrockruntime.Client

	// Runtime overrides the runtime client used for calls; tests set this
	// directly to a stub instead of providing SDK.
	Runtime RuntimeClient

	// Model is the concrete Bedrock model identifier this adapter calls
	// (e.g. "anthropic.claude-sonnet-4-5-20250929-v1:0" or an inference
	// profile ARN).
	Model string

	// MaxTokens is the default completion cap used when a request does
	// not specify one, overriding maxTokensDefaultByPrefix.
	MaxTokens int

	// Temperature is used when a request does not specify one.
	Temperature float64
}

// Client implements model.Adapter on top of AWS Bedrock Converse.
type Client struct {
	opts Options
	caps toolcoerce.VendorCapabilities
}

// sdkRuntime adapts a real *bedrockruntime.Client to RuntimeClient: its
// ConverseStream returns the concrete *bedrockruntime.ConverseStreamOutput,
// which satisfies the narrower StreamOutput interface this package consumes,
// decoupling the adapter's Stream path from the SDK's concrete output type.
type sdkRuntime struct {
	cl *bedrockruntime.Client
}

func (s *sdkRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.cl.Converse(ctx, params, optFns...)
}

func (s *sdkRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	return s.cl.ConverseStream(ctx, params, optFns...)
}

// New constructs a Bedrock adapter.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		if opts.SDK == nil {
			return nil, errors.New("bedrock: runtime client is required")
		}
		opts.Runtime = &sdkRuntime{cl: opts.SDK}
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{
		opts: opts,
		caps: toolcoerce.VendorCapabilities{
			Name:                         "bedrock",
			SupportsJSONSchema:           func(string) bool { return false },
			SupportsStrictJSONMode:       func(string) bool { return false },
			SupportsForcedToolChoice:     func(string) bool { return true },
			RequiresAssistantJSONPriming: true,
			NoneOmitsToolsField:          false,
		},
	}, nil
}

// Name identifies the adapter.
func (c *Client) Name() string { return "bedrock" }

// checkCredentials rejects credential kinds this adapter cannot act on:
// Bedrock authenticates via AWS SigV4 carried by the underlying runtime
// client's own aws.Config, so only SDKCredentials (production) and
// NoneCredentials (tests) are meaningful here.
func checkCredentials(creds model.ResolvedCredentials) error {
	switch creds.Credentials.(type) {
	case model.SDKCredentials, model.NoneCredentials:
		return nil
	default:
		return model.NewProviderError("bedrock", "auth", 0, model.ProviderErrorKindCredentials,
			fmt.Sprintf("bedrock requires SDKCredentials (the runtime client's own aws.Config); got %T", creds.Credentials), nil)
	}
}

// Infer issues a non-streaming Converse request.
func (c *Client) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := c.buildConverseInput(parts, req)
	start := time.Now()
	output, err := c.opts.Runtime.Converse(ctx, input)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyError("bedrock", "converse", err)
	}
	resp, err := translateResponse(output, parts.sanToCanon)
	if err != nil {
		return nil, model.NewProviderError("bedrock", "converse", 0, model.ProviderErrorKindServer, err.Error(), err)
	}
	resp.Latency = latency
	return resp, nil
}

// InferStream invokes ConverseStream and peeks the first chunk before
// returning, so a provider-level failure on the opening event surfaces as an
// error from InferStream rather than from the first call to Next.
func (c *Client) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := c.buildConverseStreamInput(parts, req)
	out, err := c.opts.Runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyError("bedrock", "converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, model.NewProviderError("bedrock", "converse_stream", 0, model.ProviderErrorKindServer, "response missing event stream", nil)
	}
	st := newStreamer(ctx, stream, parts.sanToCanon)
	if err := st.peekFirst(); err != nil {
		return nil, err
	}
	return st, nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	canonToSan map[string]string
	sanToCanon map[string]string
}

func (c *Client) prepareRequest(req *model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
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

	toolConfig, canonToSan, sanToCanon, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, model.NewProviderError("bedrock", "prepare_request", 400, model.ProviderErrorKindClient,
			"messages contain a tool call/result but no tools were provided in the request", nil)
	}

	messages, system, err := encodeMessages(req.Messages, canonToSan, plan.PrimeAssistantJSON)
	if err != nil {
		return nil, err
	}
	if req.System != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}, system...)
	}

	return &requestParts{
		modelID:    modelID,
		messages:   messages,
		system:     system,
		toolConfig: toolConfig,
		canonToSan: canonToSan,
		sanToCanon: sanToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req *model.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(parts.modelID, req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts, req *model.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(parts.modelID, req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(modelID string, req *model.Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = c.effectiveMaxTokens(modelID)
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // bounded by caller-supplied request fields
	}
	if t := req.Temperature; t != nil && *t > 0 {
		cfg.Temperature = aws.Float32(float32(*t))
	} else if c.opts.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(c.opts.Temperature))
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && len(cfg.StopSequences) == 0 {
		return nil
	}
	return &cfg
}

// effectiveMaxTokens resolves the completion cap for modelID when the
// request itself does not specify one: Options.MaxTokens first, then
// maxTokensDefaultByPrefix. It returns 0 for an unknown prefix with no
// override, and inferenceConfig then leaves MaxTokens unset.
func (c *Client) effectiveMaxTokens(modelID string) int {
	if c.opts.MaxTokens > 0 {
		return c.opts.MaxTokens
	}
	for _, entry := range maxTokensDefaultByPrefix {
		if strings.HasPrefix(modelID, entry.prefix) {
			return entry.tokens
		}
	}
	return 0
}

func encodeMessages(msgs []model.Message, nameMap map[string]string, primeJSON bool) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.RawTextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolCallPart:
				sanitized, ok := nameMap[v.Name]
				if !ok || sanitized == "" {
					sanitized = sanitizeToolName(v.Name)
				}
				tb := brtypes.ToolUseBlock{Name: aws.String(sanitized)}
				if v.ID != "" {
					tb.ToolUseId = aws.String(sanitizeToolUseID(v.ID))
				}
				tb.Input = inputDocument(v.Arguments)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{}
				if v.ID != "" {
					tr.ToolUseId = aws.String(sanitizeToolUseID(v.ID))
				}
				tr.Content = []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: v.Result},
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			case model.FilePart:
				// Bedrock image/document blocks are out of scope for this
				// adapter's minimal wire mapping; unsupported sources are
				// dropped rather than failing the whole request.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if primeJSON {
		conversation = append(conversation, brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: toolcoerce.JSONPrimingFragment}},
		})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(tc *model.ToolConfig) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if tc == nil || len(tc.Tools) == 0 {
		if tc == nil || tc.ToolChoice.Mode == "" || tc.ToolChoice.Mode == model.ToolChoiceModeAuto || tc.ToolChoice.Mode == model.ToolChoiceModeNone {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("bedrock: tool choice is set but no tools are defined")
	}
	toolList := make([]brtypes.Tool, 0, len(tc.Tools))
	canonToSan := make(map[string]string, len(tc.Tools))
	sanToCanon := make(map[string]string, len(tc.Tools))

	for _, def := range tc.Tools {
		canonical := def.Name
		if canonical == "" {
			continue
		}
		sanitized := sanitizeToolName(canonical)
		if prev, ok := sanToCanon[sanitized]; ok && prev != canonical {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", canonical, sanitized, prev)
		}
		sanToCanon[sanitized] = canonical
		canonToSan[canonical] = sanitized

		schemaDoc := inputDocument(string(def.Parameters))
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}

	cfg := &brtypes.ToolConfiguration{Tools: toolList}

	switch tc.ToolChoice.Mode {
	case "", model.ToolChoiceModeAuto:
		// Auto is the provider default; omit ToolChoice.
	case model.ToolChoiceModeNone:
		// Preserve tool configuration so Bedrock can interpret existing
		// tool_use/tool_result blocks already in the transcript, but do not
		// force additional tool calls.
	case model.ToolChoiceModeRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case model.ToolChoiceModeSpecific:
		if tc.ToolChoice.Name == "" {
			return nil, nil, nil, fmt.Errorf("bedrock: tool choice mode %q requires a tool name", tc.ToolChoice.Mode)
		}
		sanitized, ok := canonToSan[tc.ToolChoice.Name]
		if !ok {
			return nil, nil, nil, fmt.Errorf("bedrock: tool choice name %q does not match any tool", tc.ToolChoice.Name)
		}
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
	default:
		return nil, nil, nil, fmt.Errorf("bedrock: unsupported tool choice mode %q", tc.ToolChoice.Mode)
	}

	return cfg, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool identifier to characters allowed by
// Bedrock's tool naming constraint ([a-zA-Z0-9_-]+, <=64 chars), replacing
// any disallowed rune with '_' and appending a stable hash suffix on
// truncation so two long names never collide after clipping.
func sanitizeToolName(in string) string {
	if in == "" {
		return in
	}
	if isProviderSafeName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= 64 {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:8]
	return sanitized[:64-9] + "_" + suffix
}

// sanitizeToolUseID maps a canonical tool-call correlation id to Bedrock's
// toolUseId constraint ([a-zA-Z0-9_-]+, <=64 chars). Internal correlation
// IDs (for example run-scoped paths containing slashes) are never forwarded
// to the provider verbatim.
func sanitizeToolUseID(id string) string {
	if isProviderSafeName(id) {
		return id
	}
	return sanitizeToolName(id)
}

func isProviderSafeName(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func inputDocument(raw string) document.Interface {
	if raw == "" {
		v := any(map[string]any{})
		return document.NewLazyDocument(&v)
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		v := any(map[string]any{})
		return document.NewLazyDocument(&v)
	}
	return document.NewLazyDocument(&decoded)
}

func messagesHaveToolBlocks(msgs []model.Message) bool {
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolCallPart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}

// classifyError maps a Bedrock/smithy error into the ProviderError taxonomy.
// ThrottlingException and HTTP 429 are wrapped with model.ErrRateLimited;
// other client-class errors surface as ProviderErrorKindClient, everything
// else as ProviderErrorKindServer (retryable/failover-eligible).
func classifyError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if isRateLimited(err) {
		return fmt.Errorf("%w: %w", model.ErrRateLimited,
			model.NewProviderError(provider, op, 429, model.ProviderErrorKindClient, err.Error(), err))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException":
			return model.NewProviderError(provider, op, 0, model.ProviderErrorKindClient, apiErr.Error(), err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch status {
		case 400, 401, 413, 429:
			return model.NewProviderError(provider, op, status, model.ProviderErrorKindClient, err.Error(), err)
		}
	}
	return model.NewProviderError(provider, op, 0, model.ProviderErrorKindServer, err.Error(), err)
}

// isRateLimited reports whether err represents a provider rate-limiting
// condition: either an explicit ThrottlingException/TooManyRequestsException
// code, or an HTTP 429 response.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*model.ProviderInferenceResponse, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	resp := &model.ProviderInferenceResponse{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				text := v.Value
				resp.Output = append(resp.Output, model.ContentBlockOutput{Text: &text})
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					raw := *v.Value.Name
					if canonical, ok := nameMap[raw]; ok {
						name = canonical
					} else {
						name = raw
					}
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				args, err := decodeDocument(v.Value.Input)
				if err != nil {
					args = "{}"
				}
				resp.Output = append(resp.Output, model.ContentBlockOutput{
					ToolCall: &model.ToolCallPart{ID: id, Name: name, Arguments: args},
				})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			Reported:     true,
		}
	}
	resp.FinishReason = mapStopReason(output.StopReason)
	raw, err := json.Marshal(output)
	if err == nil {
		resp.RawResponse = raw
	}
	return resp, nil
}

func mapStopReason(reason brtypes.StopReason) model.FinishReason {
	switch reason {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return model.FinishReasonStop
	case brtypes.StopReasonMaxTokens:
		return model.FinishReasonLength
	case brtypes.StopReasonToolUse:
		return model.FinishReasonToolCall
	case brtypes.StopReasonContentFiltered, brtypes.StopReasonGuardrailIntervened:
		return model.FinishReasonContentFilter
	default:
		return model.FinishReasonUnknown
	}
}

func decodeDocument(doc document.Interface) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "{}", nil
	}
	return string(data), nil
}

func ptrValue(ptr *int32) int32 {
	if ptr == nil {
		return 0
	}
	return *ptr
}
