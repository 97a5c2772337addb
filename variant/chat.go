package variant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/streamcollector"
)

// ChatCompletion is the only variant that natively streams: it renders its
// configured templates (or passes RawText through untouched), builds a
// model.Request from Input plus Params layered over the variant's static
// defaults, and drives a single Model call through Models. Every other
// variant strategy composes on top of it.
type ChatCompletion struct {
	// Name identifies this variant for VariantName/ModelInferenceRecord
	// and for sub-variant cache-key scoping when used as a component of
	// best-of-n/mixture-of-n/DICL.
	Name string

	// ModelName selects the Models entry to call.
	ModelName string

	// SystemTemplate names a template rendered through Renderer. Empty
	// means "use Input.System verbatim".
	SystemTemplate string

	FunctionType model.FunctionType

	// StaticTools is the function/variant-declared tool configuration,
	// replaced entirely by Params.ToolOverride when that is set.
	StaticTools ToolConfig

	// Defaults are applied whenever the corresponding Params field is nil,
	// i.e. the caller did not override it for this request.
	Defaults Params

	Renderer TemplateRenderer
}

func (c *ChatCompletion) renderer() TemplateRenderer {
	if c.Renderer != nil {
		return c.Renderer
	}
	return noRenderer{}
}

// Infer renders in, issues a single unary Model call, and returns the
// result. It never composes onto itself recursively: a caller wanting
// retries/fallback across variants uses bestofn/mixtureofn instead.
func (c *ChatCompletion) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	caller, ok := models.Model(c.ModelName)
	if !ok {
		return nil, fmt.Errorf("variant %q: model %q is not configured", c.Name, c.ModelName)
	}

	req, err := c.buildRequest(in, params)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", c.Name, err)
	}

	resp, err := caller.Infer(ctx, req, creds)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", c.Name, err)
	}
	return c.toResult(req, resp, 0), nil
}

// InferStream drives a single streaming Model call, relaying chunks to
// send as they arrive via streamcollector.Collect, and returns the
// aggregate once the stream ends.
func (c *ChatCompletion) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	caller, ok := models.Model(c.ModelName)
	if !ok {
		return nil, fmt.Errorf("variant %q: model %q is not configured", c.Name, c.ModelName)
	}

	req, err := c.buildRequest(in, params)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", c.Name, err)
	}
	req.Stream = true

	st, err := caller.InferStream(ctx, req, creds)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", c.Name, err)
	}
	defer st.Close()

	agg, err := streamcollector.Collect(ctx, st, streamcollector.Sender(send))
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", c.Name, err)
	}
	return c.toResult(req, agg, 0), nil
}

func (c *ChatCompletion) toResult(req *model.Request, resp *model.ProviderInferenceResponse, latencyMS int64) *InferenceResult {
	rawReq, _ := json.Marshal(req)
	return &InferenceResult{
		Output:       resp.Output,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		VariantName:  c.Name,
		ModelInferenceResults: []ModelInferenceRecord{{
			ModelName:   c.ModelName,
			RawRequest:  string(rawReq),
			RawResponse: string(resp.RawResponse),
			Usage:       resp.Usage,
			Latency:     latencyMS,
		}},
	}
}

// buildRequest renders in through this variant's templates and merges
// params over Defaults and StaticTools to produce a model.Request.
func (c *ChatCompletion) buildRequest(in *Input, params Params) (*model.Request, error) {
	system, err := c.renderSystem(in)
	if err != nil {
		return nil, err
	}

	messages, err := c.renderMessages(in)
	if err != nil {
		return nil, err
	}

	merged := mergeParams(c.Defaults, params)

	tools, err := c.resolveToolConfig(merged)
	if err != nil {
		return nil, err
	}

	req := &model.Request{
		Messages:         messages,
		System:           system,
		Temperature:      merged.Temperature,
		TopP:             merged.TopP,
		PresencePenalty:  merged.PresencePenalty,
		FrequencyPenalty: merged.FrequencyPenalty,
		Seed:             merged.Seed,
		StopSequences:    merged.StopSequences,
		JSONMode:         merged.JSONMode,
		FunctionType:     c.FunctionType,
		OutputSchema:     merged.OutputSchema,
		ToolConfig:       tools,
		Model:            c.ModelName,
		Stream:           merged.Stream,
		ExtraHeaders:     merged.ExtraHeaders,
		ExtraCacheKey:    merged.ExtraCacheKey,
	}
	if merged.MaxTokens != nil {
		req.MaxTokens = *merged.MaxTokens
	}
	if len(merged.ExtraBody) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(merged.ExtraBody, &extra); err != nil {
			return nil, fmt.Errorf("extra_body: %w", err)
		}
		req.ExtraBody = extra
	}
	return req, nil
}

func (c *ChatCompletion) resolveToolConfig(params Params) (*model.ToolConfig, error) {
	source := c.StaticTools
	if params.ToolOverride != nil {
		source = *params.ToolOverride
	}
	if len(source.ToolsAvailable) == 0 && source.ToolChoice.Mode == "" {
		return nil, nil
	}
	tools := make([]model.Tool, 0, len(source.ToolsAvailable))
	for _, t := range source.ToolsAvailable {
		tools = append(tools, model.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
			Strict:      t.Strict,
		})
	}
	return &model.ToolConfig{
		Tools:                tools,
		ToolChoice:           model.ToolChoice{Mode: source.ToolChoice.Mode, Name: source.ToolChoice.Name},
		ParallelToolCalls:    source.ParallelToolCalls,
		ParallelToolCallsSet: source.ParallelCallsSet,
	}, nil
}

func (c *ChatCompletion) renderSystem(in *Input) (string, error) {
	if c.SystemTemplate == "" {
		if len(in.System) == 0 {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(in.System, &s); err == nil {
			return s, nil
		}
		return string(in.System), nil
	}
	return c.renderer().Render(c.SystemTemplate, in.System)
}

func (c *ChatCompletion) renderMessages(in *Input) ([]model.Message, error) {
	out := make([]model.Message, 0, len(in.Messages))
	for _, m := range in.Messages {
		parts, err := c.renderContent(m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Message{Role: model.ConversationRole(m.Role), Parts: parts})
	}
	return out, nil
}

func (c *ChatCompletion) renderContent(blocks []ContentBlock) ([]model.Part, error) {
	parts := make([]model.Part, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case Text:
			if len(v.Arguments) == 0 {
				parts = append(parts, model.TextPart{Text: v.Text})
				continue
			}
			rendered, err := c.renderer().Render(v.Text, v.Arguments)
			if err != nil {
				return nil, err
			}
			parts = append(parts, model.TextPart{Text: rendered, Arguments: v.Arguments})
		case RawText:
			parts = append(parts, model.RawTextPart{Text: v.Text})
		case ToolCall:
			parts = append(parts, model.ToolCallPart{ID: v.ID, Name: v.Name, Arguments: v.Arguments})
		case ToolResult:
			parts = append(parts, model.ToolResultPart{ID: v.ID, Name: v.Name, Result: v.Result})
		case File:
			parts = append(parts, renderFile(v))
		default:
			return nil, fmt.Errorf("variant: unknown content block %T", b)
		}
	}
	return parts, nil
}

func renderFile(f File) model.FilePart {
	switch {
	case f.Base64Data != "":
		return model.FilePart{Source: model.FileSourceBase64, MIMEType: f.MIMEType, Base64Data: f.Base64Data}
	case f.ObjectStorageRef != "":
		return model.FilePart{Source: model.FileSourceObjectStorage, MIMEType: f.MIMEType, ObjectStorageRef: f.ObjectStorageRef}
	default:
		return model.FilePart{Source: model.FileSourceURL, MIMEType: f.MIMEType, URL: f.URL}
	}
}

// mergeParams overlays override on top of base: any non-nil/non-zero field
// in override wins, otherwise base's value is kept. Stream is always taken
// from override.
func mergeParams(base, override Params) Params {
	merged := base
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.TopP != nil {
		merged.TopP = override.TopP
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = override.MaxTokens
	}
	if override.PresencePenalty != nil {
		merged.PresencePenalty = override.PresencePenalty
	}
	if override.FrequencyPenalty != nil {
		merged.FrequencyPenalty = override.FrequencyPenalty
	}
	if override.Seed != nil {
		merged.Seed = override.Seed
	}
	if override.StopSequences != nil {
		merged.StopSequences = override.StopSequences
	}
	if override.JSONMode != "" {
		merged.JSONMode = override.JSONMode
	}
	if len(override.OutputSchema) > 0 {
		merged.OutputSchema = override.OutputSchema
	}
	if len(override.ExtraBody) > 0 {
		merged.ExtraBody = override.ExtraBody
	}
	if override.ExtraHeaders != nil {
		merged.ExtraHeaders = override.ExtraHeaders
	}
	if override.ExtraCacheKey != "" {
		merged.ExtraCacheKey = override.ExtraCacheKey
	}
	if override.ToolOverride != nil {
		merged.ToolOverride = override.ToolOverride
	}
	merged.Stream = override.Stream
	return merged
}
