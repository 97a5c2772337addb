// Package variant implements the inference-strategy layer: each Strategy
// renders a request from caller input, drives one or more Model calls
// through modelchain, and shapes the result. Chat completion is the only
// strategy that natively streams; best-of-n, mixture-of-n, DICL, and
// chain-of-thought compose on top of it.
package variant

import (
	"context"
	"encoding/json"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type (
	// Role is the caller-visible conversation role, distinct from
	// model.ConversationRole because Input is vendor-neutral at a layer
	// above any single provider's wire format.
	Role string

	// Input is the caller-supplied request body: an optional structured
	// system value and an ordered sequence of messages.
	Input struct {
		System   json.RawMessage
		Messages []Message
	}

	// Message is one turn of caller input.
	Message struct {
		Role    Role
		Content []ContentBlock
	}

	// ContentBlock is the closed sum of caller input block kinds.
	ContentBlock interface{ isContentBlock() }

	// Text carries plain text or, for Json functions, structured template
	// arguments to be rendered by the external template engine.
	Text struct {
		Text      string
		Arguments json.RawMessage
	}

	// RawText bypasses template rendering and schema validation entirely.
	RawText struct {
		Text string
	}

	// ToolCall mirrors an assistant-issued tool invocation carried forward
	// in a multi-turn transcript.
	ToolCall struct {
		ID        string
		Name      string
		Arguments string
	}

	// ToolResult carries a prior tool invocation's result back to the model.
	ToolResult struct {
		ID     string
		Name   string
		Result string
	}

	// File references binary content by URL, inline base64, or an opaque
	// object-storage reference resolved later by the persistence path.
	File struct {
		URL              string
		Base64Data       string
		MIMEType         string
		ObjectStorageRef string
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (Text) isContentBlock()       {}
func (RawText) isContentBlock()    {}
func (ToolCall) isContentBlock()   {}
func (ToolResult) isContentBlock() {}
func (File) isContentBlock()       {}

type (
	// ToolChoiceMode mirrors model.ToolChoiceMode at the function layer.
	ToolChoiceMode = model.ToolChoiceMode

	// ToolConfig is the function/variant-level tool configuration, merged
	// with any dynamic per-request overlay before being handed to
	// provider adapters as model.ToolConfig.
	ToolConfig struct {
		ToolsAvailable    []Tool
		ToolChoice        ToolChoice
		ParallelToolCalls bool
		ParallelCallsSet  bool
	}

	// Tool is a caller- or function-declared tool definition.
	Tool struct {
		Name        string
		Description string
		Parameters  json.RawMessage
		Strict      bool
	}

	// ToolChoice selects None/Auto/Required/Specific(name).
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// DynamicToolOverlay is the per-request overlay merged over a
	// function's static tool configuration (§4.4/§6).
	DynamicToolOverlay struct {
		AllowedTools      []string
		AdditionalTools   []Tool
		ToolChoice        *ToolChoice
		ParallelToolCalls *bool
	}
)

// MergeToolConfig applies a DynamicToolOverlay over a static ToolConfig,
// per spec: AllowedTools filters the static set, AdditionalTools are
// appended, and ToolChoice/ParallelToolCalls override when present.
func MergeToolConfig(static ToolConfig, overlay *DynamicToolOverlay) ToolConfig {
	merged := static
	if overlay == nil {
		return merged
	}
	if overlay.AllowedTools != nil {
		allowed := make(map[string]bool, len(overlay.AllowedTools))
		for _, n := range overlay.AllowedTools {
			allowed[n] = true
		}
		filtered := make([]Tool, 0, len(merged.ToolsAvailable))
		for _, t := range merged.ToolsAvailable {
			if allowed[t.Name] {
				filtered = append(filtered, t)
			}
		}
		merged.ToolsAvailable = filtered
	}
	merged.ToolsAvailable = append(append([]Tool{}, merged.ToolsAvailable...), overlay.AdditionalTools...)
	if overlay.ToolChoice != nil {
		merged.ToolChoice = *overlay.ToolChoice
	}
	if overlay.ParallelToolCalls != nil {
		merged.ParallelToolCalls = *overlay.ParallelToolCalls
		merged.ParallelCallsSet = true
	}
	return merged
}

// FunctionType re-exports model.FunctionType so callers that only deal
// with the variant layer don't need a separate import for it.
type FunctionType = model.FunctionType

const (
	FunctionTypeChat = model.FunctionTypeChat
	FunctionTypeJSON = model.FunctionTypeJSON
)

type (
	// ModelUsedInfo identifies which model/provider ultimately produced a
	// result, surfaced for observability.
	ModelUsedInfo struct {
		ModelName    string
		ProviderName string
	}

	// ModelInferenceRecord is one raw provider call made while producing
	// an InferenceResult, retained for the ModelInference persistence row.
	ModelInferenceRecord struct {
		ModelName    string
		ProviderName string
		RawRequest   string
		RawResponse  string
		Usage        model.TokenUsage
		Latency      int64 // milliseconds
	}

	// InferenceResult is the outcome of a Strategy.Infer call: the final
	// content blocks plus every raw provider call made in producing them,
	// for observability/persistence.
	InferenceResult struct {
		Output                []model.ContentBlockOutput
		Usage                 model.TokenUsage
		FinishReason          model.FinishReason
		VariantName           string
		ModelInferenceResults []ModelInferenceRecord
	}

	// StreamChunk is the variant-layer streaming unit: identical in shape
	// to model.ProviderInferenceResponseChunk, re-exported here so variant
	// and its callers don't need to import model for day-to-day streaming
	// plumbing.
	StreamChunk = model.ProviderInferenceResponseChunk
)

// Params carries the per-request inference parameters a variant applies
// on top of its own configured defaults: any field left nil/zero falls
// back to the variant's static configuration, except Stream, which always
// comes from these Params.
type Params struct {
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	Seed              *int64
	StopSequences     []string
	JSONMode          model.JSONMode
	OutputSchema      json.RawMessage
	ExtraBody         json.RawMessage
	ExtraHeaders      map[string]string
	ExtraCacheKey     string
	Stream            bool

	// ToolOverride, when non-nil, replaces the variant's statically
	// configured tool config entirely for this call. Callers build it by
	// merging a function's static tools with a request's dynamic overlay
	// via MergeToolConfig before passing it down through Params.
	ToolOverride *ToolConfig
}

// ModelCaller is the subset of modelchain.Chain a variant depends on. It
// is declared here as an interface (rather than importing modelchain
// directly) so variant has no dependency on the retry/routing
// implementation, only on the capability of resolving a name to a chain
// and running inference against it.
type ModelCaller interface {
	Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error)
	InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error)
}

// Models resolves a model name (as referenced by a variant's
// configuration) to the ModelCaller that implements its fallback chain.
type Models interface {
	Model(name string) (ModelCaller, bool)
}

// Sender is the callback a streaming Strategy invokes per chunk. Returning
// an error aborts the stream, matching the contract already established
// by modelchain.Chain's stream handlers.
type Sender func(StreamChunk) error

// Strategy is the interface every variant implements.
type Strategy interface {
	// Infer renders the variant's prompt from in, drives one or more
	// Model calls, and returns the fused result.
	Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error)

	// InferStream performs a streaming inference. Not every variant
	// natively streams; those that don't construct a synthetic stream
	// from a unary result (see streamcollector.SyntheticStream).
	InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error)
}
