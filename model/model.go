// Package model defines the provider-agnostic request/response types shared
// by every vendor adapter, variant strategy, and the inference orchestrator.
// It models messages as typed content-block parts (text, raw text, tool
// call/result, file) plus conversation roles, and the neutral
// ModelInferenceRequest/ProviderInferenceResponse pair that adapters
// translate to and from vendor wire formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ConversationRole is the role of a message in a conversation.
type ConversationRole string

const (
	// RoleUser is the role for user-authored messages.
	RoleUser ConversationRole = "user"

	// RoleAssistant is the role for model-authored messages.
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is implemented by every content-block type a Message can carry.
	// The set is closed: adapters switch on the concrete type rather than
	// on a string discriminator, per the "tagged sums everywhere" design
	// note.
	Part interface {
		isPart()
	}

	// TextPart is a plain-text content block.
	//
	// Arguments carries structured tool/function arguments when the block
	// originated from a JSON-mode function input rather than free text;
	// at most one of Text or Arguments should be set.
	TextPart struct {
		Text      string
		Arguments json.RawMessage
	}

	// RawTextPart carries text that bypasses per-role schema validation
	// bypassing per-role schema validation.
	RawTextPart struct {
		Text string
	}

	// ToolCallPart is a tool invocation emitted by the assistant.
	ToolCallPart struct {
		// ID is the provider-issued identifier, or a synthesized
		// time-ordered UUID when the provider does not emit one.
		ID string

		// Name is the tool identifier as declared in ToolConfig.
		Name string

		// Arguments is the canonical JSON arguments string. Adapters MUST
		// populate this with a syntactically valid JSON document (an
		// empty tool call still serializes as "{}").
		Arguments string
	}

	// ToolResultPart carries the caller-supplied result of a prior
	// ToolCallPart, attached to a user message so the model can read it on
	// the next turn.
	ToolResultPart struct {
		ID     string
		Name   string
		Result string
	}

	// FileSource identifies how a FilePart's bytes are reachable.
	FileSource string

	// FilePart carries a file attached to a message; exactly one of URL,
	// Base64Data, or ObjectStorageRef is populated, selected by Source.
	FilePart struct {
		Source FileSource

		// MIMEType is the declared content type (e.g. "image/png").
		MIMEType string

		URL              string
		Base64Data       string
		ObjectStorageRef string
	}

	// Message is a single chat message: a role plus an ordered sequence of
	// content-block parts.
	Message struct {
		Role  ConversationRole
		Parts []Part
	}

	// Input is the caller-supplied request payload before it is rendered
	// through variant templates.
	Input struct {
		// System is an optional structured value passed to the system
		// message template.
		System json.RawMessage

		Messages []Message
	}
)

func (TextPart) isPart()       {}
func (RawTextPart) isPart()    {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}
func (FilePart) isPart()       {}

const (
	// FileSourceURL identifies a remotely fetchable file.
	FileSourceURL FileSource = "url"

	// FileSourceBase64 identifies an inline base64-encoded file.
	FileSourceBase64 FileSource = "base64"

	// FileSourceObjectStorage identifies a file addressed by an object
	// storage reference (e.g. "s3://bucket/key").
	FileSourceObjectStorage FileSource = "object_storage_ref"
)

type (
	// ToolChoiceMode controls how a provider is asked to use tools.
	ToolChoiceMode string

	// ToolChoice configures tool-use behavior for a request.
	ToolChoice struct {
		Mode ToolChoiceMode

		// Name identifies the tool to force when Mode is
		// ToolChoiceModeSpecific.
		Name string
	}

	// Tool describes a single callable tool exposed to the model.
	Tool struct {
		Name        string
		Description string

		// Parameters is a JSON-schema document describing the tool's
		// input payload.
		Parameters json.RawMessage

		// Strict requests provider-native strict JSON-schema enforcement
		// when supported.
		Strict bool
	}

	// ToolConfig is the resolved set of tools and tool-choice policy for a
	// request, after merging a function's static tools with any
	// caller-supplied dynamic overlay.
	ToolConfig struct {
		Tools              []Tool
		ToolChoice         ToolChoice
		ParallelToolCalls  bool
		ParallelToolCallsSet bool
	}

	// DynamicToolOverlay carries the per-request tool overrides merged
	// over a function's static tool configuration.
	DynamicToolOverlay struct {
		AllowedTools      []string
		AdditionalTools   []Tool
		ToolChoice        *ToolChoice
		ParallelToolCalls *bool
	}
)

const (
	// ToolChoiceModeNone disables tool use.
	ToolChoiceModeNone ToolChoiceMode = "none"

	// ToolChoiceModeAuto lets the provider decide (default).
	ToolChoiceModeAuto ToolChoiceMode = "auto"

	// ToolChoiceModeRequired forces at least one tool call.
	ToolChoiceModeRequired ToolChoiceMode = "required"

	// ToolChoiceModeSpecific forces a single named tool.
	ToolChoiceModeSpecific ToolChoiceMode = "specific"
)

type (
	// JSONMode controls how strongly a request constrains the model to
	// emit JSON.
	JSONMode string

	// FunctionType selects whether a function is free-form chat or
	// schema-constrained JSON output.
	FunctionType string

	// FinishReason is the closed set of reasons a provider stopped
	// generating.
	FinishReason string
)

const (
	JSONModeOff    JSONMode = "off"
	JSONModeOn     JSONMode = "on"
	JSONModeStrict JSONMode = "strict"
	JSONModeTool   JSONMode = "tool"
)

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonToolCall      FinishReason = "tool_call"
	FinishReasonUnknown       FinishReason = "unknown"
)

type (
	// TokenUsage reports token consumption for a single provider call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int

		// Reported is false when the provider did not report usage for
		// this call, distinguishing an honest zero from "unknown"
		// (an honest zero vs. an unreported value, e.g. for cached responses).
		Reported bool
	}

	// Request is the neutral request handed to a provider adapter.
	//
	// Request is built once per provider call and is immutable thereafter
	// immutable thereafter.
	Request struct {
		Messages []Message
		System   string

		Temperature      *float64
		TopP             *float64
		MaxTokens        int
		PresencePenalty  *float64
		FrequencyPenalty *float64
		Seed             *int64
		StopSequences    []string

		JSONMode     JSONMode
		FunctionType FunctionType

		// OutputSchema is the JSON-schema the model's output must satisfy
		// when FunctionType is FunctionTypeJSON or JSONMode requests
		// schema-constrained output.
		OutputSchema json.RawMessage

		ToolConfig *ToolConfig

		// Model is the concrete provider-specific model identifier to
		// invoke.
		Model string

		Stream bool

		// ExtraBody is deep-merged into the generated vendor request body
		// (inference-time extras; last writes win).
		ExtraBody map[string]any

		// ExtraHeaders is merged into the outbound HTTP headers.
		ExtraHeaders map[string]string

		// ExtraCacheKey contributes additional entropy to any caching key
		// computed by upstream layers (e.g. sub-variant candidate index).
		ExtraCacheKey string
	}

	// ContentBlockOutput is a single block of a ProviderInferenceResponse.
	// Exactly one of Text/ToolCall is populated.
	ContentBlockOutput struct {
		Text     *string
		ToolCall *ToolCallPart
	}

	// ProviderInferenceResponse is the normalized result of a unary
	// provider call.
	ProviderInferenceResponse struct {
		Output []ContentBlockOutput
		Usage  TokenUsage
		Latency time.Duration

		FinishReason FinishReason

		// RawRequest/RawResponse carry the verbatim vendor wire payloads
		// for observability persistence.
		RawRequest  json.RawMessage
		RawResponse json.RawMessage
	}

	// ContentBlockChunk is a single streamed content fragment. BlockID
	// correlates fragments belonging to the same logical block across a
	// multi-block stream.
	ContentBlockChunk struct {
		BlockID string

		Text string

		// ToolCallID/ToolCallName are populated on the first delta of a
		// tool-call block and repeated on every subsequent delta so
		// consumers that only see one event can still label it.
		ToolCallID       string
		ToolCallName     string
		ToolCallArgDelta string

		// ToolCallFinal is true on the last chunk for a given tool-call
		// block and carries the final canonical Arguments string.
		ToolCallFinal     bool
		ToolCallArguments string
	}

	// ProviderInferenceResponseChunk is one event of a streamed provider
	// response.
	ProviderInferenceResponseChunk struct {
		Content []ContentBlockChunk

		Usage *TokenUsage

		Latency time.Duration

		FinishReason *FinishReason

		RawResponse json.RawMessage
	}
)

// Streamer delivers incremental provider output. The first chunk must
// always be available synchronously before Streamer is handed to a caller
// — adapters satisfy this by peeking inside
// infer_stream and returning any pre-stream error instead of a Streamer.
type Streamer interface {
	// Next returns the next chunk, or io.EOF when the stream has ended
	// cleanly.
	Next(ctx context.Context) (ProviderInferenceResponseChunk, error)

	// Close releases resources held by the stream.
	Close() error
}

// Adapter is the contract every vendor package implements (C1).
type Adapter interface {
	// Name identifies the adapter for error reporting and metrics (e.g.
	// "anthropic", "bedrock").
	Name() string

	// Infer performs a unary model invocation.
	Infer(ctx context.Context, req *Request, creds ResolvedCredentials) (*ProviderInferenceResponse, error)

	// InferStream performs a streaming model invocation. The returned
	// Streamer's first chunk has already been fetched by the time this
	// call returns successfully.
	InferStream(ctx context.Context, req *Request, creds ResolvedCredentials) (Streamer, error)
}

// BatchAdapter is optionally implemented by adapters that support batch
// inference. Adapters that do not implement it are treated by callers as
// failing with ErrUnsupportedForBatchInference.
type BatchAdapter interface {
	StartBatchInference(ctx context.Context, reqs []*Request, creds ResolvedCredentials) (batchID string, err error)
	PollBatchInference(ctx context.Context, batchID string, creds ResolvedCredentials) (done bool, results []*ProviderInferenceResponse, err error)
}

// ErrUnsupportedForBatchInference is returned by adapters that do not
// implement BatchAdapter.
var ErrUnsupportedForBatchInference = errors.New("model: batch inference is not supported by this provider")

// ErrStreamingUnsupported indicates the provider does not support
// streaming for the requested configuration.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")
