package openaicompat

import (
	"sync"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type (
	// ChatCompletionChunk is the OpenAI chat.completion.chunk SSE payload
	// shape this translator produces for a streamed inference.
	ChatCompletionChunk struct {
		ID      string       `json:"id"`
		Object  string       `json:"object"`
		Created int64        `json:"created"`
		Model   string       `json:"model"`
		Choices []ChunkChoice `json:"choices"`
		Usage   *Usage       `json:"usage,omitempty"`
	}

	// ChunkChoice is a single streamed delta.
	ChunkChoice struct {
		Index        int        `json:"index"`
		Delta        ChunkDelta `json:"delta"`
		FinishReason *string    `json:"finish_reason"`
	}

	// ChunkDelta carries the incremental fields of a streamed choice.
	ChunkDelta struct {
		Role      string              `json:"role,omitempty"`
		Content   string              `json:"content,omitempty"`
		ToolCalls []ToolCallChunkWire `json:"tool_calls,omitempty"`
	}

	// ToolCallChunkWire is a streamed tool-call delta, indexed by position
	// among the tool calls in this choice rather than carrying a stable id
	// on every delta.
	ToolCallChunkWire struct {
		Index    int               `json:"index"`
		ID       string            `json:"id,omitempty"`
		Type     string            `json:"type,omitempty"`
		Function *FunctionCallWire `json:"function,omitempty"`
	}
)

// StreamTranslator re-shapes model-layer stream chunks into OpenAI
// chat.completion.chunk events for a single in-flight response, tracking
// content-block-id-to-array-index assignment across the stream the same
// way the unary collector tracks block order.
type StreamTranslator struct {
	id      string
	model   string
	created int64

	mu         sync.Mutex
	blockIndex map[string]int
	roleSent   bool
}

// NewStreamTranslator starts a translator for one streamed response. created
// is the unix timestamp stamped on every chunk, matching OpenAI's behavior
// of reporting the same "created" value across an entire stream.
func NewStreamTranslator(id, functionName, variantName string, created int64) *StreamTranslator {
	return &StreamTranslator{
		id:         id,
		model:      wireModelName(functionName, variantName),
		created:    created,
		blockIndex: map[string]int{},
	}
}

// Translate converts one provider-layer stream chunk into the
// corresponding OpenAI SSE chunk payload. The first call injects
// role:"assistant" into the delta alongside its own content, matching
// OpenAI's own streaming behavior.
func (t *StreamTranslator) Translate(chunk model.ProviderInferenceResponseChunk) ChatCompletionChunk {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := ChunkDelta{}
	if !t.roleSent {
		delta.Role = "assistant"
		t.roleSent = true
	}

	for _, c := range chunk.Content {
		if c.Text != "" {
			delta.Content += c.Text
			continue
		}
		if c.ToolCallID != "" || c.ToolCallName != "" || c.ToolCallArgDelta != "" {
			idx, ok := t.blockIndex[c.BlockID]
			if !ok {
				idx = len(t.blockIndex)
				t.blockIndex[c.BlockID] = idx
			}
			tc := ToolCallChunkWire{Index: idx}
			if c.ToolCallID != "" {
				tc.ID = c.ToolCallID
				tc.Type = "function"
			}
			if c.ToolCallName != "" || c.ToolCallArgDelta != "" {
				tc.Function = &FunctionCallWire{Name: c.ToolCallName, Arguments: c.ToolCallArgDelta}
			}
			delta.ToolCalls = append(delta.ToolCalls, tc)
		}
	}

	var finishReason *string
	if chunk.FinishReason != nil {
		s := translateFinishReason(*chunk.FinishReason)
		finishReason = &s
	}

	out := ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
	if chunk.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     chunk.Usage.InputTokens,
			CompletionTokens: chunk.Usage.OutputTokens,
			TotalTokens:      chunk.Usage.InputTokens + chunk.Usage.OutputTokens,
		}
	}
	return out
}
