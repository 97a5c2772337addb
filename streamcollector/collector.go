// Package streamcollector implements the streaming chunk collector (C5):
// it re-emits provider chunks to a caller-supplied sender while buffering
// a materialized copy, then assembles an aggregate result equivalent to a
// unary ProviderInferenceResponse once the upstream stream ends.
package streamcollector

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// Sender receives each chunk as it is collected, in arrival order.
// Returning an error aborts collection; Collect returns that error.
type Sender func(model.ProviderInferenceResponseChunk) error

type blockAccumulator struct {
	order int
	text  strings.Builder

	isToolCall   bool
	toolCallID   string
	toolCallName string
	toolArgs     strings.Builder
}

// Collect drains st, forwarding every chunk to send (when non-nil) before
// folding it into the aggregate, and returns a ProviderInferenceResponse
// equivalent in shape to a unary call once the stream ends cleanly (io.EOF).
//
// Text chunks are concatenated per BlockID into a single output Text
// block; tool-call argument deltas are merged per BlockID into a single
// ToolCall block. Usage is summed across chunks reporting usage; if no
// chunk reported usage, a synthetic zero (Reported=false) is returned so
// callers can distinguish "zero" from "provider never told us".
func Collect(ctx context.Context, st model.Streamer, send Sender) (*model.ProviderInferenceResponse, error) {
	blocks := make(map[string]*blockAccumulator)
	var order []string

	var usage model.TokenUsage
	usageReported := false
	finishReason := model.FinishReasonUnknown
	finishSeen := false

	for {
		chunk, err := st.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if send != nil {
			if err := send(chunk); err != nil {
				return nil, err
			}
		}

		for _, c := range chunk.Content {
			acc, ok := blocks[c.BlockID]
			if !ok {
				acc = &blockAccumulator{order: len(order)}
				blocks[c.BlockID] = acc
				order = append(order, c.BlockID)
			}
			if c.Text != "" {
				acc.text.WriteString(c.Text)
			}
			if c.ToolCallID != "" || c.ToolCallName != "" || c.ToolCallArgDelta != "" || c.ToolCallFinal {
				acc.isToolCall = true
				if c.ToolCallID != "" {
					acc.toolCallID = c.ToolCallID
				}
				if c.ToolCallName != "" {
					acc.toolCallName = c.ToolCallName
				}
				if c.ToolCallArguments != "" {
					acc.toolArgs.Reset()
					acc.toolArgs.WriteString(c.ToolCallArguments)
				} else if c.ToolCallArgDelta != "" {
					acc.toolArgs.WriteString(c.ToolCallArgDelta)
				}
			}
		}

		if chunk.Usage != nil {
			usage.InputTokens += chunk.Usage.InputTokens
			usage.OutputTokens += chunk.Usage.OutputTokens
			if chunk.Usage.Reported {
				usageReported = true
			}
		}
		if chunk.FinishReason != nil {
			finishReason = *chunk.FinishReason
			finishSeen = true
		}
	}

	sort.Slice(order, func(i, j int) bool { return blocks[order[i]].order < blocks[order[j]].order })

	output := make([]model.ContentBlockOutput, 0, len(order))
	for _, id := range order {
		acc := blocks[id]
		if acc.isToolCall {
			args := acc.toolArgs.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			output = append(output, model.ContentBlockOutput{
				ToolCall: &model.ToolCallPart{ID: acc.toolCallID, Name: acc.toolCallName, Arguments: args},
			})
			continue
		}
		text := acc.text.String()
		if text == "" {
			continue
		}
		output = append(output, model.ContentBlockOutput{Text: &text})
	}

	if !finishSeen {
		finishReason = model.FinishReasonUnknown
	}

	usage.Reported = usageReported
	return &model.ProviderInferenceResponse{
		Output:       output,
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

// syntheticStreamer turns a unary ProviderInferenceResponse into a
// one-shot model.Streamer: each content block becomes a single chunk with
// a stable id, usage is attached to the first chunk, and finish_reason is
// carried through on the final chunk. Used by variants that must present
// a streaming interface over a result computed unary (mixture-of-n's
// fused or fallback result).
type syntheticStreamer struct {
	chunks []model.ProviderInferenceResponseChunk
	pos    int
}

// SyntheticStream builds a model.Streamer that replays resp as a sequence
// of chunks, per "Synthetic stream from unary" (§4.5).
func SyntheticStream(resp *model.ProviderInferenceResponse) model.Streamer {
	chunks := make([]model.ProviderInferenceResponseChunk, 0, len(resp.Output)+1)
	for i, block := range resp.Output {
		id := strconv.Itoa(i)
		c := model.ProviderInferenceResponseChunk{}
		switch {
		case block.Text != nil:
			c.Content = []model.ContentBlockChunk{{BlockID: id, Text: *block.Text}}
		case block.ToolCall != nil:
			c.Content = []model.ContentBlockChunk{{
				BlockID:           id,
				ToolCallID:        block.ToolCall.ID,
				ToolCallName:      block.ToolCall.Name,
				ToolCallFinal:     true,
				ToolCallArguments: block.ToolCall.Arguments,
			}}
		}
		if i == 0 {
			usage := resp.Usage
			c.Usage = &usage
		}
		chunks = append(chunks, c)
	}
	finish := resp.FinishReason
	final := model.ProviderInferenceResponseChunk{FinishReason: &finish}
	if len(resp.Output) == 0 {
		usage := resp.Usage
		final.Usage = &usage
	}
	chunks = append(chunks, final)
	return &syntheticStreamer{chunks: chunks}
}

func (s *syntheticStreamer) Next(context.Context) (model.ProviderInferenceResponseChunk, error) {
	if s.pos >= len(s.chunks) {
		return model.ProviderInferenceResponseChunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *syntheticStreamer) Close() error { return nil }
