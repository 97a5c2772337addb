package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// streamer adapts an OpenAI Chat Completions SSE stream to model.Streamer,
// merging streamed tool-call argument fragments by index the way
// openai.ChatCompletionAccumulator does internally.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan model.ProviderInferenceResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	first     *model.ProviderInferenceResponseChunk
	firstErr  error
	firstDone bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.ProviderInferenceResponseChunk, 32),
	}
	go s.run()
	return s
}

// peekFirst blocks until the first chunk (or a terminal error) is available,
// so InferStream returns any immediate failure instead of handing back a
// streamer that fails on its first Next call.
func (s *streamer) peekFirst() error {
	chunk, err := s.next(s.ctx)
	s.first = &chunk
	s.firstErr = err
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Next returns the next chunk, first draining the one buffered by peekFirst.
func (s *streamer) Next(ctx context.Context) (model.ProviderInferenceResponseChunk, error) {
	if !s.firstDone {
		s.firstDone = true
		if s.first != nil {
			return *s.first, s.firstErr
		}
	}
	return s.next(ctx)
}

func (s *streamer) next(ctx context.Context) (model.ProviderInferenceResponseChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.ProviderInferenceResponseChunk{}, err
		}
		return model.ProviderInferenceResponseChunk{}, io.EOF
	case <-ctx.Done():
		return model.ProviderInferenceResponseChunk{}, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	proc := newChunkProcessor(s.emit)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(classifyError("openai", "chat.completions.new_streaming", err))
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		chunk := s.stream.Current()
		if err := proc.Handle(chunk); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(chunk model.ProviderInferenceResponseChunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet || err == nil {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts ChatCompletionChunk deltas into
// model.ProviderInferenceResponseChunk values, tracking one toolBuffer per
// tool-call index the way ChatCompletionAccumulator does internally, since
// some OpenAI-compatible gateways emit arguments incrementally while others
// emit the full JSON object in a single delta.
type chunkProcessor struct {
	emit func(model.ProviderInferenceResponseChunk) error

	toolBuffers   map[int64]*toolBuffer
	finishedIndex map[int64]bool
}

func newChunkProcessor(emit func(model.ProviderInferenceResponseChunk) error) *chunkProcessor {
	return &chunkProcessor{
		emit:          emit,
		toolBuffers:   make(map[int64]*toolBuffer),
		finishedIndex: make(map[int64]bool),
	}
}

type toolBuffer struct {
	id, name string
	args     string
}

func (p *chunkProcessor) Handle(chunk sdk.ChatCompletionChunk) error {
	if len(chunk.Choices) == 0 {
		return p.handleUsage(chunk)
	}
	choice := chunk.Choices[0]

	if strings.TrimSpace(choice.Delta.Content) != "" {
		if err := p.emit(model.ProviderInferenceResponseChunk{
			Content: []model.ContentBlockChunk{{BlockID: "0", Text: choice.Delta.Content}},
		}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := tc.Index
		tb := p.toolBuffers[idx]
		if tb == nil {
			tb = &toolBuffer{id: tc.ID, name: tc.Function.Name}
			p.toolBuffers[idx] = tb
			if err := p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:      fmt.Sprintf("%d", idx),
					ToolCallID:   tb.id,
					ToolCallName: tb.name,
				}},
			}); err != nil {
				return err
			}
		}
		if tc.ID != "" {
			tb.id = tc.ID
		}
		if tc.Function.Name != "" {
			tb.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			tb.args += tc.Function.Arguments
			if err := p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:          fmt.Sprintf("%d", idx),
					ToolCallID:       tb.id,
					ToolCallName:     tb.name,
					ToolCallArgDelta: tc.Function.Arguments,
				}},
			}); err != nil {
				return err
			}
		}
	}

	if choice.FinishReason != "" {
		for idx, tb := range p.toolBuffers {
			if p.finishedIndex[idx] {
				continue
			}
			p.finishedIndex[idx] = true
			args := tb.args
			if args == "" {
				args = "{}"
			}
			if err := p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:           fmt.Sprintf("%d", idx),
					ToolCallID:        tb.id,
					ToolCallName:      tb.name,
					ToolCallFinal:     true,
					ToolCallArguments: args,
				}},
			}); err != nil {
				return err
			}
		}
		reason := mapFinishReason(string(choice.FinishReason))
		return p.emit(model.ProviderInferenceResponseChunk{FinishReason: &reason})
	}
	return p.handleUsage(chunk)
}

func (p *chunkProcessor) handleUsage(chunk sdk.ChatCompletionChunk) error {
	if chunk.Usage.PromptTokens == 0 && chunk.Usage.CompletionTokens == 0 {
		return nil
	}
	usage := model.TokenUsage{
		InputTokens:  int(chunk.Usage.PromptTokens),
		OutputTokens: int(chunk.Usage.CompletionTokens),
		Reported:     true,
	}
	return p.emit(model.ProviderInferenceResponseChunk{Usage: &usage})
}
