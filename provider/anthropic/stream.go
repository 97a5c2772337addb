package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.Streamer,
// translating each event into zero or more model.ProviderInferenceResponseChunk
// values and merging partial tool-call JSON fragments per content-block index.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.ProviderInferenceResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	toolNameMap map[string]string

	first     *model.ProviderInferenceResponseChunk
	firstErr  error
	firstDone bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.ProviderInferenceResponseChunk, 32),
		toolNameMap: nameMap,
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

	proc := newChunkProcessor(s.emit, s.toolNameMap)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(classifyError("anthropic", "messages.new_streaming", err))
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		event := s.stream.Current()
		if err := proc.Handle(event); err != nil {
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

// chunkProcessor converts Anthropic SSE events into
// model.ProviderInferenceResponseChunk values, merging partial tool-call JSON
// by content-block index.
type chunkProcessor struct {
	emit        func(model.ProviderInferenceResponseChunk) error
	toolNameMap map[string]string

	toolBlocks map[int]*toolBuffer
	stopReason string
}

func newChunkProcessor(emit func(model.ProviderInferenceResponseChunk) error, nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{
		emit:        emit,
		toolNameMap: nameMap,
		toolBlocks:  make(map[int]*toolBuffer),
	}
}

type toolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *toolBuffer) finalArguments() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func (p *chunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		return nil

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return fmt.Errorf("anthropic stream: tool use block missing id")
			}
			name := toolUse.Name
			if canonical, ok := p.toolNameMap[name]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: name}
			return p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:      fmt.Sprintf("%d", idx),
					ToolCallID:   toolUse.ID,
					ToolCallName: name,
				}},
			})
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID: fmt.Sprintf("%d", idx),
					Text:    delta.Text,
				}},
			})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:          fmt.Sprintf("%d", idx),
					ToolCallID:       tb.id,
					ToolCallName:     tb.name,
					ToolCallArgDelta: delta.PartialJSON,
				}},
			})
		default:
			return nil
		}

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, idx)
		return p.emit(model.ProviderInferenceResponseChunk{
			Content: []model.ContentBlockChunk{{
				BlockID:           fmt.Sprintf("%d", idx),
				ToolCallID:        tb.id,
				ToolCallName:      tb.name,
				ToolCallFinal:     true,
				ToolCallArguments: tb.finalArguments(),
			}},
		})

	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := model.TokenUsage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			Reported:     ev.Usage.InputTokens != 0 || ev.Usage.OutputTokens != 0,
		}
		return p.emit(model.ProviderInferenceResponseChunk{Usage: &usage})

	case sdk.MessageStopEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		reason := mapStopReason(p.stopReason)
		return p.emit(model.ProviderInferenceResponseChunk{FinishReason: &reason})
	}
	return nil
}
