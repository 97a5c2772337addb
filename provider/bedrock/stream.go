package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// streamer adapts a Bedrock ConverseStream event stream to model.Streamer,
// translating each event into zero or more model.ProviderInferenceResponseChunk
// values and merging partial tool-call JSON fragments per content-block index.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan model.ProviderInferenceResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	toolNameMap map[string]string

	first     *model.ProviderInferenceResponseChunk
	firstErr  error
	firstDone bool
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *streamer {
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
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(classifyError("bedrock", "converse_stream", err))
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				}
				return
			}
			if err := proc.Handle(event); err != nil {
				s.setErr(err)
				return
			}
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

// chunkProcessor converts Bedrock ConverseStream events into
// model.ProviderInferenceResponseChunk values, merging partial tool-call
// JSON by content-block index.
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

func (p *chunkProcessor) Handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		if start.Value.ToolUseId == nil || *start.Value.ToolUseId == "" {
			return fmt.Errorf("bedrock stream: tool use block missing tool_use_id")
		}
		if start.Value.Name == nil || *start.Value.Name == "" {
			return fmt.Errorf("bedrock stream: tool use block %q missing name", *start.Value.ToolUseId)
		}
		raw := *start.Value.Name
		name := raw
		if canonical, ok := p.toolNameMap[raw]; ok {
			name = canonical
		}
		tb := &toolBuffer{id: *start.Value.ToolUseId, name: name}
		p.toolBlocks[idx] = tb
		return p.emit(model.ProviderInferenceResponseChunk{
			Content: []model.ContentBlockChunk{{
				BlockID:      fmt.Sprintf("%d", idx),
				ToolCallID:   tb.id,
				ToolCallName: tb.name,
			}},
		})

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{BlockID: fmt.Sprintf("%d", idx), Text: delta.Value}},
			})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return p.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:          fmt.Sprintf("%d", idx),
					ToolCallID:       tb.id,
					ToolCallName:     tb.name,
					ToolCallArgDelta: fragment,
				}},
			})
		default:
			return nil
		}

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
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

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.toolBlocks = make(map[int]*toolBuffer)
		reason := mapStopReason(ev.Value.StopReason)
		return p.emit(model.ProviderInferenceResponseChunk{FinishReason: &reason})

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		usage := model.TokenUsage{
			InputTokens:  int(ptrValue(ev.Value.Usage.InputTokens)),
			OutputTokens: int(ptrValue(ev.Value.Usage.OutputTokens)),
			Reported:     true,
		}
		return p.emit(model.ProviderInferenceResponseChunk{Usage: &usage})
	}
	return nil
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock stream: content block index missing")
	}
	return int(*idx), nil
}
