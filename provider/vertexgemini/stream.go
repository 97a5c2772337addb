package vertexgemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// streamer adapts a Vertex streamGenerateContent SSE body (alt=sse) to
// model.Streamer. Each event is a complete JSON generateContentResponse
// object (unlike Anthropic/OpenAI, Vertex does not emit partial-argument
// deltas for function calls: each streamed chunk carries a whole
// functionCall part once the model has finished producing it).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	chunks chan model.ProviderInferenceResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	first     *model.ProviderInferenceResponseChunk
	firstErr  error
	firstDone bool
}

func newStreamer(ctx context.Context, body io.ReadCloser) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		body:   body,
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
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var toolIndex int
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var wire generateContentResponse
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			s.setErr(model.NewProviderError("vertexgemini", "stream_generate_content", 0, model.ProviderErrorKindServer, err.Error(), err))
			return
		}
		if err := s.emitChunk(&wire, &toolIndex); err != nil {
			s.setErr(err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.setErr(model.NewProviderError("vertexgemini", "stream_generate_content", 0, model.ProviderErrorKindServer, err.Error(), err))
	}
}

func (s *streamer) emitChunk(wire *generateContentResponse, toolIndex *int) error {
	if len(wire.Candidates) == 0 {
		return nil
	}
	cand := wire.Candidates[0]
	for _, p := range cand.Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			if err := s.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{BlockID: "0", Text: p.Text}},
			}); err != nil {
				return err
			}
		}
		if p.FunctionCall != nil {
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := strconv.Itoa(*toolIndex)
			*toolIndex++
			if err := s.emit(model.ProviderInferenceResponseChunk{
				Content: []model.ContentBlockChunk{{
					BlockID:           id,
					ToolCallID:        id,
					ToolCallName:      p.FunctionCall.Name,
					ToolCallFinal:     true,
					ToolCallArguments: string(args),
				}},
			}); err != nil {
				return err
			}
		}
	}
	if wire.UsageMetadata.PromptTokenCount != 0 || wire.UsageMetadata.CandidatesTokenCount != 0 {
		usage := model.TokenUsage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			Reported:     true,
		}
		if err := s.emit(model.ProviderInferenceResponseChunk{Usage: &usage}); err != nil {
			return err
		}
	}
	if cand.FinishReason != "" {
		reason := mapFinishReason(cand.FinishReason, len(cand.functionCalls()) > 0)
		if err := s.emit(model.ProviderInferenceResponseChunk{FinishReason: &reason}); err != nil {
			return err
		}
	}
	return nil
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
