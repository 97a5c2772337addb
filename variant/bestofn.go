package variant

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// BestOfN runs Candidates concurrently (bounded by a worker pool), hands
// every successful candidate's output to Judge, and returns the judge's
// pick. If the judge fails (or is unset, or returns an unusable index),
// BestOfN falls back to a uniformly-random successful candidate; if no
// candidate succeeded at all, it returns an error.
type BestOfN struct {
	Name string

	// Candidates are the sub-variants evaluated concurrently. Each is run
	// with its own cache-key scope (see candidateParams) so identical
	// candidates at different indices don't collide in an upstream cache.
	Candidates []Strategy

	// Judge receives the candidates' outputs as RawText content blocks (in
	// candidate order) and must respond with RawText containing the
	// 0-based index of the chosen candidate.
	Judge Strategy

	// CandidateTimeout bounds each individual candidate call. Zero means
	// no per-candidate timeout beyond the caller's context.
	CandidateTimeout time.Duration

	// MaxWorkers bounds concurrent candidate calls; zero means one worker
	// per candidate (all concurrent).
	MaxWorkers int
}

type candidateOutcome struct {
	index  int
	result *InferenceResult
	err    error
}

// Infer runs every candidate, then the judge.
func (b *BestOfN) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	outcomes := b.runCandidates(ctx, in, models, creds, params)
	return b.chooseAndMerge(ctx, in, models, creds, params, outcomes, nil)
}

// InferStream runs every candidate (unary, since only the final selection
// streams), then streams the chosen candidate's content via a synthetic
// stream built from its already-computed result.
func (b *BestOfN) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	outcomes := b.runCandidates(ctx, in, models, creds, params)
	return b.chooseAndMerge(ctx, in, models, creds, params, outcomes, send)
}

// runCandidates drives every candidate concurrently via a semaphore-bounded
// worker pool, collecting results in original order.
func (b *BestOfN) runCandidates(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) []candidateOutcome {
	n := len(b.Candidates)
	maxWorkers := b.MaxWorkers
	if maxWorkers <= 0 || maxWorkers > n {
		maxWorkers = n
	}

	sem := make(chan struct{}, maxWorkers)
	results := make(chan candidateOutcome, n)
	var wg sync.WaitGroup

	for i, candidate := range b.Candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, cand Strategy) {
			defer wg.Done()
			defer func() { <-sem }()

			callCtx := ctx
			var cancel context.CancelFunc
			if b.CandidateTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, b.CandidateTimeout)
				defer cancel()
			}

			res, err := cand.Infer(callCtx, in, models, creds, candidateParams(params, index))
			results <- candidateOutcome{index: index, result: res, err: err}
		}(i, candidate)
	}

	wg.Wait()
	close(results)

	ordered := make([]candidateOutcome, n)
	for r := range results {
		ordered[r.index] = r
	}
	return ordered
}

// candidateParams scopes a candidate's cache key by its index so that
// identical candidate configurations at different positions in Candidates
// don't collide in a downstream inference cache, while distinct
// best-of-n/mixture-of-n callers sharing the same candidate sequence still
// share cache entries for matching (candidate, index) pairs.
func candidateParams(base Params, index int) Params {
	scoped := base
	scoped.ExtraCacheKey = fmt.Sprintf("%s|candidate=%d", base.ExtraCacheKey, index)
	return scoped
}

func (b *BestOfN) chooseAndMerge(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, outcomes []candidateOutcome, send Sender) (*InferenceResult, error) {
	var succeeded []candidateOutcome
	for _, o := range outcomes {
		if o.err == nil && o.result != nil {
			succeeded = append(succeeded, o)
		}
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("variant %q: all %d candidates failed", b.Name, len(outcomes))
	}

	chosen := b.judgeOrFallback(ctx, in, models, creds, params, succeeded)

	final := *chosen.result
	final.VariantName = b.Name
	final.ModelInferenceResults = mergeModelInferenceResults(outcomes)

	if send != nil {
		if err := replayOutput(final.Output, send); err != nil {
			return nil, err
		}
	}
	return &final, nil
}

// judgeOrFallback asks Judge to pick among succeeded; on any judge failure
// (error, malformed response, or Judge unset) it falls back to a uniformly
// random successful candidate.
func (b *BestOfN) judgeOrFallback(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, succeeded []candidateOutcome) candidateOutcome {
	if b.Judge == nil {
		return randomCandidate(succeeded)
	}

	judgeInput := buildJudgeInput(in, succeeded)
	judgeRes, err := b.Judge.Infer(ctx, judgeInput, models, creds, params)
	if err != nil {
		return randomCandidate(succeeded)
	}

	idx, ok := parseJudgeChoice(judgeRes, len(succeeded))
	if !ok {
		return randomCandidate(succeeded)
	}
	return succeeded[idx]
}

// randomCandidate selects uniformly at random among succeeded, mirroring
// the provider-fallback random-selection idiom used elsewhere in the pack
// for "pick one of several equally-valid options" situations.
func randomCandidate(succeeded []candidateOutcome) candidateOutcome {
	return succeeded[rand.Intn(len(succeeded))]
}

func buildJudgeInput(in *Input, succeeded []candidateOutcome) *Input {
	judgeInput := &Input{System: in.System, Messages: append([]Message{}, in.Messages...)}
	blocks := make([]ContentBlock, 0, len(succeeded))
	for _, o := range succeeded {
		blocks = append(blocks, RawText{Text: candidateText(o.result)})
	}
	judgeInput.Messages = append(judgeInput.Messages, Message{Role: RoleUser, Content: blocks})
	return judgeInput
}

func candidateText(res *InferenceResult) string {
	for _, block := range res.Output {
		if block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

func parseJudgeChoice(res *InferenceResult, n int) (int, bool) {
	for _, block := range res.Output {
		if block.Text == nil {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(*block.Text, "%d", &idx); err == nil && idx >= 0 && idx < n {
			return idx, true
		}
	}
	return 0, false
}

func mergeModelInferenceResults(outcomes []candidateOutcome) []ModelInferenceRecord {
	var merged []ModelInferenceRecord
	for _, o := range outcomes {
		if o.result == nil {
			continue
		}
		merged = append(merged, o.result.ModelInferenceResults...)
	}
	return merged
}

func replayOutput(output []model.ContentBlockOutput, send Sender) error {
	for i, block := range output {
		chunk := model.ProviderInferenceResponseChunk{}
		switch {
		case block.Text != nil:
			chunk.Content = []model.ContentBlockChunk{{BlockID: fmt.Sprintf("%d", i), Text: *block.Text}}
		case block.ToolCall != nil:
			chunk.Content = []model.ContentBlockChunk{{
				BlockID:           fmt.Sprintf("%d", i),
				ToolCallID:        block.ToolCall.ID,
				ToolCallName:      block.ToolCall.Name,
				ToolCallFinal:     true,
				ToolCallArguments: block.ToolCall.Arguments,
			}}
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
	return nil
}
