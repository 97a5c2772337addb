package variant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/streamcollector"
)

// MixtureOfN runs Candidates concurrently like BestOfN, but instead of a
// judge selecting one winner, a Fuser consolidates every successful
// candidate's output into a single response. With a single successful
// candidate (or no Fuser) that candidate's output is used directly; on
// fuser failure it falls back to a uniformly-random successful candidate's
// own output.
type MixtureOfN struct {
	Name string

	Candidates []Strategy

	// Fuser receives every successful candidate's output as RawText
	// content blocks and produces the consolidated final output.
	Fuser Strategy

	CandidateTimeout time.Duration
	MaxWorkers       int
}

func (m *MixtureOfN) runner() *BestOfN {
	return &BestOfN{Name: m.Name, Candidates: m.Candidates, CandidateTimeout: m.CandidateTimeout, MaxWorkers: m.MaxWorkers}
}

// Infer runs every candidate, then fuses.
func (m *MixtureOfN) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	outcomes := m.runner().runCandidates(ctx, in, models, creds, params)
	return m.fuseAndMerge(ctx, in, models, creds, params, outcomes, nil)
}

// InferStream runs every candidate unary, fuses, and replays the fused
// output as a synthetic stream (or relays the chosen fallback candidate's
// output the same way) since fusion itself is not incremental.
func (m *MixtureOfN) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	outcomes := m.runner().runCandidates(ctx, in, models, creds, params)
	return m.fuseAndMerge(ctx, in, models, creds, params, outcomes, send)
}

func (m *MixtureOfN) fuseAndMerge(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, outcomes []candidateOutcome, send Sender) (*InferenceResult, error) {
	var succeeded []candidateOutcome
	for _, o := range outcomes {
		if o.err == nil && o.result != nil {
			succeeded = append(succeeded, o)
		}
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("variant %q: all %d candidates failed", m.Name, len(outcomes))
	}

	var fused *InferenceResult
	switch {
	case len(succeeded) == 1 || m.Fuser == nil:
		fused = succeeded[0].result
	default:
		fuserInput := buildFuserInput(in, succeeded)
		res, err := m.Fuser.Infer(ctx, fuserInput, models, creds, params)
		if err != nil {
			fused = randomCandidate(succeeded).result
		} else {
			fused = res
		}
	}

	final := *fused
	final.VariantName = m.Name
	final.ModelInferenceResults = mergeModelInferenceResults(outcomes)

	if send != nil {
		st := streamcollector.SyntheticStream(&model.ProviderInferenceResponse{
			Output:       final.Output,
			Usage:        final.Usage,
			FinishReason: final.FinishReason,
		})
		if err := relay(ctx, st, send); err != nil {
			return nil, err
		}
	}
	return &final, nil
}

func buildFuserInput(in *Input, succeeded []candidateOutcome) *Input {
	fuserInput := &Input{System: in.System, Messages: append([]Message{}, in.Messages...)}
	blocks := make([]ContentBlock, 0, len(succeeded))
	for i, o := range succeeded {
		var b strings.Builder
		fmt.Fprintf(&b, "candidate %d:\n%s", i, candidateText(o.result))
		blocks = append(blocks, RawText{Text: b.String()})
	}
	fuserInput.Messages = append(fuserInput.Messages, Message{Role: RoleUser, Content: blocks})
	return fuserInput
}

// relay drains st, forwarding every chunk to send, stopping cleanly on EOF.
func relay(ctx context.Context, st model.Streamer, send Sender) error {
	for {
		chunk, err := st.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
}
