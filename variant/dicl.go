package variant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// Embedder is the single interface DICL needs from an embedding model:
// turn a text into a vector. The embedding-model lookup/registry that
// decides which embedder to use for a given variant is out of scope for
// this module; a caller wires a concrete Embedder in when configuring a
// DICL variant.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ExemplarStore is the single interface DICL needs from the event store:
// k-nearest-neighbor lookup by vector. The event store's broader schema
// and persistence responsibilities live in package eventstore; DICL only
// depends on this narrow read path.
type ExemplarStore interface {
	NearestExemplars(ctx context.Context, functionName string, vector []float32, k int) ([]Exemplar, error)
}

// Exemplar is one retrieved past episode: the input that was seen and the
// output that was produced for it, prepended verbatim to the prompt as
// additional in-context examples.
type Exemplar struct {
	Input  string
	Output string
}

// DICL fetches k nearest-neighbor exemplars for the current input by
// embedding it, prepends them to the prompt as RawText context, then
// defers entirely to an embedded ChatCompletion for the actual call.
type DICL struct {
	Chat *ChatCompletion

	Embedder      Embedder
	ExemplarStore ExemplarStore
	K             int

	// FunctionName scopes the exemplar lookup to episodes from the same
	// function, since exemplars from an unrelated function are not
	// relevant in-context examples.
	FunctionName string
}

func (d *DICL) k() int {
	if d.K <= 0 {
		return 3
	}
	return d.K
}

// Infer prepends retrieved exemplars to in.Messages, then runs the
// embedded chat-completion variant unchanged.
func (d *DICL) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	augmented, err := d.augment(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("variant: dicl exemplar lookup: %w", err)
	}
	return d.Chat.Infer(ctx, augmented, models, creds, params)
}

// InferStream prepends exemplars the same way, then streams via the
// embedded chat-completion variant (the only variant that natively
// streams).
func (d *DICL) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	augmented, err := d.augment(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("variant: dicl exemplar lookup: %w", err)
	}
	return d.Chat.InferStream(ctx, augmented, models, creds, params, send)
}

func (d *DICL) augment(ctx context.Context, in *Input) (*Input, error) {
	if d.Embedder == nil || d.ExemplarStore == nil {
		return in, nil
	}

	query := inputText(in)
	vector, err := d.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	exemplars, err := d.ExemplarStore.NearestExemplars(ctx, d.FunctionName, vector, d.k())
	if err != nil {
		return nil, err
	}
	if len(exemplars) == 0 {
		return in, nil
	}

	prefix := make([]Message, 0, len(exemplars)*2)
	for _, ex := range exemplars {
		prefix = append(prefix,
			Message{Role: RoleUser, Content: []ContentBlock{RawText{Text: ex.Input}}},
			Message{Role: RoleAssistant, Content: []ContentBlock{RawText{Text: ex.Output}}},
		)
	}

	return &Input{System: in.System, Messages: append(prefix, in.Messages...)}, nil
}

// inputText renders the most recent user message's text content, the
// natural query for a nearest-neighbor lookup over past episodes.
func inputText(in *Input) string {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		m := in.Messages[i]
		if m.Role != RoleUser {
			continue
		}
		for _, block := range m.Content {
			switch v := block.(type) {
			case Text:
				return v.Text
			case RawText:
				return v.Text
			}
		}
	}
	if len(in.System) > 0 {
		var s string
		if err := json.Unmarshal(in.System, &s); err == nil {
			return s
		}
	}
	return ""
}
