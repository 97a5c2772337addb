package variant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// ChainOfThought wraps an embedded ChatCompletion's declared output schema
// in a {thought, response} envelope before the call, and unwraps the
// response's "response" field back out afterward, so callers outside this
// variant never see the thought scratch-space.
type ChainOfThought struct {
	Chat *ChatCompletion
}

// Infer runs the embedded chat-completion variant against a
// thought-wrapped schema, then unwraps the result.
func (c *ChainOfThought) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	wrapped, err := wrapThoughtSchema(params)
	if err != nil {
		return nil, fmt.Errorf("variant: chain-of-thought schema wrap: %w", err)
	}
	res, err := c.Chat.Infer(ctx, in, models, creds, wrapped)
	if err != nil {
		return nil, err
	}
	return unwrapThoughtEnvelope(res)
}

// InferStream streams the embedded chat-completion call against the
// wrapped schema and unwraps the aggregated result once the stream ends.
// The thought-wrapped JSON is only well-formed once fully assembled, so
// intermediate chunks are relayed as-is (raw wrapped-JSON fragments) and
// only the final InferenceResult is unwrapped.
func (c *ChainOfThought) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	wrapped, err := wrapThoughtSchema(params)
	if err != nil {
		return nil, fmt.Errorf("variant: chain-of-thought schema wrap: %w", err)
	}
	res, err := c.Chat.InferStream(ctx, in, models, creds, wrapped, send)
	if err != nil {
		return nil, err
	}
	return unwrapThoughtEnvelope(res)
}

// wrapThoughtSchema wraps params.OutputSchema (a JSON-schema document, or
// nil for free-form JSON) in the {thought, response} object shape.
func wrapThoughtSchema(params Params) (Params, error) {
	wrapped := params
	inner := params.OutputSchema
	if len(inner) == 0 {
		inner = json.RawMessage(`true`)
	}
	envelope := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thought":  map[string]any{"type": "string"},
			"response": json.RawMessage(inner),
		},
		"required": []string{"thought", "response"},
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return params, err
	}
	wrapped.OutputSchema = b
	if wrapped.JSONMode == "" || wrapped.JSONMode == model.JSONModeOff {
		wrapped.JSONMode = model.JSONModeOn
	}
	return wrapped, nil
}

type thoughtEnvelope struct {
	Thought  string          `json:"thought"`
	Response json.RawMessage `json:"response"`
}

// unwrapThoughtEnvelope extracts the "response" field from the model's
// {thought, response} JSON output, replacing res.Output's text block with
// just the unwrapped response. Non-text output (tool calls) passes
// through unchanged, since the envelope only applies to JSON text output.
func unwrapThoughtEnvelope(res *InferenceResult) (*InferenceResult, error) {
	for i, block := range res.Output {
		if block.Text == nil {
			continue
		}
		var env thoughtEnvelope
		if err := json.Unmarshal([]byte(*block.Text), &env); err != nil {
			return nil, fmt.Errorf("variant: chain-of-thought response did not match the {thought, response} envelope: %w", err)
		}
		response := string(env.Response)
		res.Output[i].Text = &response
	}
	return res, nil
}
