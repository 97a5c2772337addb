// Package eventstore defines the persistence boundary for completed
// inferences: one ModelInference row per provider call plus one
// ChatInference/JsonInference row per top-level inference, as described by
// the gateway's external-interfaces "Persisted state" contract. Package
// eventstore/mongostore is the production implementation; this package also
// exposes an in-memory Store for tests.
package eventstore

import (
	"context"
	"time"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type (
	// ModelInferenceRow is one raw provider call, persisted for
	// observability independent of which variant/function it served.
	ModelInferenceRow struct {
		ID           string
		InferenceID  string
		ModelName    string
		ProviderName string
		RawRequest   string
		RawResponse  string
		Usage        model.TokenUsage
		LatencyMS    int64
		CreatedAt    time.Time
	}

	// InferenceRow is one top-level inference result: either a chat
	// function's free-form output or a JSON function's schema-constrained
	// output, distinguished by FunctionType.
	InferenceRow struct {
		InferenceID  string
		EpisodeID    string
		FunctionName string
		VariantName  string
		FunctionType model.FunctionType

		// Input is the fully resolved input (after lazy file references
		// have been fetched), serialized for storage.
		Input string

		// Output is the final output: for chat functions, the serialized
		// content blocks; for JSON functions, {"raw": "...", "parsed":
		// {...}}.
		Output string

		ToolParams      string
		InferenceParams string

		ProcessingTimeMS int64

		// TTFTMS is nil for unary responses; set for streamed responses.
		TTFTMS *int64

		Tags map[string]string

		// Usage is the wire-reported usage: zero when every underlying
		// provider call was served from cache, even though the
		// corresponding ModelInferenceRows carry the true billed usage.
		Usage model.TokenUsage

		Dryrun bool

		CreatedAt time.Time
	}

	// Store is the persistence boundary the orchestrator's detached
	// write-back task depends on.
	Store interface {
		WriteModelInference(ctx context.Context, row *ModelInferenceRow) error
		WriteInference(ctx context.Context, row *InferenceRow) error
	}
)
